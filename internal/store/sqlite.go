package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/decision"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/logging"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/memory"
	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	iteration      INTEGER NOT NULL DEFAULT 0,
	last_decision  TEXT NOT NULL DEFAULT '',
	blocked_reason TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	seq            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_edges (
	depends_on TEXT NOT NULL REFERENCES tasks(id),
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	PRIMARY KEY (depends_on, task_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	id                    TEXT PRIMARY KEY,
	task_id               TEXT NOT NULL,
	iteration             INTEGER NOT NULL,
	outcome               TEXT NOT NULL,
	quality               REAL NOT NULL,
	confidence            REAL NOT NULL,
	retry_count           INTEGER NOT NULL,
	issues                TEXT NOT NULL DEFAULT '[]',
	reason                TEXT NOT NULL DEFAULT '',
	warned                INTEGER NOT NULL DEFAULT 0,
	counts_against_budget INTEGER NOT NULL DEFAULT 1,
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_task ON decisions(task_id, created_at);

CREATE TABLE IF NOT EXISTS episodic_docs (
	kind       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	content    TEXT NOT NULL,
	tokens     INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, version)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	trigger_reason TEXT NOT NULL,
	tokens_used    INTEGER NOT NULL,
	refs           TEXT NOT NULL DEFAULT '[]',
	resume         TEXT NOT NULL DEFAULT '{}'
);
`

// SQLiteStore persists through a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// OpenSQLite opens (creating if needed) the database at path and
// applies the schema.
func OpenSQLite(path string, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, priority, status, iteration,
			last_decision, blocked_reason, created_at, updated_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			iteration = excluded.iteration,
			last_decision = excluded.last_decision,
			blocked_reason = excluded.blocked_reason,
			updated_at = excluded.updated_at`,
		task.ID, task.Title, task.Description, task.Priority, string(task.Status),
		task.Iteration, task.LastDecision, task.BlockedReason,
		task.CreatedAt.UTC().Format(time.RFC3339Nano),
		task.UpdatedAt.UTC().Format(time.RFC3339Nano),
		task.Seq())
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveEdge(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_edges (depends_on, task_id) VALUES (?, ?)`, from, to)
	if err != nil {
		return fmt.Errorf("saving edge %s->%s: %w", from, to, err)
	}
	return nil
}

func (s *SQLiteStore) AppendDecision(ctx context.Context, d *decision.Decision) error {
	issues, err := json.Marshal(d.Issues)
	if err != nil {
		return fmt.Errorf("encoding issues: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, task_id, iteration, outcome, quality, confidence,
			retry_count, issues, reason, warned, counts_against_budget, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.Iteration, string(d.Outcome), d.Quality, d.Confidence,
		d.RetryCount, string(issues), d.Reason, boolInt(d.Warned),
		boolInt(d.CountsAgainstBudget),
		d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending decision %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveEpisodic(ctx context.Context, doc *memory.EpisodicDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodic_docs (kind, version, content, tokens, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(doc.Kind), doc.Version, doc.Content, doc.Tokens,
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving episodic %s v%d: %w", doc.Kind, doc.Version, err)
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *memory.Checkpoint) error {
	refs, err := json.Marshal(cp.References)
	if err != nil {
		return fmt.Errorf("encoding references: %w", err)
	}
	resume, err := json.Marshal(cp.Resume)
	if err != nil {
		return fmt.Errorf("encoding resume hints: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, created_at, trigger_reason, tokens_used, refs, resume)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.CreatedAt.UTC().Format(time.RFC3339Nano), string(cp.Trigger),
		cp.TokensUsed, string(refs), string(resume))
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Tasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority, status, iteration,
			last_decision, blocked_reason, created_at, updated_at
		FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		var t scheduler.Task
		var status, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Priority, &status,
			&t.Iteration, &t.LastDecision, &t.BlockedReason, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.Status = scheduler.Status(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	edges, err := s.db.QueryContext(ctx, `SELECT depends_on, task_id FROM task_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer edges.Close()

	deps := make(map[string][]string)
	for edges.Next() {
		var from, to string
		if err := edges.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		deps[to] = append(deps[to], from)
	}
	if err := edges.Err(); err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	for _, t := range tasks {
		t.DependsOn = deps[t.ID]
	}
	return tasks, nil
}

func (s *SQLiteStore) Decisions(ctx context.Context, taskID string) ([]*decision.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, iteration, outcome, quality, confidence, retry_count,
			issues, reason, warned, counts_against_budget, created_at
		FROM decisions WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing decisions for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*decision.Decision
	for rows.Next() {
		var d decision.Decision
		var outcome, issues, createdAt string
		var warned, counts int
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Iteration, &outcome, &d.Quality,
			&d.Confidence, &d.RetryCount, &issues, &d.Reason, &warned, &counts, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.Outcome = decision.Outcome(outcome)
		d.Warned = warned != 0
		d.CountsAgainstBudget = counts != 0
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if err := json.Unmarshal([]byte(issues), &d.Issues); err != nil {
			return nil, fmt.Errorf("decoding issues for decision %s: %w", d.ID, err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context) (*memory.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, trigger_reason, tokens_used, refs, resume
		FROM checkpoints ORDER BY created_at DESC LIMIT 1`)

	var cp memory.Checkpoint
	var trigger, createdAt, refs, resume string
	err := row.Scan(&cp.ID, &createdAt, &trigger, &cp.TokensUsed, &refs, &resume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest checkpoint: %w", err)
	}
	cp.Trigger = memory.Trigger(trigger)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if err := json.Unmarshal([]byte(refs), &cp.References); err != nil {
		return nil, fmt.Errorf("decoding checkpoint references: %w", err)
	}
	if err := json.Unmarshal([]byte(resume), &cp.Resume); err != nil {
		return nil, fmt.Errorf("decoding checkpoint resume hints: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
