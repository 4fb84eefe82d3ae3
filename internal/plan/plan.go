// Package plan loads declarative work-plan files and feeds them into
// the scheduler.
package plan

import (
	"context"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Omar-Unpossible/claude-code-orchestrator-sub009/internal/scheduler"
)

// maxPlanSize caps plan files at 1MB.
const maxPlanSize = 1 << 20

// TaskSpec is one task entry in a plan file.
type TaskSpec struct {
	ID          string   `koanf:"id"`
	Title       string   `koanf:"title"`
	Description string   `koanf:"description"`
	Priority    int      `koanf:"priority"`
	DependsOn   []string `koanf:"depends_on"`
}

// Plan is a parsed work plan.
type Plan struct {
	Tasks []TaskSpec `koanf:"tasks"`
}

// Load reads and validates a YAML plan file.
func Load(path string) (*Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if info.Size() > maxPlanSize {
		return nil, fmt.Errorf("plan file %s exceeds %d bytes", path, maxPlanSize)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	var p Plan
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks task IDs and dependency references.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan contains no tasks")
	}
	ids := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return nil
}

// Apply registers every task with the graph. Tasks are inserted in
// dependency order regardless of file order; cycles surface as an
// error once no insertable task remains.
func (p *Plan) Apply(ctx context.Context, g *scheduler.Graph) error {
	pending := make(map[string]TaskSpec, len(p.Tasks))
	order := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		pending[t.ID] = t
		order = append(order, t.ID)
	}
	inserted := make(map[string]bool, len(p.Tasks))

	for len(pending) > 0 {
		progressed := false
		for _, id := range order {
			t, ok := pending[id]
			if !ok {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if !inserted[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			if _, err := g.AddTask(ctx, &scheduler.Task{
				ID:          t.ID,
				Title:       t.Title,
				Description: t.Description,
				Priority:    t.Priority,
				DependsOn:   t.DependsOn,
			}); err != nil {
				return fmt.Errorf("adding task %q: %w", t.ID, err)
			}
			inserted[t.ID] = true
			delete(pending, id)
			progressed = true
		}
		if !progressed {
			remaining := make([]string, 0, len(pending))
			for id := range pending {
				remaining = append(remaining, id)
			}
			return fmt.Errorf("dependency cycle among tasks %v", remaining)
		}
	}
	return nil
}
