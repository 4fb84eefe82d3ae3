package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempPlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPlanCommandPrintsExecutionOrder(t *testing.T) {
	path := writeTempPlan(t, `
tasks:
  - id: api
    title: api layer
    depends_on: [schema]
  - id: schema
    title: database schema
`)

	var out bytes.Buffer
	planCmd.SetOut(&out)
	require.NoError(t, runPlan(planCmd, []string{path}))

	text := out.String()
	assert.Contains(t, text, "2 tasks")
	// The dependency is listed before its dependent.
	assert.Less(t, bytes.Index(out.Bytes(), []byte("schema  database schema")),
		bytes.Index(out.Bytes(), []byte("api  api layer")))
}

func TestPlanCommandRejectsBadPlan(t *testing.T) {
	path := writeTempPlan(t, `
tasks:
  - id: a
    title: a
    depends_on: [missing]
`)
	err := runPlan(planCmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}
