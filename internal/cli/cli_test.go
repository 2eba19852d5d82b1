package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/clinicflow/internal/executor"
	"github.com/Kocoro-lab/clinicflow/internal/llm"
	"github.com/Kocoro-lab/clinicflow/internal/planner"
	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

type fakeRunner struct {
	inputs []string
	result *executor.Result
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, input string, opts ...executor.Option) (*executor.Result, error) {
	f.inputs = append(f.inputs, input)
	return f.result, f.err
}

func TestRunOncePrintsJSON(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{
		Status: executor.StatusSuccess,
		AuditLog: []executor.AuditEntry{{
			Function:  schema.SearchPatient,
			Arguments: map[string]interface{}{"name": "Ravi Kumar"},
			Output:    map[string]string{"patient_id": "PAT001"},
		}},
	}}
	var out, status bytes.Buffer

	require.NoError(t, runOnce(context.Background(), runner, "find Ravi", &out, &status))
	assert.Contains(t, out.String(), `"status": "SUCCESS"`)
	assert.Contains(t, out.String(), `"patient_id": "PAT001"`)
	assert.Contains(t, status.String(), "SUCCESS: 1 step(s) executed")
}

func TestRunOnceFailedStatus(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{Status: executor.StatusFailed, Reason: "Unknown function x"}}
	var out, status bytes.Buffer

	require.NoError(t, runOnce(context.Background(), runner, "x", &out, &status))
	assert.NotContains(t, out.String(), "audit_log")
	assert.Contains(t, status.String(), "FAILED: Unknown function x")
}

func TestReplLoop(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{Status: executor.StatusSuccess}}
	in := strings.NewReader("find Ravi\n\nbook cardiology\nEXIT\nnever read\n")
	var out, status bytes.Buffer

	require.NoError(t, repl(context.Background(), runner, in, &out, &status))
	assert.Equal(t, []string{"find Ravi", "book cardiology"}, runner.inputs)
	assert.Equal(t, 4, strings.Count(out.String(), "Enter request:"))
	assert.Contains(t, status.String(), "Please enter a request.")
}

func TestReplContinuesAfterError(t *testing.T) {
	runner := &fakeRunner{err: &planner.PlanningError{Attempts: 2, Err: errors.New("no JSON")}}
	var out, status bytes.Buffer

	require.NoError(t, repl(context.Background(), runner, strings.NewReader("one\ntwo\n"), &out, &status))
	assert.Len(t, runner.inputs, 2)
	assert.Equal(t, 2, strings.Count(status.String(), "Error: planning failed after 2 attempt(s)"))
}

func TestPing(t *testing.T) {
	var got llm.Request
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		got = req
		return " LLM is working.\n", nil
	})
	var out bytes.Buffer

	require.NoError(t, ping(context.Background(), client, &out))
	assert.Equal(t, "LLM is working.\n", out.String())
	assert.Equal(t, pingPrompt, got.User)
	assert.Equal(t, pingMaxTokens, got.MaxTokens)

	failing := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "", llm.ErrUnavailable
	})
	err := ping(context.Background(), failing, &out)
	assert.True(t, errors.Is(err, llm.ErrUnavailable))
}

func TestAppRoutes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clinicflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o644))

	configPath, logLevel = path, ""
	t.Cleanup(func() { configPath = "" })

	a, err := newApp()
	require.NoError(t, err)
	mux, err := a.routes()
	require.NoError(t, err)

	for _, target := range []string{"/health/live", "/health/ready", "/api/v1/functions", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}
