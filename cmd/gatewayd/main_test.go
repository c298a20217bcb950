package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

func writeRequestsFile(t *testing.T, path string, reqs []types.Request) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create requests file: %v", err)
	}
	defer f.Close()
	for _, r := range reqs {
		line, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			t.Fatalf("write request line: %v", err)
		}
	}
}

func TestInit_GeneratesConfigAndSeedsStore(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runInit("gateway.yaml"); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if _, err := os.Stat("gateway.yaml"); err != nil {
		t.Errorf("expected gateway.yaml to exist: %v", err)
	}
	if _, err := os.Stat("gateway.db"); err != nil {
		t.Errorf("expected gateway.db to exist: %v", err)
	}
	if _, err := os.Stat("audit"); err != nil {
		t.Errorf("expected audit/ directory to exist: %v", err)
	}

	// init is idempotent: a second run should skip regeneration, not error.
	if err := runInit("gateway.yaml"); err != nil {
		t.Fatalf("second runInit: %v", err)
	}
}

func TestServe_ApprovesWithinPolicyAndVerifiesTrail(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runInit("gateway.yaml"); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	reqPath := filepath.Join(t.TempDir(), "requests.jsonl")
	writeRequestsFile(t, reqPath, []types.Request{
		{
			PrincipalID: "demo-principal", ProjectID: "demo-project", AgentID: "demo-agent",
			Provider: "openai", Model: "gpt-4o-mini", Operation: types.OperationChat,
			Params: map[string]any{"prompt": "hello there"}, CreatedAt: time.Now().UTC(),
		},
	})

	decisions, err := captureDecisions(t, reqPath)
	if err != nil {
		t.Fatalf("runServe: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Outcome != types.OutcomeApproved {
		t.Errorf("expected APPROVED, got %+v", decisions[0])
	}

	if err := runVerify("gateway.yaml", decisions[0].RequestID); err != nil {
		t.Fatalf("runVerify: %v", err)
	}
}

func TestServe_UnknownAgentElevatesRiskInsteadOfHardRejecting(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runInit("gateway.yaml"); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	reqPath := filepath.Join(t.TempDir(), "requests.jsonl")
	writeRequestsFile(t, reqPath, []types.Request{
		{
			PrincipalID: "demo-principal", ProjectID: "demo-project", AgentID: "unregistered-agent",
			Provider: "openai", Model: "gpt-4o-mini", Operation: types.OperationChat,
			Params: map[string]any{"prompt": "hi"}, CreatedAt: time.Now().UTC(),
		},
	})

	decisions, err := captureDecisions(t, reqPath)
	if err != nil {
		t.Fatalf("runServe: %v", err)
	}
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	if decisions[0].Outcome != types.OutcomeApproved {
		t.Fatalf("expected a new agent to reach adjudication and clear it, got %+v", decisions[0])
	}
	if decisions[0].RiskScore == nil || *decisions[0].RiskScore < 2.0 {
		t.Errorf("expected the new_agent risk factor to show up in the score, got %+v", decisions[0].RiskScore)
	}
}

func TestReport_CoversSettledRequests(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := runInit("gateway.yaml"); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	reqPath := filepath.Join(t.TempDir(), "requests.jsonl")
	writeRequestsFile(t, reqPath, []types.Request{
		{
			PrincipalID: "demo-principal", ProjectID: "demo-project", AgentID: "demo-agent",
			Provider: "openai", Model: "gpt-4o-mini", Operation: types.OperationChat,
			Params: map[string]any{"prompt": "hello"}, CreatedAt: time.Now().UTC(),
		},
	})
	if _, err := captureDecisions(t, reqPath); err != nil {
		t.Fatalf("runServe: %v", err)
	}

	from := time.Now().UTC().Add(-24 * time.Hour).Format("2006-01-02")
	to := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02")
	report, err := buildReport("gateway.yaml", "demo-principal", "demo-project", from, to)
	if err != nil {
		t.Fatalf("buildReport: %v", err)
	}
	if report.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", report.TotalRequests)
	}
	if report.ApprovedRequests != 1 {
		t.Errorf("ApprovedRequests = %d, want 1", report.ApprovedRequests)
	}
	if report.RejectedRequests != 0 {
		t.Errorf("RejectedRequests = %d, want 0", report.RejectedRequests)
	}
}

// captureDecisions runs runServe against reqPath and parses its stdout
// back into the Decisions it printed.
func captureDecisions(t *testing.T, reqPath string) ([]types.Decision, error) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = origStdout }()

	serveErr := runServe("gateway.yaml", reqPath)
	w.Close()

	var decisions []types.Decision
	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var d types.Decision
		if err := dec.Decode(&d); err != nil {
			break
		}
		decisions = append(decisions, d)
	}
	return decisions, serveErr
}
