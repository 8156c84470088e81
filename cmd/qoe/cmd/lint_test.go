package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/queryopt/engine/internal/engine"
	"github.com/queryopt/engine/internal/lint"
	"github.com/queryopt/engine/internal/model"
)

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was written to it — printJSON writes straight to os.Stdout, same as the
// teacher's CLI output helpers do.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf.String()
}

func TestPrintJSON_LintResultUsesSnakeCaseKeys(t *testing.T) {
	result := engine.LintResult{
		Model: &model.QueryModel{StatementKind: model.StatementSelect},
		Issues: []lint.Issue{
			{Code: "SELECT_STAR", Message: "Using SELECT * is not recommended", Severity: lint.SeverityWarn, Hint: "Explicitly list required columns"},
		},
		Risk: lint.RiskMedium,
	}

	out := captureStdout(t, func() {
		if err := printJSON(result); err != nil {
			t.Fatalf("printJSON: %v", err)
		}
	})

	for _, key := range []string{`"model"`, `"issues"`, `"risk"`, `"code"`, `"message"`, `"severity"`, `"hint"`, `"statement_kind"`} {
		if !strings.Contains(out, key) {
			t.Errorf("expected output to contain %s, got:\n%s", key, out)
		}
	}
	for _, absent := range []string{`"Model"`, `"Issues"`, `"Risk"`, `"StatementKind"`} {
		if strings.Contains(out, absent) {
			t.Errorf("expected PascalCase key %s to be absent, got:\n%s", absent, out)
		}
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded["risk"]; !ok {
		t.Fatalf("expected decoded output to carry a \"risk\" key, got %+v", decoded)
	}
}

func TestPrintJSON_OptimizeResultUsesSnakeCaseKeys(t *testing.T) {
	score := 0.5
	result := engine.OptimizeResult{
		Suggestions: []model.Suggestion{
			{Kind: model.KindIndex, Title: "Index on orders(user_id)", Impact: model.ImpactHigh, Relation: "orders", Columns: []model.Ident{"user_id"}},
		},
		Summary:      engine.Summary{Score: score},
		TopKReturned: 1,
	}

	out := captureStdout(t, func() {
		if err := printJSON(result); err != nil {
			t.Fatalf("printJSON: %v", err)
		}
	})

	for _, key := range []string{`"suggestions"`, `"summary"`, `"score"`, `"ranking"`, `"what_if_report"`, `"plan_warnings"`, `"plan_metrics"`, `"top_k_returned"`, `"kind"`, `"impact"`} {
		if !strings.Contains(out, key) {
			t.Errorf("expected output to contain %s, got:\n%s", key, out)
		}
	}
	if strings.Contains(out, `"TopKReturned"`) {
		t.Errorf("expected no PascalCase TopKReturned key, got:\n%s", out)
	}
	if !strings.Contains(out, `"INDEX"`) {
		t.Errorf("expected SuggestionKind to marshal as its canonical name \"INDEX\", got:\n%s", out)
	}
}
