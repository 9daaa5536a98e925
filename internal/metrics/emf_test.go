package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureOutput(t)

	New(Namespace).
		Dimension("Mode", "wan-std").
		Dimension("Outcome", "success").
		Metric("CostYuan", 6.0, UnitNone).
		Duration("ElapsedMs", 1500*time.Millisecond).
		Property("jobId", "task-123").
		Flush()

	line := buf.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, line)
	}

	awsDir, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := awsDir["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw := awsDir["CloudWatchMetrics"].([]any)[0].(map[string]any)
	if cw["Namespace"] != Namespace {
		t.Errorf("namespace = %v", cw["Namespace"])
	}
	dims := cw["Dimensions"].([]any)[0].([]any)
	if len(dims) != 2 || dims[0] != "Mode" || dims[1] != "Outcome" {
		t.Errorf("dimensions = %v, want sorted [Mode Outcome]", dims)
	}

	tests := []struct {
		key  string
		want any
	}{
		{"Mode", "wan-std"},
		{"Outcome", "success"},
		{"CostYuan", 6.0},
		{"ElapsedMs", 1500.0},
		{"jobId", "task-123"},
	}
	for _, tt := range tests {
		if doc[tt.key] != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, doc[tt.key], tt.want)
		}
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureOutput(t)
	New("Test").Dimension("Mode", "x").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for a recorder without metrics, got %q", buf.String())
	}
}

func TestRecorder_Count(t *testing.T) {
	rec := New("Test").Count("Errors")
	if v := rec.values["Errors"]; v != float64(1) {
		t.Errorf("Errors = %v, want 1", v)
	}
	if m := rec.metrics["Errors"]; m.Unit != UnitCount {
		t.Errorf("unit = %s, want Count", m.Unit)
	}
}

func TestSetOutput_NilDiscards(t *testing.T) {
	SetOutput(nil)
	// Must not panic.
	New("Test").Count("X").Flush()
}
