package main

import (
	"strings"
	"testing"

	"docflow/internal/document"
)

func TestRenderStatusLine(t *testing.T) {
	line := renderStatusLine("Extraction", statusOK, "ready", false)
	if !strings.Contains(line, "Extraction:") || !strings.Contains(line, "[OK] ready") {
		t.Fatalf("unexpected line %q", line)
	}
	colored := renderStatusLine("Extraction", statusError, "down", true)
	if !strings.HasPrefix(colored, ansiRed) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected red line, got %q", colored)
	}
}

func TestCoarseKind(t *testing.T) {
	cases := map[document.CoarseStatus]statusKind{
		document.StatusPending:    statusInfo,
		document.StatusProcessing: statusWarn,
		document.StatusCompleted:  statusOK,
		document.StatusFailed:     statusError,
	}
	for status, want := range cases {
		if got := coarseKind(status); got != want {
			t.Errorf("coarseKind(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestBuildCountRowsSkipsEmpty(t *testing.T) {
	rows := buildCountRows(map[document.CoarseStatus]int{
		document.StatusPending:   2,
		document.StatusFailed:    0,
		document.StatusCompleted: 1,
	})
	if len(rows) != 2 || rows[0][0] != "completed" || rows[1][0] != "pending" {
		t.Fatalf("unexpected rows %v", rows)
	}
}
