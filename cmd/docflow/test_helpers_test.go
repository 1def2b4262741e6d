package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	ocr        *httptest.Server
	entity     *httptest.Server
	llm        *httptest.Server

	mu          sync.Mutex
	llmRequests []string
}

// setupCLITestEnv writes a config pointing at stub OCR, entity, and LLM
// services. Retry delays are zero so failures return immediately.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("DOCFLOW_REDIS_ADDR", "")

	env := &cliTestEnv{baseDir: base}
	env.ocr = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"regions":[{"id":7,"src":"年度报告","dst":"Yearly report"}]}`))
	}))
	env.entity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"count":1,"entities":[{"chinese_name":"年度报告"}]}`))
	}))
	env.llm = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.llmRequests = append(env.llmRequests, string(body))
		env.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[0] Annual report"}}]}`))
	}))
	t.Cleanup(func() {
		env.ocr.Close()
		env.entity.Close()
		env.llm.Close()
	})

	env.configPath = filepath.Join(homeDir, ".config", "docflow", "config.toml")
	if err := os.MkdirAll(filepath.Dir(env.configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
work_dir = %q
log_dir = %q

[ocr]
engine = "http"
base_url = %q

[entity]
base_url = %q

[llm]
api_key = "test"
base_url = %q
model = "test-model"

[retry]
max_retries = 1
base_delay_ms = 0
max_delay_ms = 0

[workflow]
auto_advance = false
`,
		filepath.Join(base, "state"),
		filepath.Join(base, "work"),
		filepath.Join(base, "logs"),
		env.ocr.URL,
		env.entity.URL,
		env.llm.URL,
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliTestEnv) writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func (e *cliTestEnv) llmBodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.llmRequests...)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func mustRunCLI(t *testing.T, env *cliTestEnv, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args, env.configPath)
	if err != nil {
		t.Fatalf("docflow %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return out
}

func listDocuments(t *testing.T, env *cliTestEnv) []documentView {
	t.Helper()
	out := mustRunCLI(t, env, "list", "--json")
	var views []documentView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode list output %q: %v", out, err)
	}
	return views
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
