package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/testsupport"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfigFile produces a minimal valid config pointed at the given
// store, with every directory under the test's temp dir.
func writeConfigFile(t *testing.T, storeURL string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`[paths]
work_dir = %q
log_dir = %q
cache_dir = %q

[jobstore]
base_url = %q
auth_token = %q

[llm]
api_key = "test-key"
`,
		filepath.Join(dir, "work"),
		filepath.Join(dir, "logs"),
		filepath.Join(dir, "cache"),
		storeURL,
		testsupport.AuthToken,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "shelfscan ") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestConfigInitWritesSampleAndRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output does not mention target: %q", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[jobstore]") {
		t.Fatal("sample config missing jobstore section")
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestJobsAddAndList(t *testing.T) {
	store := testsupport.NewJobStore(t)
	cfgPath := writeConfigFile(t, store.URL())

	out, err := runCommand(t, "-c", cfgPath, "jobs", "add", "discover", "jsonfeed+https://example.com/feed")
	if err != nil {
		t.Fatalf("jobs add: %v", err)
	}
	if !strings.Contains(out, string(jobstore.TypeDiscoverProducts)) {
		t.Fatalf("add output %q missing job type", out)
	}

	out, err = runCommand(t, "-c", cfgPath, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	if !strings.Contains(out, string(jobstore.TypeDiscoverProducts)) {
		t.Fatalf("list output %q missing job", out)
	}
	if !strings.Contains(out, string(jobstore.StatusPending)) {
		t.Fatalf("list output %q missing status", out)
	}
}

func TestJobsRetryRequiresFailedJob(t *testing.T) {
	store := testsupport.NewJobStore(t)
	cfgPath := writeConfigFile(t, store.URL())
	job := store.AddJob(t, jobstore.TypeCrawlProduct, jobstore.CrawlCursor{ProductURL: "jsonfeed+https://example.com/items/1"})

	if _, err := runCommand(t, "-c", cfgPath, "jobs", "retry", job.ID); err == nil {
		t.Fatal("expected retry of a pending job to fail")
	}
}
