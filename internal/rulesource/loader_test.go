package rulesource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}

func TestLoadMergesMultipleFilesInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-rules.yaml", `
circuit_breakers:
  - namespace: ns
    service: svcB
    level: SERVICE
    rule:
      name: b-rule
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)
	writeFile(t, dir, "a-rules.yaml", `
circuit_breakers:
  - namespace: ns
    service: svcA
    level: SERVICE
    rule:
      name: a-rule
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)

	log := zap.NewNop().Sugar()
	set, err := Load(dir, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Bindings) != 2 {
		t.Fatalf("expected 2 merged bindings, got %d", len(set.Bindings))
	}
	if set.Bindings[0].Rule.Name != "a-rule" || set.Bindings[1].Rule.Name != "b-rule" {
		t.Errorf("expected filename-sorted merge order (a before b), got %s then %s",
			set.Bindings[0].Rule.Name, set.Bindings[1].Rule.Name)
	}
}

func TestLoadSkipsMalformedYAMLButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "circuit_breakers: [this is not: valid: yaml")
	writeFile(t, dir, "good.yaml", `
circuit_breakers:
  - namespace: ns
    service: svc
    level: SERVICE
    rule:
      name: good-rule
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)

	log := zap.NewNop().Sugar()
	set, err := Load(dir, log)
	if err != nil {
		t.Fatalf("unexpected directory-level error: %v", err)
	}
	if len(set.Bindings) != 1 || set.Bindings[0].Rule.Name != "good-rule" {
		t.Fatalf("expected the malformed file to be skipped and the good one kept, got %+v", set.Bindings)
	}
}

func TestLoadIgnoresNonYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "not a rule file")
	writeFile(t, dir, "rules.yaml", `
circuit_breakers:
  - namespace: ns
    service: svc
    level: SERVICE
    rule:
      name: only-rule
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)

	log := zap.NewNop().Sugar()
	set, err := Load(dir, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.Bindings) != 1 {
		t.Fatalf("expected exactly one binding from the single .yaml file, got %d", len(set.Bindings))
	}
}

func TestLoadAndWatchDeliversReloadOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rules.yaml", `
circuit_breakers:
  - namespace: ns
    service: svc
    level: SERVICE
    rule:
      name: v1
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)

	log := zap.NewNop().Sugar()
	initial, watcher, err := LoadAndWatch(dir, log)
	if err != nil {
		t.Fatalf("LoadAndWatch failed: %v", err)
	}
	defer watcher.Close()

	if len(initial.Bindings) != 1 || initial.Bindings[0].Rule.Name != "v1" {
		t.Fatalf("unexpected initial load: %+v", initial.Bindings)
	}

	writeFile(t, dir, "rules.yaml", `
circuit_breakers:
  - namespace: ns
    service: svc
    level: SERVICE
    rule:
      name: v2
      triggers: [{kind: CONSECUTIVE_ERROR, error_count: 2}]
      recover: {sleep_window_seconds: 10, consecutive_success_count: 1}
`)

	select {
	case updated := <-watcher.Updates():
		if len(updated.Bindings) != 1 || updated.Bindings[0].Rule.Name != "v2" {
			t.Fatalf("unexpected reloaded rule set: %+v", updated.Bindings)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload to be delivered after the file changed")
	}
}
