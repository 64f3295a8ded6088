package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyNoopWhenPlanUnchanged(t *testing.T) {
	plan := &MigrationPlan{Changed: false, Counters: Counters{ConfigRefs: 0}}
	result, err := Apply(context.Background(), plan, Inputs{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Mode != "noop" || result.Changed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestApplyWritesConfigAndPayloadAndPrunesBackup(t *testing.T) {
	stateDir := t.TempDir()
	configPath := filepath.Join(stateDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"original":true}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	tool := &fakeTool{}
	plan := &MigrationPlan{
		NextConfig:      map[string]any{"models": map[string]any{}},
		OriginalPayload: map[string]any{},
		NextPayload:     map[string]any{"providers": map[string]any{"openai": map[string]any{"apiKey": "sk-live-123"}}},
		SecretsPath:     filepath.Join(stateDir, "secrets.enc.json"),
		ConfigChanged:   true,
		PayloadChanged:  true,
		Changed:         true,
		Counters:        Counters{ConfigRefs: 1, SecretsWritten: 1},
		BackupTargets:   []string{configPath, filepath.Join(stateDir, "secrets.enc.json")},
	}

	in := Inputs{ConfigPath: configPath, StateDir: stateDir, Tool: tool}

	result, err := Apply(context.Background(), plan, in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Mode != "applied" || result.BackupID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if tool.encryptCalls != 1 {
		t.Fatalf("expected one encrypt call, got %d", tool.encryptCalls)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "models") {
		t.Fatalf("expected config to be overwritten, got %q", data)
	}

	manifestPath := filepath.Join(backupRoot(stateDir), result.BackupID, "manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest at %s: %v", manifestPath, err)
	}
}

func TestApplyRollsBackOnWriteFailure(t *testing.T) {
	stateDir := t.TempDir()
	configPath := filepath.Join(stateDir, "config.json")
	original := `{"original":true}`
	if err := os.WriteFile(configPath, []byte(original), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	tool := &fakeTool{encryptErr: errors.New("sops encrypt failed")}
	plan := &MigrationPlan{
		NextConfig:     map[string]any{"models": map[string]any{}},
		NextPayload:    map[string]any{"providers": map[string]any{}},
		SecretsPath:    filepath.Join(stateDir, "secrets.enc.json"),
		ConfigChanged:  true,
		PayloadChanged: true,
		Changed:        true,
		BackupTargets:  []string{configPath},
	}

	in := Inputs{ConfigPath: configPath, StateDir: stateDir, Tool: tool}

	_, err := Apply(context.Background(), plan, in)
	if err == nil {
		t.Fatal("expected Apply to fail when Encrypt fails")
	}
	if !strings.Contains(err.Error(), "rolled back from backup") {
		t.Fatalf("expected rollback message, got: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config after rollback: %v", err)
	}
	if string(data) != original {
		t.Fatalf("expected config restored to original, got %q", data)
	}
}
