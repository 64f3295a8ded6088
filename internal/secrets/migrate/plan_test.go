package migrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

type fakeTool struct {
	payload       map[string]any
	decryptCalls  int
	encryptCalls  int
	decryptErr    error
	encryptErr    error
	encryptedPath string
	encryptedData any
}

func (f *fakeTool) Decrypt(ctx context.Context, path string, timeout time.Duration, missingBinaryMessage, configPath string) (any, error) {
	f.decryptCalls++
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	return f.payload, nil
}

func (f *fakeTool) Encrypt(ctx context.Context, path string, payload any, timeout time.Duration, missingBinaryMessage, configPath string) error {
	f.encryptCalls++
	f.encryptedPath = path
	f.encryptedData = payload
	return f.encryptErr
}

func baseConfig() map[string]any {
	return map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{"apiKey": "sk-live-123"},
			},
		},
	}
}

func TestBuildPlanMigratesProviderAPIKeyAndSynthesizesFileSource(t *testing.T) {
	stateDir := t.TempDir()
	in := Inputs{
		Config:           baseConfig(),
		StateDir:         stateDir,
		StateDirExplicit: true,
		Tool:             &fakeTool{},
	}

	plan, err := BuildPlan(context.Background(), in)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !plan.Changed || !plan.ConfigChanged || !plan.PayloadChanged {
		t.Fatalf("expected full change, got %+v", plan)
	}
	if plan.Counters.ConfigRefs != 1 || plan.Counters.SecretsWritten != 1 {
		t.Fatalf("unexpected counters %+v", plan.Counters)
	}

	providers := plan.NextConfig["models"].(map[string]any)["providers"].(map[string]any)
	openai := providers["openai"].(map[string]any)
	ref, ok := secrets.IsSecretRef(openai["apiKey"])
	if !ok || ref.ID != "/providers/openai/apiKey" {
		t.Fatalf("unexpected apiKey ref %#v", openai["apiKey"])
	}

	sourcesBlock := plan.NextConfig["secrets"].(map[string]any)["sources"].(map[string]any)["file"].(map[string]any)
	if sourcesBlock["path"] != plan.SecretsPath {
		t.Fatalf("expected synthesized file source to match plan.SecretsPath, got %+v", sourcesBlock)
	}
	if plan.SecretsPath != filepath.Join(stateDir, "secrets.enc.json") {
		t.Fatalf("unexpected secrets path %q", plan.SecretsPath)
	}
}

func TestBuildPlanRejectsMalformedAPIKeyField(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{"apiKey": 12345.0},
			},
		},
	}
	_, err := BuildPlan(context.Background(), Inputs{Config: cfg, Tool: &fakeTool{}})
	if err == nil {
		t.Fatal("expected validation error for non-string apiKey")
	}
}

func TestBuildPlanDiscoversSopsConfig(t *testing.T) {
	configDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(configDir, ".sops.yaml"), []byte("creation_rules: []\n"), 0o600); err != nil {
		t.Fatalf("write .sops.yaml: %v", err)
	}

	plan, err := BuildPlan(context.Background(), Inputs{
		Config:    map[string]any{},
		ConfigDir: configDir,
		Tool:      &fakeTool{},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.SopsConfigPath != filepath.Join(configDir, ".sops.yaml") {
		t.Fatalf("SopsConfigPath = %q", plan.SopsConfigPath)
	}
}

func TestBuildPlanDecryptsExistingPayloadWhenFilePresent(t *testing.T) {
	stateDir := t.TempDir()
	secretsPath := filepath.Join(stateDir, "secrets.enc.json")
	if err := os.WriteFile(secretsPath, []byte(`{"providers":{"openai":{"apiKey":"sk-existing"}}}`), 0o600); err != nil {
		t.Fatalf("write payload stub: %v", err)
	}

	tool := &fakeTool{payload: map[string]any{"providers": map[string]any{"openai": map[string]any{"apiKey": "sk-existing"}}}}
	plan, err := BuildPlan(context.Background(), Inputs{
		Config:           map[string]any{},
		StateDir:         stateDir,
		StateDirExplicit: true,
		Tool:             tool,
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if tool.decryptCalls != 1 {
		t.Fatalf("expected exactly one decrypt call, got %d", tool.decryptCalls)
	}
	if plan.PayloadChanged {
		t.Fatal("expected no payload change when config has no sites")
	}
}

func TestBuildPlanMigratesAuthProfile(t *testing.T) {
	agentDir := t.TempDir()
	store := &secrets.AuthProfileStore{Profiles: map[string]*secrets.AuthProfile{
		"default": {Type: secrets.ProfileTypeAPIKey, Key: "sk-agent-1"},
	}}

	in := Inputs{
		Config:              map[string]any{},
		ExtraAuthStorePaths: []string{agentDir},
		Tool:                &fakeTool{},
		LoadAuthStore: func(dir string) (*secrets.AuthProfileStore, error) {
			if dir == agentDir {
				return store, nil
			}
			return nil, nil
		},
	}

	plan, err := BuildPlan(context.Background(), in)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.AuthStores) != 1 || !plan.AuthStores[0].Changed {
		t.Fatalf("expected one changed auth store, got %+v", plan.AuthStores)
	}
	if plan.Counters.AuthProfileRefs != 1 {
		t.Fatalf("unexpected counters %+v", plan.Counters)
	}
	nextProfile := plan.AuthStores[0].Next.Profiles["default"]
	if nextProfile.Key != "" || nextProfile.KeyRef == nil {
		t.Fatalf("unexpected migrated profile %+v", nextProfile)
	}
	if store.Profiles["default"].Key != "sk-agent-1" {
		t.Fatal("expected original store to be untouched")
	}
}

func TestBuildPlanAbsentAuthStoreYieldsNoEntry(t *testing.T) {
	agentDir := t.TempDir()
	in := Inputs{
		Config:              map[string]any{},
		ExtraAuthStorePaths: []string{agentDir},
		Tool:                &fakeTool{},
		LoadAuthStore: func(dir string) (*secrets.AuthProfileStore, error) {
			return nil, nil
		},
	}

	plan, err := BuildPlan(context.Background(), in)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.AuthStores) != 0 {
		t.Fatalf("expected no auth store entries, got %+v", plan.AuthStores)
	}
}

func TestBuildPlanRoundTripIsIdempotent(t *testing.T) {
	stateDir := t.TempDir()
	first, err := BuildPlan(context.Background(), Inputs{
		Config:           baseConfig(),
		StateDir:         stateDir,
		StateDirExplicit: true,
		Tool:             &fakeTool{},
	})
	if err != nil {
		t.Fatalf("first BuildPlan: %v", err)
	}

	data, err := json.Marshal(first.NextPayload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var storedPayload map[string]any
	if err := json.Unmarshal(data, &storedPayload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	second, err := BuildPlan(context.Background(), Inputs{
		Config:           first.NextConfig,
		StateDir:         stateDir,
		StateDirExplicit: true,
		Tool:             &fakeTool{payload: storedPayload},
	})
	if err != nil {
		t.Fatalf("second BuildPlan: %v", err)
	}
	if second.Changed {
		t.Fatalf("expected idempotent re-migration to report no change, got %+v", second)
	}
}

func TestBuildPlanScrubsEnvFile(t *testing.T) {
	configDir := t.TempDir()
	envPath := filepath.Join(configDir, ".env")
	if err := os.WriteFile(envPath, []byte("OPENAI_API_KEY=sk-live-123\nOTHER=kept\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	plan, err := BuildPlan(context.Background(), Inputs{
		Config:             baseConfig(),
		ConfigDir:          configDir,
		ScrubEnv:           true,
		SecretEnvAllowList: []string{"OPENAI_API_KEY"},
		Tool:               &fakeTool{},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !plan.EnvChanged {
		t.Fatal("expected env file to be scrubbed")
	}
	if string(plan.NextEnvContent) != "OTHER=kept\n" {
		t.Fatalf("unexpected scrubbed env content %q", plan.NextEnvContent)
	}
	if plan.Counters.EnvEntriesRemoved != 1 {
		t.Fatalf("unexpected counters %+v", plan.Counters)
	}
}
