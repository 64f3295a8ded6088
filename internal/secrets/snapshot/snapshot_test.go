package snapshot

import (
	"context"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

func TestPrepareSnapshotEnvResolve(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{
					"apiKey": map[string]any{"source": "env", "id": "OPENAI_API_KEY"},
				},
			},
		},
	}

	snap, err := PrepareSnapshot(context.Background(), Inputs{
		Config: cfg,
		Env:    map[string]string{"OPENAI_API_KEY": "sk-env-openai"},
	})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	if len(snap.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", snap.Warnings)
	}

	providers := snap.Config["models"].(map[string]any)["providers"].(map[string]any)
	openai := providers["openai"].(map[string]any)
	if openai["apiKey"] != "sk-env-openai" {
		t.Fatalf("unexpected apiKey: %v", openai["apiKey"])
	}
}

func TestPrepareSnapshotLeavesPlaintextUntouched(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{"apiKey": "sk-already-plaintext"},
			},
		},
	}
	snap, err := PrepareSnapshot(context.Background(), Inputs{Config: cfg})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	providers := snap.Config["models"].(map[string]any)["providers"].(map[string]any)
	openai := providers["openai"].(map[string]any)
	if openai["apiKey"] != "sk-already-plaintext" {
		t.Fatalf("unexpected apiKey: %v", openai["apiKey"])
	}
}

func TestPrepareSnapshotGoogleChatRefOverridesPlaintext(t *testing.T) {
	cfg := map[string]any{
		"channels": map[string]any{
			"googlechat": map[string]any{
				"serviceAccount":    "stale-plaintext",
				"serviceAccountRef": map[string]any{"source": "env", "id": "GCHAT_SA"},
			},
		},
	}
	snap, err := PrepareSnapshot(context.Background(), Inputs{
		Config: cfg,
		Env:    map[string]string{"GCHAT_SA": `{"type":"service_account"}`},
	})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0].Code != secrets.WarnRefOverridesPlaintext {
		t.Fatalf("expected one override warning, got %v", snap.Warnings)
	}
	gchat := snap.Config["channels"].(map[string]any)["googlechat"].(map[string]any)
	if gchat["serviceAccount"] != `{"type":"service_account"}` {
		t.Fatalf("unexpected serviceAccount: %v", gchat["serviceAccount"])
	}
	if _, ok := gchat["serviceAccountRef"]; ok {
		t.Fatal("expected serviceAccountRef to be removed once resolved into serviceAccount")
	}
}

func TestPrepareSnapshotAuthProfileKeyRefOverridesPlaintext(t *testing.T) {
	cfg := map[string]any{}
	store := &secrets.AuthProfileStore{
		Profiles: map[string]*secrets.AuthProfile{
			"default": {
				Type:   secrets.ProfileTypeAPIKey,
				Key:    "old",
				KeyRef: &secrets.SecretRef{Source: "env", ID: "OPENAI_API_KEY"},
			},
		},
	}

	snap, err := PrepareSnapshot(context.Background(), Inputs{
		Config:    cfg,
		Env:       map[string]string{"OPENAI_API_KEY": "sk-env-openai"},
		AgentDirs: []string{"/agents/default"},
		LoadAuthStore: func(agentDir string) (*secrets.AuthProfileStore, error) {
			return store, nil
		},
	})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	if len(snap.AuthStores) != 1 {
		t.Fatalf("expected 1 auth store, got %d", len(snap.AuthStores))
	}
	profile := snap.AuthStores[0].Store.Profiles["default"]
	if profile.Key != "sk-env-openai" {
		t.Fatalf("unexpected key: %q", profile.Key)
	}
	if profile.KeyRef != nil {
		t.Fatalf("expected keyRef cleared once resolved into key, got %v", profile.KeyRef)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0].Code != secrets.WarnRefOverridesPlaintext {
		t.Fatalf("expected override warning, got %v", snap.Warnings)
	}
}

func TestPrepareSnapshotAbsentAuthStoreYieldsNoEntry(t *testing.T) {
	snap, err := PrepareSnapshot(context.Background(), Inputs{
		Config:    map[string]any{},
		AgentDirs: []string{"/agents/missing"},
		LoadAuthStore: func(agentDir string) (*secrets.AuthProfileStore, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	if len(snap.AuthStores) != 0 {
		t.Fatalf("expected no auth stores, got %d", len(snap.AuthStores))
	}
}

func TestPrepareSnapshotAbortsOnFirstFailure(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{
					"apiKey": map[string]any{"source": "env", "id": "MISSING_VAR"},
				},
			},
		},
	}
	_, err := PrepareSnapshot(context.Background(), Inputs{Config: cfg, Env: map[string]string{}})
	if err == nil {
		t.Fatal("expected error for missing env var")
	}
}

func TestPrepareSnapshotDoesNotMutateInputConfig(t *testing.T) {
	cfg := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{
					"apiKey": map[string]any{"source": "env", "id": "OPENAI_API_KEY"},
				},
			},
		},
	}
	_, err := PrepareSnapshot(context.Background(), Inputs{
		Config: cfg,
		Env:    map[string]string{"OPENAI_API_KEY": "sk-env-openai"},
	})
	if err != nil {
		t.Fatalf("PrepareSnapshot failed: %v", err)
	}
	providers := cfg["models"].(map[string]any)["providers"].(map[string]any)
	openai := providers["openai"].(map[string]any)
	if _, stillRef := openai["apiKey"].(map[string]any); !stillRef {
		t.Fatal("expected input config to remain unmodified (apiKey ref)")
	}
}
