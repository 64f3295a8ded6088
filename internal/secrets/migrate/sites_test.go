package migrate

import (
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

func TestMigrateSingleFieldSiteRewritesPlaintext(t *testing.T) {
	parent := map[string]any{"apiKey": "sk-live-123"}
	payload := map[string]any{}
	counters := Counters{}
	migrated := map[string]struct{}{}

	err := migrateSingleFieldSite(parent, "apiKey", []string{"providers", "openai", "apiKey"}, payload, &counters, migrated)
	if err != nil {
		t.Fatalf("migrateSingleFieldSite: %v", err)
	}

	ref, ok := secrets.IsSecretRef(parent["apiKey"])
	if !ok {
		t.Fatalf("expected apiKey to become a ref, got %#v", parent["apiKey"])
	}
	if ref.Source != secrets.SourceFile || ref.ID != "/providers/openai/apiKey" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if counters.ConfigRefs != 1 || counters.SecretsWritten != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}
	if _, ok := migrated["sk-live-123"]; !ok {
		t.Fatal("expected migrated value to be tracked")
	}
}

func TestMigrateSingleFieldSiteLeavesExistingRefAlone(t *testing.T) {
	parent := map[string]any{"apiKey": map[string]any{"source": "env", "id": "OPENAI_API_KEY"}}
	payload := map[string]any{}
	counters := Counters{}

	if err := migrateSingleFieldSite(parent, "apiKey", []string{"providers", "openai", "apiKey"}, payload, &counters, map[string]struct{}{}); err != nil {
		t.Fatalf("migrateSingleFieldSite: %v", err)
	}
	if counters.ConfigRefs != 0 || counters.SecretsWritten != 0 {
		t.Fatalf("expected no-op on existing ref, got %+v", counters)
	}
}

func TestMigrateSiblingFieldSiteMovesStringIntoPayload(t *testing.T) {
	parent := map[string]any{"serviceAccount": "{\"type\":\"service_account\"}"}
	payload := map[string]any{}
	counters := Counters{}
	migrated := map[string]struct{}{}

	err := migrateSiblingFieldSite(parent, "serviceAccount", "serviceAccountRef",
		[]string{"channels", "googlechat", "serviceAccount"}, payload, &counters, migrated)
	if err != nil {
		t.Fatalf("migrateSiblingFieldSite: %v", err)
	}
	if _, present := parent["serviceAccount"]; present {
		t.Fatal("expected plaintext field to be removed")
	}
	ref, ok := secrets.IsSecretRef(parent["serviceAccountRef"])
	if !ok || ref.Source != secrets.SourceFile {
		t.Fatalf("expected serviceAccountRef to be a file ref, got %#v", parent["serviceAccountRef"])
	}
	if counters.ConfigRefs != 1 || counters.SecretsWritten != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}
}

func TestMigrateSiblingFieldSiteDropsStalePlaintextWhenRefAlreadyPresent(t *testing.T) {
	parent := map[string]any{
		"serviceAccount":    "leftover-plaintext",
		"serviceAccountRef": map[string]any{"source": "file", "id": "/channels/googlechat/serviceAccount"},
	}
	payload := map[string]any{}
	counters := Counters{}

	err := migrateSiblingFieldSite(parent, "serviceAccount", "serviceAccountRef",
		[]string{"channels", "googlechat", "serviceAccount"}, payload, &counters, map[string]struct{}{})
	if err != nil {
		t.Fatalf("migrateSiblingFieldSite: %v", err)
	}
	if _, present := parent["serviceAccount"]; present {
		t.Fatal("expected stale plaintext sibling to be dropped")
	}
	if counters.PlaintextRemoved != 1 {
		t.Fatalf("expected PlaintextRemoved=1, got %+v", counters)
	}
}

func TestMigrateAuthProfileAPIKey(t *testing.T) {
	p := &secrets.AuthProfile{Type: secrets.ProfileTypeAPIKey, Key: "sk-agent-1"}
	payload := map[string]any{}
	counters := Counters{}
	migrated := map[string]struct{}{}

	if err := migrateAuthProfile("main", "default", p, payload, &counters, migrated); err != nil {
		t.Fatalf("migrateAuthProfile: %v", err)
	}
	if p.Key != "" {
		t.Fatalf("expected Key to be cleared, got %q", p.Key)
	}
	if p.KeyRef == nil || p.KeyRef.ID != "/auth-profiles/main/default/key" {
		t.Fatalf("unexpected KeyRef %+v", p.KeyRef)
	}
	if counters.AuthProfileRefs != 1 || counters.SecretsWritten != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}
	if _, ok := migrated["sk-agent-1"]; !ok {
		t.Fatal("expected migrated value tracked")
	}
}

func TestMigrateAuthProfileTokenAlreadyRefClearsStalePlaintext(t *testing.T) {
	p := &secrets.AuthProfile{
		Type:     secrets.ProfileTypeToken,
		Token:    "stale-token",
		TokenRef: &secrets.SecretRef{Source: secrets.SourceEnv, ID: "GH_TOKEN"},
	}
	counters := Counters{}

	if err := migrateAuthProfile("main", "default", p, map[string]any{}, &counters, map[string]struct{}{}); err != nil {
		t.Fatalf("migrateAuthProfile: %v", err)
	}
	if p.Token != "" {
		t.Fatalf("expected stale token cleared, got %q", p.Token)
	}
	if counters.PlaintextRemoved != 1 {
		t.Fatalf("expected PlaintextRemoved=1, got %+v", counters)
	}
}

func TestScopeForAgentDirStandardLayout(t *testing.T) {
	got := scopeForAgentDir("/home/u/.openclaw/agents/main/agent", "/home/u/.openclaw")
	if got != "main" {
		t.Fatalf("scopeForAgentDir = %q, want \"main\"", got)
	}
}

func TestScopeForAgentDirNonStandardLayoutHashes(t *testing.T) {
	got := scopeForAgentDir("/srv/custom-agent-dir", "/home/u/.openclaw")
	if len(got) < 6 || got[:5] != "path-" {
		t.Fatalf("scopeForAgentDir = %q, want path-<hash>", got)
	}
}

func TestWritePayloadIfDifferentSkipsIdenticalValue(t *testing.T) {
	payload := map[string]any{}
	changed, err := writePayloadIfDifferent(payload, "/providers/openai/apiKey", "sk-live-123")
	if err != nil || !changed {
		t.Fatalf("first write: changed=%v err=%v", changed, err)
	}
	changed, err = writePayloadIfDifferent(payload, "/providers/openai/apiKey", "sk-live-123")
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if changed {
		t.Fatal("expected second identical write to report unchanged")
	}
}
