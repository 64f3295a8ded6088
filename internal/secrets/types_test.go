package secrets

import (
	"encoding/json"
	"testing"
)

func TestSecretRefValidateEnv(t *testing.T) {
	ref := &SecretRef{Source: SourceEnv, ID: "OPENAI_API_KEY"}
	if err := ref.Validate(); err != nil {
		t.Fatalf("expected valid env ref, got %v", err)
	}
}

func TestSecretRefValidateEnvRejectsLowercase(t *testing.T) {
	ref := &SecretRef{Source: SourceEnv, ID: "openai_api_key"}
	if err := ref.Validate(); err == nil {
		t.Fatal("expected lowercase env id to be rejected")
	}
}

func TestSecretRefValidateFileRequiresAbsolutePointer(t *testing.T) {
	ref := &SecretRef{Source: SourceFile, ID: "providers/openai/apiKey"}
	if err := ref.Validate(); err == nil {
		t.Fatal("expected non-absolute pointer to be rejected")
	}
	ref.ID = "/providers/openai/apiKey"
	if err := ref.Validate(); err != nil {
		t.Fatalf("expected absolute pointer to validate, got %v", err)
	}
}

func TestSecretRefValidateRejectsUnknownSource(t *testing.T) {
	ref := &SecretRef{Source: "vault", ID: "whatever"}
	if err := ref.Validate(); err == nil {
		t.Fatal("expected unknown source to be rejected")
	}
}

func TestSecretRefValidateRejectsNil(t *testing.T) {
	var ref *SecretRef
	if err := ref.Validate(); err == nil {
		t.Fatal("expected nil ref to be rejected")
	}
}

func TestIsSecretRefAcceptsWellFormedRef(t *testing.T) {
	v := map[string]any{"source": "env", "id": "OPENAI_API_KEY"}
	ref, ok := IsSecretRef(v)
	if !ok || ref.Source != SourceEnv || ref.ID != "OPENAI_API_KEY" {
		t.Fatalf("expected ref recognized, got %+v ok=%v", ref, ok)
	}
}

func TestIsSecretRefRejectsExtraFields(t *testing.T) {
	v := map[string]any{"source": "env", "id": "OPENAI_API_KEY", "extra": "nope"}
	if _, ok := IsSecretRef(v); ok {
		t.Fatal("expected object with extra fields to be rejected as a ref")
	}
}

func TestIsSecretRefRejectsInvalidShape(t *testing.T) {
	cases := []any{
		"plain-string",
		42.0,
		nil,
		map[string]any{"source": "env"},
		map[string]any{"source": "vault", "id": "x"},
	}
	for _, v := range cases {
		if _, ok := IsSecretRef(v); ok {
			t.Fatalf("expected %#v to be rejected", v)
		}
	}
}

func TestStringOrRefUnmarshalsPlainString(t *testing.T) {
	var s StringOrRef
	if err := json.Unmarshal([]byte(`"sk-live-123"`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Plain != "sk-live-123" || s.Ref != nil {
		t.Fatalf("unexpected result %+v", s)
	}
}

func TestStringOrRefUnmarshalsRef(t *testing.T) {
	var s StringOrRef
	if err := json.Unmarshal([]byte(`{"source":"env","id":"OPENAI_API_KEY"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Ref == nil || s.Ref.Source != SourceEnv || s.Plain != "" {
		t.Fatalf("unexpected result %+v", s)
	}
}

func TestStringOrRefUnmarshalsNullAsZero(t *testing.T) {
	var s StringOrRef
	if err := json.Unmarshal([]byte(`null`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !s.IsZero() {
		t.Fatalf("expected zero value, got %+v", s)
	}
}

func TestStringOrRefUnmarshalRejectsMalformedRef(t *testing.T) {
	var s StringOrRef
	if err := json.Unmarshal([]byte(`{"source":"vault","id":"x"}`), &s); err == nil {
		t.Fatal("expected malformed ref to be rejected")
	}
}

func TestStringOrRefMarshalRoundTrip(t *testing.T) {
	ref := StringOrRef{Ref: &SecretRef{Source: SourceEnv, ID: "OPENAI_API_KEY"}}
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out StringOrRef
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Ref == nil || out.Ref.ID != "OPENAI_API_KEY" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}

	plain := StringOrRef{Plain: "sk-live-123"}
	data, err = json.Marshal(plain)
	if err != nil {
		t.Fatalf("marshal plain: %v", err)
	}
	if string(data) != `"sk-live-123"` {
		t.Fatalf("unexpected marshaled plain value %s", data)
	}
}

func TestFileSourceConfigNormalizedTimeoutMsDefaults(t *testing.T) {
	f := FileSourceConfig{Type: "sops", Path: "/tmp/secrets.enc.json"}
	if got := f.NormalizedTimeoutMs(); got != 5000 {
		t.Fatalf("NormalizedTimeoutMs = %d, want 5000", got)
	}
	f.TimeoutMs = 9000
	if got := f.NormalizedTimeoutMs(); got != 9000 {
		t.Fatalf("NormalizedTimeoutMs = %d, want 9000", got)
	}
}

func TestRuntimeSnapshotCloneIsIndependent(t *testing.T) {
	snap := &RuntimeSnapshot{
		Config: map[string]any{"models": map[string]any{"providers": map[string]any{}}},
		AuthStores: []AgentAuthStore{
			{AgentDir: "/agents/main/agent", Store: &AuthProfileStore{Profiles: map[string]*AuthProfile{
				"default": {Type: ProfileTypeAPIKey, Key: "sk-agent-1"},
			}}},
		},
		Warnings: []Warning{{Code: WarnRefOverridesPlaintext, Message: "m", Site: "s"}},
	}

	clone, err := snap.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	clone.Config["models"].(map[string]any)["providers"].(map[string]any)["injected"] = "bad"
	clone.AuthStores[0].Store.Profiles["default"].Key = "mutated"
	clone.Warnings[0].Message = "mutated"

	if _, ok := snap.Config["models"].(map[string]any)["providers"].(map[string]any)["injected"]; ok {
		t.Fatal("mutating clone config leaked into original")
	}
	if snap.AuthStores[0].Store.Profiles["default"].Key != "sk-agent-1" {
		t.Fatal("mutating clone auth store leaked into original")
	}
	if snap.Warnings[0].Message != "m" {
		t.Fatal("mutating clone warnings leaked into original")
	}
}

func TestRuntimeSnapshotCloneNil(t *testing.T) {
	var snap *RuntimeSnapshot
	clone, err := snap.Clone()
	if err != nil || clone != nil {
		t.Fatalf("expected nil clone with no error, got %+v %v", clone, err)
	}
}
