package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAuthStoreFromDiskReturnsNilWhenAbsent(t *testing.T) {
	store, err := LoadAuthStoreFromDisk(t.TempDir())
	if err != nil || store != nil {
		t.Fatalf("expected (nil, nil) for a missing store, got %+v %v", store, err)
	}
}

func TestLoadAuthStoreFromDiskParsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	raw := `{"profiles":{"default":{"type":"api_key","key":"sk-agent-1"}}}`
	if err := os.WriteFile(filepath.Join(dir, "auth-profiles.json"), []byte(raw), 0o600); err != nil {
		t.Fatalf("write auth-profiles.json: %v", err)
	}

	store, err := LoadAuthStoreFromDisk(dir)
	if err != nil {
		t.Fatalf("LoadAuthStoreFromDisk: %v", err)
	}
	if store == nil || store.Profiles["default"].Key != "sk-agent-1" {
		t.Fatalf("unexpected store %+v", store)
	}
}

func TestAuthProfileUnmarshalPreservesExtraFields(t *testing.T) {
	raw := []byte(`{"type":"api_key","key":"sk-agent-1","label":"primary","createdAt":"2026-01-01T00:00:00Z"}`)
	var p AuthProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Type != ProfileTypeAPIKey || p.Key != "sk-agent-1" {
		t.Fatalf("unexpected known fields: %+v", p)
	}
	if len(p.Extra) != 2 {
		t.Fatalf("expected 2 extra fields, got %d: %+v", len(p.Extra), p.Extra)
	}
	if _, ok := p.Extra["label"]; !ok {
		t.Fatal("expected label preserved in Extra")
	}
}

func TestAuthProfileMarshalRemergesExtraFields(t *testing.T) {
	p := AuthProfile{
		Type: ProfileTypeAPIKey,
		Key:  "sk-agent-1",
		Extra: map[string]json.RawMessage{
			"label": json.RawMessage(`"primary"`),
		},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["label"] != "primary" {
		t.Fatalf("expected label re-merged, got %+v", m)
	}
	if m["type"] != "api_key" || m["key"] != "sk-agent-1" {
		t.Fatalf("unexpected known fields in marshaled output: %+v", m)
	}
}

func TestAuthProfileRoundTripWithKeyRef(t *testing.T) {
	raw := []byte(`{"type":"api_key","keyRef":{"source":"env","id":"OPENAI_API_KEY"},"label":"primary"}`)
	var p AuthProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.KeyRef == nil || p.KeyRef.ID != "OPENAI_API_KEY" {
		t.Fatalf("unexpected keyRef: %+v", p.KeyRef)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out AuthProfile
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if out.KeyRef == nil || out.KeyRef.ID != "OPENAI_API_KEY" || len(out.Extra) != 1 {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestAuthProfileStoreUnmarshalPreservesUnknownTopLevelFields(t *testing.T) {
	raw := []byte(`{"profiles":{"default":{"type":"token","token":"gh-tok"}},"version":3}`)
	var store AuthProfileStore
	if err := json.Unmarshal(raw, &store); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(store.Profiles) != 1 || store.Profiles["default"].Token != "gh-tok" {
		t.Fatalf("unexpected profiles: %+v", store.Profiles)
	}
	if _, ok := store.Extra["version"]; !ok {
		t.Fatal("expected version preserved in Extra")
	}
}

func TestAuthProfileStoreUnmarshalInitializesEmptyProfiles(t *testing.T) {
	var store AuthProfileStore
	if err := json.Unmarshal([]byte(`{}`), &store); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if store.Profiles == nil {
		t.Fatal("expected Profiles initialized to a non-nil empty map")
	}
}

func TestAuthProfileStoreMarshalRemergesExtra(t *testing.T) {
	store := AuthProfileStore{
		Profiles: map[string]*AuthProfile{"default": {Type: ProfileTypeToken, Token: "gh-tok"}},
		Extra:    map[string]json.RawMessage{"version": json.RawMessage(`3`)},
	}
	data, err := json.Marshal(store)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["version"] != float64(3) {
		t.Fatalf("expected version re-merged, got %+v", m)
	}
}
