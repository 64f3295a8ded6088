// Package secrets implements the secrets runtime and migration core: it
// resolves SecretRef values embedded in config and auth-profile files into
// an in-memory RuntimeSnapshot, activates that snapshot process-wide with
// last-known-good retention, and mechanically migrates plaintext
// credentials into reference form backed by an encrypted sops payload.
package secrets

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// envIDPattern matches the allowed shape of an env SecretRef id.
var envIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,127}$`)

// SourceEnv and SourceFile are the two valid SecretRef.Source values.
const (
	SourceEnv  = "env"
	SourceFile = "file"
)

// SecretRef is a declarative reference to a secret value, resolved at
// activation or migration time. It is the Go realization of the spec's
// tagged sum `Env(id) | File(id)`: any shape outside these two variants is
// rejected at decode time rather than accepted and inspected later.
type SecretRef struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

// Validate checks that r is a well-formed SecretRef for its declared
// source. The edge (config loader) is expected to call this; the core
// re-checks on use per spec.md §3.
func (r *SecretRef) Validate() error {
	if r == nil {
		return fmt.Errorf("secret ref: nil")
	}
	switch r.Source {
	case SourceEnv:
		if !envIDPattern.MatchString(r.ID) {
			return fmt.Errorf("secret ref: env id %q does not match ^[A-Z][A-Z0-9_]{0,127}$", r.ID)
		}
		return nil
	case SourceFile:
		if len(r.ID) == 0 || r.ID[0] != '/' {
			return fmt.Errorf("secret ref: file id %q must be an absolute RFC6901 JSON pointer beginning with \"/\"", r.ID)
		}
		return nil
	default:
		return fmt.Errorf("secret ref: unknown source %q (expected %q or %q)", r.Source, SourceEnv, SourceFile)
	}
}

// IsSecretRef reports whether v structurally matches a SecretRef shape:
// a JSON object with exactly the fields "source" and "id". Used by the
// migration engine to detect "already a reference" fields inside
// map[string]any config trees.
func IsSecretRef(v any) (*SecretRef, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	if len(m) != 2 {
		return nil, false
	}
	src, ok1 := m["source"].(string)
	id, ok2 := m["id"].(string)
	if !ok1 || !ok2 {
		return nil, false
	}
	ref := &SecretRef{Source: src, ID: id}
	if ref.Validate() != nil {
		return nil, false
	}
	return ref, true
}

// StringOrRef holds a config field that may be either a plaintext string or
// a SecretRef. Exactly one of (Plain set, non-empty) or Ref (non-nil) holds
// after a successful Decode. This is the Go-native equivalent of the spec's
// tagged-sum field without resorting to `any` and runtime type-switches at
// every call site.
type StringOrRef struct {
	Plain string
	Ref   *SecretRef
}

// IsZero reports whether neither a plaintext value nor a ref is present.
func (s StringOrRef) IsZero() bool {
	return s.Plain == "" && s.Ref == nil
}

// UnmarshalJSON implements json.Unmarshaler, deciding between a plain
// string and a SecretRef object based on the token shape.
func (s *StringOrRef) UnmarshalJSON(data []byte) error {
	trimmed := trimJSONWhitespace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = StringOrRef{}
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = StringOrRef{Plain: str}
		return nil
	}
	var ref SecretRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("secret field: expected string or {source,id} object: %w", err)
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	*s = StringOrRef{Ref: &ref}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s StringOrRef) MarshalJSON() ([]byte, error) {
	if s.Ref != nil {
		return json.Marshal(s.Ref)
	}
	return json.Marshal(s.Plain)
}

func trimJSONWhitespace(data []byte) []byte {
	start, end := 0, len(data)
	for start < end && isJSONSpace(data[start]) {
		start++
	}
	for end > start && isJSONSpace(data[end-1]) {
		end--
	}
	return data[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// FileSourceConfig is the `sources.file` entry of SecretsConfig.
type FileSourceConfig struct {
	Type      string `json:"type"` // must be "sops"
	Path      string `json:"path"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// NormalizedTimeoutMs clamps TimeoutMs to a positive integer, defaulting to
// 5000ms per spec.md §3.
func (f FileSourceConfig) NormalizedTimeoutMs() int {
	if f.TimeoutMs <= 0 {
		return 5000
	}
	return f.TimeoutMs
}

// EnvSourceConfig is the optional `sources.env` marker.
type EnvSourceConfig struct {
	Type string `json:"type"` // "env"
}

// SourcesConfig is the `secrets.sources` subtree.
type SourcesConfig struct {
	Env  *EnvSourceConfig  `json:"env,omitempty"`
	File *FileSourceConfig `json:"file,omitempty"`
}

// SecretsConfig is the `secrets` subtree of the gateway config.
type SecretsConfig struct {
	Sources SourcesConfig `json:"sources"`
}

// Warning is a non-fatal diagnostic attached to a RuntimeSnapshot.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Site    string `json:"site"`
}

// Warning codes, stable strings per spec.md §6.
const (
	WarnRefOverridesPlaintext = "SECRETS_REF_OVERRIDES_PLAINTEXT"
	EventReloaderDegraded     = "SECRETS_RELOADER_DEGRADED"
	EventReloaderRecovered    = "SECRETS_RELOADER_RECOVERED"
)

// RuntimeSnapshot is the immutable, fully-resolved view of config and auth
// stores produced by snapshot.PrepareSnapshot and handed out by the
// activator. No value reachable from Config or AuthStores may structurally
// equal a SecretRef (spec.md §3's invariant); a single remaining one is a
// bug in the builder, not a caller error.
type RuntimeSnapshot struct {
	Config     map[string]any
	AuthStores []AgentAuthStore
	Warnings   []Warning
	ResolvedAt time.Time
}

// Clone returns a deep copy of s so that callers who received it from
// activator.GetActive can never mutate the shared active cell (spec.md
// §4.5). nil clones to nil.
func (s *RuntimeSnapshot) Clone() (*RuntimeSnapshot, error) {
	if s == nil {
		return nil, nil
	}

	cfgData, err := json.Marshal(s.Config)
	if err != nil {
		return nil, fmt.Errorf("clone snapshot: marshal config: %w", err)
	}
	var cfgCopy map[string]any
	if err := json.Unmarshal(cfgData, &cfgCopy); err != nil {
		return nil, fmt.Errorf("clone snapshot: unmarshal config: %w", err)
	}

	stores := make([]AgentAuthStore, len(s.AuthStores))
	for i, as := range s.AuthStores {
		storeCopy, err := cloneAuthStore(as.Store)
		if err != nil {
			return nil, fmt.Errorf("clone snapshot: auth store %s: %w", as.AgentDir, err)
		}
		stores[i] = AgentAuthStore{AgentDir: as.AgentDir, Store: storeCopy}
	}

	warnings := make([]Warning, len(s.Warnings))
	copy(warnings, s.Warnings)

	return &RuntimeSnapshot{
		Config:     cfgCopy,
		AuthStores: stores,
		Warnings:   warnings,
		ResolvedAt: s.ResolvedAt,
	}, nil
}

func cloneAuthStore(store *AuthProfileStore) (*AuthProfileStore, error) {
	if store == nil {
		return nil, nil
	}
	data, err := json.Marshal(store)
	if err != nil {
		return nil, err
	}
	var out AuthProfileStore
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
