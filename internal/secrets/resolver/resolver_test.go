package resolver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

type fakeDecrypter struct {
	calls   int32
	payload any
	err     error
	delayMs int
}

func (f *fakeDecrypter) Decrypt(ctx context.Context, path string, timeout time.Duration, missingBinaryMessage, configPath string) (any, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delayMs > 0 {
		time.Sleep(time.Duration(f.delayMs) * time.Millisecond)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func TestResolveEnvRef(t *testing.T) {
	rctx := &ResolveContext{Env: map[string]string{"OPENAI_API_KEY": "sk-env-openai"}}
	val, err := ResolveString(context.Background(), secrets.SecretRef{Source: "env", ID: "OPENAI_API_KEY"}, rctx)
	if err != nil {
		t.Fatalf("ResolveString failed: %v", err)
	}
	if val != "sk-env-openai" {
		t.Fatalf("got %q", val)
	}
}

func TestResolveEnvRefMissing(t *testing.T) {
	rctx := &ResolveContext{Env: map[string]string{}}
	_, err := ResolveString(context.Background(), secrets.SecretRef{Source: "env", ID: "MISSING_KEY"}, rctx)
	if err == nil || !strings.Contains(err.Error(), `"MISSING_KEY" is missing or empty`) {
		t.Fatalf("expected missing env error, got %v", err)
	}
}

func TestResolveEnvRefEmpty(t *testing.T) {
	rctx := &ResolveContext{Env: map[string]string{"EMPTY": ""}}
	_, err := ResolveString(context.Background(), secrets.SecretRef{Source: "env", ID: "EMPTY"}, rctx)
	if err == nil {
		t.Fatal("expected error for empty env var")
	}
}

func TestResolveFileRef(t *testing.T) {
	dec := &fakeDecrypter{payload: map[string]any{"providers": map[string]any{"openai": map[string]any{"apiKey": "sk-file-openai"}}}}
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "sops", Path: "/tmp/secrets.enc.json"}}},
		Driver: dec,
		Cache:  &Cache{},
	}
	val, err := ResolveString(context.Background(), secrets.SecretRef{Source: "file", ID: "/providers/openai/apiKey"}, rctx)
	if err != nil {
		t.Fatalf("ResolveString failed: %v", err)
	}
	if val != "sk-file-openai" {
		t.Fatalf("got %q", val)
	}
}

func TestResolveFileRefMemoizesDecryptAcrossConcurrentRefs(t *testing.T) {
	dec := &fakeDecrypter{
		payload: map[string]any{
			"providers": map[string]any{"openai": map[string]any{"apiKey": "sk-a"}},
			"skills":    map[string]any{"review-pr": map[string]any{"apiKey": "sk-b"}},
		},
		delayMs: 20,
	}
	cache := &Cache{}
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "sops", Path: "/tmp/secrets.enc.json"}}},
		Driver: dec,
		Cache:  cache,
	}

	refs := []secrets.SecretRef{
		{Source: "file", ID: "/providers/openai/apiKey"},
		{Source: "file", ID: "/skills/review-pr/apiKey"},
	}

	results := make(chan error, len(refs))
	for _, ref := range refs {
		ref := ref
		go func() {
			_, err := ResolveString(context.Background(), ref, rctx)
			results <- err
		}()
	}
	for range refs {
		if err := <-results; err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
	}

	if atomic.LoadInt32(&dec.calls) != 1 {
		t.Fatalf("expected exactly 1 decrypt invocation, got %d", dec.calls)
	}
}

func TestResolveFileRefNonObjectPayload(t *testing.T) {
	dec := &fakeDecrypter{payload: []any{"x"}}
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "sops", Path: "/tmp/secrets.enc.json"}}},
		Driver: dec,
		Cache:  &Cache{},
	}
	_, err := ResolveValue(context.Background(), secrets.SecretRef{Source: "file", ID: "/a"}, rctx)
	if err == nil || err.Error() != "sops decrypt failed: decrypted payload is not a JSON object" {
		t.Fatalf("expected non-object payload error, got %v", err)
	}
}

func TestResolveFileRefUnsupportedSourceType(t *testing.T) {
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "vault", Path: "/tmp/x"}}},
	}
	_, err := ResolveValue(context.Background(), secrets.SecretRef{Source: "file", ID: "/a"}, rctx)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported source error, got %v", err)
	}
}

func TestResolveFileRefNoSourceConfigured(t *testing.T) {
	rctx := &ResolveContext{}
	_, err := ResolveValue(context.Background(), secrets.SecretRef{Source: "file", ID: "/a"}, rctx)
	if err == nil {
		t.Fatal("expected error when no file source is configured")
	}
}

func TestResolveStringRejectsNonStringValue(t *testing.T) {
	dec := &fakeDecrypter{payload: map[string]any{"a": 5}}
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "sops", Path: "/tmp/x"}}},
		Driver: dec,
		Cache:  &Cache{},
	}
	_, err := ResolveString(context.Background(), secrets.SecretRef{Source: "file", ID: "/a"}, rctx)
	if err == nil || !strings.Contains(err.Error(), "non-string or empty value") {
		t.Fatalf("expected non-string error, got %v", err)
	}
}

func TestResolveInvalidRefRejected(t *testing.T) {
	rctx := &ResolveContext{}
	_, err := ResolveValue(context.Background(), secrets.SecretRef{Source: "env", ID: "lowercase"}, rctx)
	if err == nil {
		t.Fatal("expected validation error for malformed env id")
	}
}

func TestResolveDecryptErrorPropagates(t *testing.T) {
	dec := &fakeDecrypter{err: errors.New("sops is not installed")}
	rctx := &ResolveContext{
		Config: secrets.SecretsConfig{Sources: secrets.SourcesConfig{File: &secrets.FileSourceConfig{Type: "sops", Path: "/tmp/x"}}},
		Driver: dec,
		Cache:  &Cache{},
	}
	_, err := ResolveValue(context.Background(), secrets.SecretRef{Source: "file", ID: "/a"}, rctx)
	if err == nil {
		t.Fatal("expected propagated decrypt error")
	}
}
