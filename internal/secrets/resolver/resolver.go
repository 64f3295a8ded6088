// Package resolver resolves a single SecretRef to a plaintext value against
// the process environment or a decrypted sops payload, memoizing the
// decrypt so concurrent file refs within one resolution pass share a
// single subprocess invocation (spec.md §4.3, §9).
package resolver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
	"github.com/roelfdiedericks/goclaw/internal/secrets/jsonpointer"
)

// Decrypter is the subset of sopsdriver.Driver the resolver depends on.
type Decrypter interface {
	Decrypt(ctx context.Context, path string, timeout time.Duration, missingBinaryMessage, configPath string) (any, error)
}

const missingSopsMessage = "sops is not installed or not on PATH; required to resolve file-backed secret references (install sops >= 3.9.0)"

// decryptResult is the memoized outcome of one decrypted-payload fetch.
type decryptResult struct {
	payload map[string]any
	err     error
}

// Cache is a per-resolution-pass cache; it must not be shared across
// activations (spec.md §5). Its zero value is ready to use.
type Cache struct {
	mu   sync.Mutex
	done chan struct{}
	res  decryptResult
}

func newResultChan() chan struct{} { return make(chan struct{}) }

// fetchFileSecrets returns the decrypted payload, invoking decrypt at most
// once per Cache regardless of how many callers race to call this.
func (c *Cache) fetchFileSecrets(ctx context.Context, d Decrypter, path string, timeout time.Duration, configPath string) (map[string]any, error) {
	c.mu.Lock()
	if c.done == nil {
		c.done = newResultChan()
		go func() {
			defer close(c.done)
			val, err := d.Decrypt(ctx, path, timeout, missingSopsMessage, configPath)
			if err != nil {
				c.res = decryptResult{err: err}
				return
			}
			obj, ok := val.(map[string]any)
			if !ok {
				c.res = decryptResult{err: fmt.Errorf("sops decrypt failed: decrypted payload is not a JSON object")}
				return
			}
			c.res = decryptResult{payload: obj}
		}()
	}
	done := c.done
	c.mu.Unlock()

	<-done
	return c.res.payload, c.res.err
}

// ResolveContext carries the inputs needed to resolve a SecretRef: the secrets
// subtree of the config, an optional env override map (falls back to
// process environment), the shared per-pass cache, and the driver used for
// file refs.
type ResolveContext struct {
	Config         secrets.SecretsConfig
	Env            map[string]string
	Cache          *Cache
	Driver         Decrypter
	SopsConfigPath string // optional --config path for every invocation
}

func (c *ResolveContext) lookupEnv(name string) (string, bool) {
	if c.Env != nil {
		v, ok := c.Env[name]
		return v, ok
	}
	return os.LookupEnv(name)
}

// ResolveValue resolves ref to an opaque JSON value (spec.md §4.3).
func ResolveValue(ctx context.Context, ref secrets.SecretRef, rctx *ResolveContext) (any, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	switch ref.Source {
	case secrets.SourceEnv:
		val, ok := rctx.lookupEnv(ref.ID)
		if !ok || val == "" {
			return nil, fmt.Errorf("Environment variable %q is missing or empty.", ref.ID)
		}
		return val, nil

	case secrets.SourceFile:
		fileSrc := rctx.Config.Sources.File
		if fileSrc == nil {
			return nil, fmt.Errorf("secrets.sources.file is not configured; cannot resolve file secret reference %q", ref.ID)
		}
		if fileSrc.Type != "sops" {
			return nil, fmt.Errorf("unsupported secrets file source type %q (only \"sops\" is supported)", fileSrc.Type)
		}

		path, err := expandUser(fileSrc.Path)
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(fileSrc.NormalizedTimeoutMs()) * time.Millisecond

		if rctx.Cache == nil {
			rctx.Cache = &Cache{}
		}
		payload, err := rctx.Cache.fetchFileSecrets(ctx, rctx.Driver, path, timeout, rctx.SopsConfigPath)
		if err != nil {
			return nil, err
		}

		val, ok, err := jsonpointer.Read(map[string]any(payload), ref.ID, jsonpointer.Throw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("secret reference %q not found in decrypted payload", ref.ID)
		}
		return val, nil

	default:
		return nil, fmt.Errorf("secret ref: unknown source %q", ref.Source)
	}
}

// ResolveString resolves ref and requires the result to be a non-empty
// string (spec.md §4.3).
func ResolveString(ctx context.Context, ref secrets.SecretRef, rctx *ResolveContext) (string, error) {
	val, err := ResolveValue(ctx, ref, rctx)
	if err != nil {
		return "", err
	}
	str, ok := val.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("Secret reference %q resolved to a non-string or empty value.", ref.Source+":"+ref.ID)
	}
	return str, nil
}

// expandUser expands a leading "~" to the user's home directory.
func expandUser(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand path %q: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return home + path[1:], nil
	}
	return path, nil
}
