// Package snapshot builds an immutable RuntimeSnapshot from a raw config
// tree and a set of per-agent auth stores: every recognized SecretRef is
// replaced by its resolved plaintext value, never touching disk itself
// (spec.md §4.4). It is the only component that walks the full FieldSite
// enumeration end to end.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/secrets"
	"github.com/roelfdiedericks/goclaw/internal/secrets/resolver"
)

// Inputs are the arguments to PrepareSnapshot.
type Inputs struct {
	Config         map[string]any
	Env            map[string]string
	AgentDirs      []string
	LoadAuthStore  secrets.LoadAuthStoreFunc
	Driver         resolver.Decrypter
	SopsConfigPath string
}

// PrepareSnapshot deep-copies Config, resolves every recognized SecretRef in
// place, resolves keyRef/tokenRef entries in every auth store named by
// AgentDirs, and returns the fully-materialized snapshot plus any
// SECRETS_REF_OVERRIDES_PLAINTEXT warnings. The first resolution failure
// aborts the whole build (spec.md §4.4 step 5); PrepareSnapshot never
// writes to disk.
func PrepareSnapshot(ctx context.Context, in Inputs) (*secrets.RuntimeSnapshot, error) {
	cfgCopy, err := deepCopyJSON(in.Config)
	if err != nil {
		return nil, fmt.Errorf("prepare snapshot: deep copy config: %w", err)
	}

	secretsConfig, err := extractSecretsConfig(cfgCopy)
	if err != nil {
		return nil, fmt.Errorf("prepare snapshot: %w", err)
	}

	rctx := &resolver.ResolveContext{
		Config:         secretsConfig,
		Env:            in.Env,
		Driver:         in.Driver,
		SopsConfigPath: in.SopsConfigPath,
	}

	warnings, err := resolveConfigSites(ctx, cfgCopy, rctx)
	if err != nil {
		return nil, fmt.Errorf("prepare snapshot: %w", err)
	}

	var authStores []secrets.AgentAuthStore
	if in.LoadAuthStore != nil {
		for _, dir := range in.AgentDirs {
			store, err := in.LoadAuthStore(dir)
			if err != nil {
				return nil, fmt.Errorf("prepare snapshot: load auth store for %s: %w", dir, err)
			}
			if store == nil {
				continue
			}
			for _, id := range sortedProfileIDs(store.Profiles) {
				profile := store.Profiles[id]
				if profile == nil {
					continue
				}
				warning, err := resolveAuthProfile(ctx, rctx, dir, id, profile)
				if err != nil {
					return nil, fmt.Errorf("prepare snapshot: %w", err)
				}
				if warning != nil {
					warnings = append(warnings, *warning)
				}
			}
			authStores = append(authStores, secrets.AgentAuthStore{AgentDir: dir, Store: store})
		}
	}

	L_info("secrets: snapshot prepared", "authStores", len(authStores), "warnings", len(warnings))

	return &secrets.RuntimeSnapshot{
		Config:     cfgCopy,
		AuthStores: authStores,
		Warnings:   warnings,
		ResolvedAt: time.Now(),
	}, nil
}

// resolveConfigSites walks every FieldSite discovered in root and replaces
// resolvable SecretRefs in place, returning any override warnings.
func resolveConfigSites(ctx context.Context, root map[string]any, rctx *resolver.ResolveContext) ([]secrets.Warning, error) {
	var warnings []secrets.Warning

	for _, site := range secrets.DiscoverConfigSites(root) {
		parent, field, ok := site.Parent(root)
		if !ok {
			continue
		}

		switch site.Kind {
		case secrets.SingleFieldSite:
			raw, present := parent[field]
			if !present {
				continue
			}
			ref, isRef := secrets.IsSecretRef(raw)
			if !isRef {
				continue
			}
			val, err := resolver.ResolveString(ctx, *ref, rctx)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", site.Name, err)
			}
			parent[field] = val

		case secrets.SiblingFieldSite:
			refRaw, hasRef := parent[site.RefField]
			if !hasRef {
				continue
			}
			ref, isRef := secrets.IsSecretRef(refRaw)
			if !isRef {
				continue
			}
			plainRaw, hasPlain := parent[field]
			hadPlaintext := hasPlain && isNonEmptyPlain(plainRaw)

			val, err := resolver.ResolveValue(ctx, *ref, rctx)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", site.Name, err)
			}
			if hadPlaintext {
				warnings = append(warnings, secrets.Warning{
					Code:    secrets.WarnRefOverridesPlaintext,
					Message: fmt.Sprintf("%s: %s overrides plaintext value", site.Name, site.RefField),
					Site:    site.Name,
				})
			}
			parent[field] = val
			delete(parent, site.RefField)
		}
	}

	return warnings, nil
}

// resolveAuthProfile resolves p's keyRef or tokenRef (whichever applies to
// p.Type) in place, returning a SECRETS_REF_OVERRIDES_PLAINTEXT warning
// when a plaintext sibling was also present (spec.md §3's invariant on
// keyRef/tokenRef precedence).
func resolveAuthProfile(ctx context.Context, rctx *resolver.ResolveContext, agentDir, profileID string, p *secrets.AuthProfile) (*secrets.Warning, error) {
	switch p.Type {
	case secrets.ProfileTypeAPIKey:
		if p.KeyRef == nil {
			return nil, nil
		}
		hadPlain := p.Key != ""
		val, err := resolver.ResolveString(ctx, *p.KeyRef, rctx)
		if err != nil {
			return nil, fmt.Errorf("auth profile %q (%s): resolve keyRef: %w", profileID, agentDir, err)
		}
		p.Key = val
		p.KeyRef = nil
		if hadPlain {
			return &secrets.Warning{
				Code:    secrets.WarnRefOverridesPlaintext,
				Message: fmt.Sprintf("auth profile %q (%s): keyRef overrides plaintext key", profileID, agentDir),
				Site:    agentDir + "#profiles." + profileID + ".key",
			}, nil
		}
		return nil, nil

	case secrets.ProfileTypeToken:
		if p.TokenRef == nil {
			return nil, nil
		}
		hadPlain := p.Token != ""
		val, err := resolver.ResolveString(ctx, *p.TokenRef, rctx)
		if err != nil {
			return nil, fmt.Errorf("auth profile %q (%s): resolve tokenRef: %w", profileID, agentDir, err)
		}
		p.Token = val
		p.TokenRef = nil
		if hadPlain {
			return &secrets.Warning{
				Code:    secrets.WarnRefOverridesPlaintext,
				Message: fmt.Sprintf("auth profile %q (%s): tokenRef overrides plaintext token", profileID, agentDir),
				Site:    agentDir + "#profiles." + profileID + ".token",
			}, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func sortedProfileIDs(profiles map[string]*secrets.AuthProfile) []string {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// isNonEmptyPlain reports whether v is a plaintext value worth protecting
// against silent loss: a non-empty string or a non-empty object. Per
// spec.md §4.6.1, Google Chat service accounts may be either.
func isNonEmptyPlain(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func deepCopyJSON(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractSecretsConfig reads the "secrets" subtree of root into a typed
// SecretsConfig, defaulting to the zero value when absent.
func extractSecretsConfig(root map[string]any) (secrets.SecretsConfig, error) {
	raw, ok := root["secrets"]
	if !ok {
		return secrets.SecretsConfig{}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return secrets.SecretsConfig{}, fmt.Errorf("marshal secrets config: %w", err)
	}
	var cfg secrets.SecretsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return secrets.SecretsConfig{}, fmt.Errorf("unmarshal secrets config: %w", err)
	}
	return cfg, nil
}
