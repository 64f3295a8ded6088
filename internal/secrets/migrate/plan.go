package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
	"github.com/roelfdiedericks/goclaw/internal/secrets/jsonpointer"
)

const missingSopsMessage = "sops is not installed or not on PATH; required to read or write the encrypted secrets payload (install sops >= 3.9.0)"

// BuildPlan computes a MigrationPlan without touching disk except for
// reading the current config's collaborators: the existing encrypted
// payload (via decrypt), the sops config file, and the env file (spec.md
// §4.6's "Planning").
func BuildPlan(ctx context.Context, in Inputs) (*MigrationPlan, error) {
	if in.Config == nil {
		return nil, errors.New("secrets migrate: config is nil")
	}
	if issues := validateFieldSites(in.Config); len(issues) > 0 {
		return nil, fmt.Errorf("secrets migrate: invalid config: %s", strings.Join(issues, "; "))
	}

	nextConfig, err := deepCopyJSON(in.Config)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: deep copy config: %w", err)
	}

	secretsPath, hadFileSource, err := resolveSecretsPath(nextConfig, in)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: resolve secrets path: %w", err)
	}

	sopsConfigPath, err := discoverSopsConfigPath(in)
	if err != nil {
		return nil, err
	}

	originalPayload, err := loadPayload(ctx, in, secretsPath, sopsConfigPath)
	if err != nil {
		return nil, err
	}
	nextPayload := deepCloneAny(originalPayload)

	counters := Counters{}
	migratedValues := make(map[string]struct{})

	for _, site := range secrets.DiscoverConfigSites(nextConfig) {
		if err := migrateConfigSite(site, nextConfig, nextPayload, &counters, migratedValues); err != nil {
			return nil, fmt.Errorf("secrets migrate: %s: %w", site.Name, err)
		}
	}

	agentDirs, err := discoverAgentDirs(in)
	if err != nil {
		return nil, err
	}

	var authStores []authStorePlan
	if in.LoadAuthStore != nil {
		for _, dir := range agentDirs {
			original, err := in.LoadAuthStore(dir)
			if err != nil {
				return nil, fmt.Errorf("secrets migrate: load auth store %s: %w", dir, err)
			}
			if original == nil {
				continue
			}

			nextStore, err := cloneAuthStore(original)
			if err != nil {
				return nil, fmt.Errorf("secrets migrate: clone auth store %s: %w", dir, err)
			}

			scope := scopeForAgentDir(dir, in.StateDir)
			for _, id := range sortedProfileIDs(nextStore.Profiles) {
				profile := nextStore.Profiles[id]
				if profile == nil {
					continue
				}
				if err := migrateAuthProfile(scope, id, profile, nextPayload, &counters, migratedValues); err != nil {
					return nil, fmt.Errorf("secrets migrate: auth profile %s/%s: %w", dir, id, err)
				}
			}

			changed := !jsonEqual(original, nextStore)
			if changed {
				counters.AuthStoresChanged++
			}
			authStores = append(authStores, authStorePlan{
				AgentDir:  dir,
				StorePath: filepath.Join(dir, "auth-profiles.json"),
				Scope:     scope,
				Original:  original,
				Next:      nextStore,
				Changed:   changed,
			})
		}
	}

	if counters.SecretsWritten > 0 && !hadFileSource {
		setSecretsSourceFile(nextConfig, secretsPath)
	}

	plan := &MigrationPlan{
		NextConfig:      nextConfig,
		OriginalPayload: originalPayload,
		NextPayload:     nextPayload,
		SecretsPath:     secretsPath,
		SopsConfigPath:  sopsConfigPath,
		ConfigChanged:   !jsonEqual(in.Config, nextConfig),
		PayloadChanged:  !jsonEqual(originalPayload, nextPayload),
		Counters:        counters,
		AuthStores:      authStores,
		MigratedValues:  migratedValues,
	}

	if in.ScrubEnv && len(migratedValues) > 0 {
		envPath := in.envPath()
		plan.EnvPath = envPath
		raw, err := os.ReadFile(envPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("secrets migrate: read env file: %w", err)
			}
		} else {
			scrubbed, removed := scrubEnv(raw, migratedValues, in.allowList())
			if removed > 0 {
				plan.EnvChanged = true
				plan.NextEnvContent = scrubbed
				plan.Counters.EnvEntriesRemoved = removed
			}
		}
	}

	plan.Changed = plan.ConfigChanged || plan.PayloadChanged || plan.EnvChanged || plan.Counters.AuthStoresChanged > 0
	plan.BackupTargets = buildBackupTargets(plan, in)

	return plan, nil
}

// validateFieldSites performs the narrow structural check this core owns:
// every FieldSite that is present must be shaped like a plaintext value (or
// a SecretRef). Full config validation belongs to the gateway's config
// loader (spec.md §1's Out of scope).
func validateFieldSites(root map[string]any) []string {
	var issues []string
	for _, site := range secrets.DiscoverConfigSites(root) {
		parent, field, ok := site.Parent(root)
		if !ok {
			continue
		}
		raw, present := parent[field]
		if !present {
			continue
		}
		if _, isRef := secrets.IsSecretRef(raw); isRef {
			continue
		}
		pointer := jsonpointer.Pointer(site.Path...)
		switch site.Kind {
		case secrets.SingleFieldSite:
			if _, ok := raw.(string); !ok {
				issues = append(issues, fmt.Sprintf("%s: expected a string or {source,id} reference", pointer))
			}
		case secrets.SiblingFieldSite:
			switch raw.(type) {
			case string, map[string]any:
			default:
				issues = append(issues, fmt.Sprintf("%s: expected a string, object, or {source,id} reference", pointer))
			}
		}
	}
	return issues
}

func resolveSecretsPath(nextConfig map[string]any, in Inputs) (string, bool, error) {
	if path, ok := configuredSecretsPath(nextConfig); ok {
		expanded, err := expandUser(path)
		return expanded, true, err
	}
	expanded, err := expandUser(defaultSecretsPath(in))
	return expanded, false, err
}

func configuredSecretsPath(nextConfig map[string]any) (string, bool) {
	secretsSubtree, ok := nextConfig["secrets"].(map[string]any)
	if !ok {
		return "", false
	}
	sources, ok := secretsSubtree["sources"].(map[string]any)
	if !ok {
		return "", false
	}
	file, ok := sources["file"].(map[string]any)
	if !ok {
		return "", false
	}
	typ, _ := file["type"].(string)
	if typ != "sops" {
		return "", false
	}
	path, _ := file["path"].(string)
	if path == "" {
		return "", false
	}
	return path, true
}

// defaultSecretsPath is the fallback file source when none is configured
// (spec.md §4.6 step 2).
func defaultSecretsPath(in Inputs) string {
	if in.StateDirExplicit && in.StateDir != "" {
		return filepath.Join(in.StateDir, "secrets.enc.json")
	}
	return "~/.openclaw/secrets.enc.json"
}

// setSecretsSourceFile synthesizes secrets.sources.file once a secret has
// actually been written and none was configured (spec.md §4.6 step 7).
func setSecretsSourceFile(nextConfig map[string]any, path string) {
	secretsSubtree, ok := nextConfig["secrets"].(map[string]any)
	if !ok {
		secretsSubtree = map[string]any{}
		nextConfig["secrets"] = secretsSubtree
	}
	sources, ok := secretsSubtree["sources"].(map[string]any)
	if !ok {
		sources = map[string]any{}
		secretsSubtree["sources"] = sources
	}
	sources["file"] = map[string]any{"type": "sops", "path": path, "timeoutMs": 5000}
}

// discoverSopsConfigPath checks <configDir>/.sops.yaml then .sops.yml
// (spec.md §4.6 step 3).
func discoverSopsConfigPath(in Inputs) (string, error) {
	if in.SopsConfigOverride != "" {
		return in.SopsConfigOverride, nil
	}
	if in.ConfigDir == "" {
		return "", nil
	}
	for _, name := range []string{".sops.yaml", ".sops.yml"} {
		candidate := filepath.Join(in.ConfigDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("secrets migrate: check sops config %s: %w", candidate, err)
		}
	}
	return "", nil
}

// loadPayload decrypts the existing encrypted payload at path, treating an
// absent file as an empty object (spec.md §4.6 step 4).
func loadPayload(ctx context.Context, in Inputs, path, sopsConfigPath string) (map[string]any, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]any{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("secrets migrate: stat encrypted payload: %w", err)
	}
	if in.Tool == nil {
		return nil, errors.New("secrets migrate: no tool driver configured to decrypt existing payload")
	}

	val, err := in.Tool.Decrypt(ctx, path, in.timeout(), missingSopsMessage, sopsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: decrypt existing payload: %w", err)
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("secrets migrate: existing encrypted payload is not a JSON object")
	}
	return obj, nil
}

// discoverAgentDirs enumerates every auth-store directory to migrate
// (spec.md §4.6 step 6): the canonical default store, every directory
// under <stateDir>/agents/*/agent, and every explicit per-agent directory,
// de-duplicated by canonicalized absolute path (spec.md §9 Open Question b).
func discoverAgentDirs(in Inputs) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("secrets migrate: resolve agent dir %q: %w", p, err)
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true
		dirs = append(dirs, abs)
		return nil
	}

	if in.StateDir != "" {
		if err := add(filepath.Join(in.StateDir, "agents", "main", "agent")); err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(filepath.Join(in.StateDir, "agents", "*", "agent"))
		if err != nil {
			return nil, fmt.Errorf("secrets migrate: glob agent dirs: %w", err)
		}
		for _, m := range matches {
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}

	for _, p := range in.ExtraAuthStorePaths {
		if err := add(p); err != nil {
			return nil, err
		}
	}

	sort.Strings(dirs)
	return dirs, nil
}

func buildBackupTargets(plan *MigrationPlan, in Inputs) []string {
	var targets []string
	if plan.PayloadChanged {
		targets = append(targets, plan.SecretsPath)
	}
	if plan.ConfigChanged {
		targets = append(targets, in.ConfigPath)
	}
	for _, as := range plan.AuthStores {
		if as.Changed {
			targets = append(targets, as.StorePath)
		}
	}
	if plan.EnvChanged {
		targets = append(targets, plan.EnvPath)
	}
	return targets
}

func cloneAuthStore(store *secrets.AuthProfileStore) (*secrets.AuthProfileStore, error) {
	data, err := json.Marshal(store)
	if err != nil {
		return nil, err
	}
	var out secrets.AuthProfileStore
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func sortedProfileIDs(profiles map[string]*secrets.AuthProfile) []string {
	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

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
