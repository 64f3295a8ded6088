package migrate

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
	"github.com/roelfdiedericks/goclaw/internal/secrets/jsonpointer"
)

// migrateConfigSite applies the per-site rule of spec.md §4.6.1 to one
// ConfigSite discovered in nextConfig, writing plaintext into nextPayload
// and replacing it with a SecretRef in nextConfig.
func migrateConfigSite(site secrets.ConfigSite, nextConfig, nextPayload map[string]any, counters *Counters, migratedValues map[string]struct{}) error {
	parent, field, ok := site.Parent(nextConfig)
	if !ok {
		return nil
	}

	switch site.Kind {
	case secrets.SingleFieldSite:
		return migrateSingleFieldSite(parent, field, site.PayloadPath, nextPayload, counters, migratedValues)
	case secrets.SiblingFieldSite:
		return migrateSiblingFieldSite(parent, field, site.RefField, site.PayloadPath, nextPayload, counters, migratedValues)
	default:
		return nil
	}
}

func migrateSingleFieldSite(parent map[string]any, field string, payloadPath []string, nextPayload map[string]any, counters *Counters, migratedValues map[string]struct{}) error {
	raw, present := parent[field]
	if !present {
		return nil
	}
	if _, isRef := secrets.IsSecretRef(raw); isRef {
		return nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil
	}
	value := strings.TrimSpace(str)
	if value == "" {
		return nil
	}

	pointer := jsonpointer.Pointer(payloadPath...)
	changed, err := writePayloadIfDifferent(nextPayload, pointer, value)
	if err != nil {
		return err
	}
	if changed {
		counters.SecretsWritten++
	}
	migratedValues[value] = struct{}{}

	parent[field] = map[string]any{"source": secrets.SourceFile, "id": pointer}
	counters.ConfigRefs++
	return nil
}

func migrateSiblingFieldSite(parent map[string]any, field, refField string, payloadPath []string, nextPayload map[string]any, counters *Counters, migratedValues map[string]struct{}) error {
	if refRaw, hasRef := parent[refField]; hasRef {
		if _, isRef := secrets.IsSecretRef(refRaw); isRef {
			// Already migrated: drop a lingering plaintext sibling, leave the ref alone.
			if plainRaw, hasPlain := parent[field]; hasPlain && isNonEmptyPlain(plainRaw) {
				delete(parent, field)
				counters.PlaintextRemoved++
			}
			return nil
		}
	}

	plainRaw, hasPlain := parent[field]
	if !hasPlain || !isNonEmptyPlain(plainRaw) {
		return nil
	}

	var value any
	switch t := plainRaw.(type) {
	case string:
		value = strings.TrimSpace(t)
	case map[string]any:
		value = deepCloneAny(t)
	default:
		return nil
	}

	pointer := jsonpointer.Pointer(payloadPath...)
	changed, err := writePayloadIfDifferent(nextPayload, pointer, value)
	if err != nil {
		return err
	}
	if changed {
		counters.SecretsWritten++
	}
	if s, ok := value.(string); ok {
		migratedValues[s] = struct{}{}
	}

	delete(parent, field)
	parent[refField] = map[string]any{"source": secrets.SourceFile, "id": pointer}
	counters.ConfigRefs++
	return nil
}

// migrateAuthProfile applies the api_key/token rule of spec.md §4.6.1 to
// one profile, writing plaintext into nextPayload under
// /auth-profiles/<scope>/<profileId>/(key|token).
func migrateAuthProfile(scope, profileID string, p *secrets.AuthProfile, nextPayload map[string]any, counters *Counters, migratedValues map[string]struct{}) error {
	switch p.Type {
	case secrets.ProfileTypeAPIKey:
		if p.KeyRef != nil && p.KeyRef.Validate() == nil {
			if p.Key != "" {
				p.Key = ""
				counters.PlaintextRemoved++
			}
			return nil
		}
		value := strings.TrimSpace(p.Key)
		if value == "" {
			return nil
		}
		pointer := jsonpointer.Pointer("auth-profiles", scope, profileID, "key")
		changed, err := writePayloadIfDifferent(nextPayload, pointer, value)
		if err != nil {
			return err
		}
		if changed {
			counters.SecretsWritten++
		}
		migratedValues[value] = struct{}{}
		p.Key = ""
		p.KeyRef = &secrets.SecretRef{Source: secrets.SourceFile, ID: pointer}
		counters.AuthProfileRefs++
		return nil

	case secrets.ProfileTypeToken:
		if p.TokenRef != nil && p.TokenRef.Validate() == nil {
			if p.Token != "" {
				p.Token = ""
				counters.PlaintextRemoved++
			}
			return nil
		}
		value := strings.TrimSpace(p.Token)
		if value == "" {
			return nil
		}
		pointer := jsonpointer.Pointer("auth-profiles", scope, profileID, "token")
		changed, err := writePayloadIfDifferent(nextPayload, pointer, value)
		if err != nil {
			return err
		}
		if changed {
			counters.SecretsWritten++
		}
		migratedValues[value] = struct{}{}
		p.Token = ""
		p.TokenRef = &secrets.SecretRef{Source: secrets.SourceFile, ID: pointer}
		counters.AuthProfileRefs++
		return nil

	default:
		return nil
	}
}

// scopeForAgentDir computes the pointer-naming scope for an auth store
// (spec.md §4.6 step 6): the agent name when agentDir sits under the
// standard <stateDir>/agents/<name>/agent layout, else a short hash of the
// absolute directory path.
func scopeForAgentDir(agentDir, stateDir string) string {
	if stateDir != "" {
		agentsRoot := filepath.Join(stateDir, "agents")
		if rel, err := filepath.Rel(agentsRoot, agentDir); err == nil && !strings.HasPrefix(rel, "..") {
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) == 2 && parts[1] == "agent" {
				return parts[0]
			}
		}
	}
	sum := sha1.Sum([]byte(agentDir))
	return "path-" + hex.EncodeToString(sum[:])[:8]
}

func writePayloadIfDifferent(payload map[string]any, pointer string, value any) (bool, error) {
	existing, ok, err := jsonpointer.Read(payload, pointer, jsonpointer.Undefined)
	if err != nil {
		return false, err
	}
	if ok && jsonEqual(existing, value) {
		return false, nil
	}
	if err := jsonpointer.Set(payload, pointer, value); err != nil {
		return false, err
	}
	return true, nil
}

func jsonEqual(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}

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

func deepCloneAny(v map[string]any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
