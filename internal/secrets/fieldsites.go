package secrets

import "sort"

// SiteKind distinguishes the two FieldSite shapes named in spec.md §3.
type SiteKind int

const (
	// SingleFieldSite is a field that itself holds either a plaintext
	// string or a SecretRef object (e.g. a provider's apiKey).
	SingleFieldSite SiteKind = iota
	// SiblingFieldSite is a field that is always plaintext, paired with a
	// dedicated "<Field>Ref" sibling field on the same object (e.g.
	// serviceAccount / serviceAccountRef, key / keyRef, token / tokenRef).
	SiblingFieldSite
)

// ConfigSite describes one FieldSite location discovered inside the
// generic config tree. Path is the raw (unescaped) key sequence from the
// document root down to, and including, the field itself.
type ConfigSite struct {
	Name  string // human-readable label used in warnings, e.g. "models.providers.openai.apiKey"
	Path  []string
	Kind  SiteKind
	RefField string // for SiblingFieldSite: the sibling field name, e.g. "serviceAccountRef"

	// PayloadPath is the key sequence used to address this site inside the
	// encrypted payload during migration (spec.md §4.6.1, §6). It usually
	// equals Path, except providers drop the "models" prefix
	// ("/providers/<id>/apiKey" rather than "/models/providers/<id>/apiKey").
	PayloadPath []string
}

// object reads a nested map[string]any at path from root, returning
// (nil, false) if any intermediate is absent or not an object.
func object(root map[string]any, path ...string) (map[string]any, bool) {
	cur := root
	for _, key := range path {
		next, ok := cur[key]
		if !ok {
			return nil, false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = m
	}
	return cur, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DiscoverConfigSites enumerates every FieldSite recognized by the core
// inside a generic config tree (spec.md §3): provider apiKeys, skill
// apiKeys, and Google Chat service accounts (top-level and per-account).
// Enumeration order is stable (sorted map keys) to satisfy the ordering
// guarantee in spec.md §5.
func DiscoverConfigSites(root map[string]any) []ConfigSite {
	var sites []ConfigSite

	if providers, ok := object(root, "models", "providers"); ok {
		for _, id := range sortedKeys(providers) {
			sites = append(sites, ConfigSite{
				Name:        "models.providers." + id + ".apiKey",
				Path:        []string{"models", "providers", id, "apiKey"},
				PayloadPath: []string{"providers", id, "apiKey"},
				Kind:        SingleFieldSite,
			})
		}
	}

	if entries, ok := object(root, "skills", "entries"); ok {
		for _, key := range sortedKeys(entries) {
			sites = append(sites, ConfigSite{
				Name:        "skills.entries." + key + ".apiKey",
				Path:        []string{"skills", "entries", key, "apiKey"},
				PayloadPath: []string{"skills", "entries", key, "apiKey"},
				Kind:        SingleFieldSite,
			})
		}
	}

	if gchat, ok := object(root, "channels", "googlechat"); ok {
		_, hasPlain := gchat["serviceAccount"]
		_, hasRef := gchat["serviceAccountRef"]
		if hasPlain || hasRef {
			sites = append(sites, ConfigSite{
				Name:        "channels.googlechat.serviceAccount",
				Path:        []string{"channels", "googlechat", "serviceAccount"},
				PayloadPath: []string{"channels", "googlechat", "serviceAccount"},
				Kind:        SiblingFieldSite,
				RefField:    "serviceAccountRef",
			})
		}

		if accounts, ok := object(root, "channels", "googlechat", "accounts"); ok {
			for _, id := range sortedKeys(accounts) {
				acct, ok := accounts[id].(map[string]any)
				if !ok {
					continue
				}
				_, hasPlain := acct["serviceAccount"]
				_, hasRef := acct["serviceAccountRef"]
				if !hasPlain && !hasRef {
					continue
				}
				sites = append(sites, ConfigSite{
					Name:        "channels.googlechat.accounts." + id + ".serviceAccount",
					Path:        []string{"channels", "googlechat", "accounts", id, "serviceAccount"},
					PayloadPath: []string{"channels", "googlechat", "accounts", id, "serviceAccount"},
					Kind:        SiblingFieldSite,
					RefField:    "serviceAccountRef",
				})
			}
		}
	}

	return sites
}

// Parent returns the containing object of a site (the map that directly
// holds the site's field and, for SiblingFieldSite, its ref field), and the
// field's own key.
func (s ConfigSite) Parent(root map[string]any) (map[string]any, string, bool) {
	if len(s.Path) == 0 {
		return nil, "", false
	}
	parent, ok := object(root, s.Path[:len(s.Path)-1]...)
	if !ok {
		return nil, "", false
	}
	return parent, s.Path[len(s.Path)-1], true
}
