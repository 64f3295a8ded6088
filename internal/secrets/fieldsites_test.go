package secrets

import "testing"

func findSite(sites []ConfigSite, name string) (ConfigSite, bool) {
	for _, s := range sites {
		if s.Name == name {
			return s, true
		}
	}
	return ConfigSite{}, false
}

func TestDiscoverConfigSitesProviderAPIKeyUsesShortenedPayloadPath(t *testing.T) {
	root := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{"apiKey": "sk-live-123"},
			},
		},
	}
	sites := DiscoverConfigSites(root)
	site, ok := findSite(sites, "models.providers.openai.apiKey")
	if !ok {
		t.Fatal("expected provider apiKey site to be discovered")
	}
	if site.Kind != SingleFieldSite {
		t.Fatalf("expected SingleFieldSite, got %v", site.Kind)
	}
	wantPath := []string{"models", "providers", "openai", "apiKey"}
	if !equalStrings(site.Path, wantPath) {
		t.Fatalf("Path = %v, want %v", site.Path, wantPath)
	}
	wantPayloadPath := []string{"providers", "openai", "apiKey"}
	if !equalStrings(site.PayloadPath, wantPayloadPath) {
		t.Fatalf("PayloadPath = %v, want %v (models prefix must be dropped)", site.PayloadPath, wantPayloadPath)
	}
}

func TestDiscoverConfigSitesSkillAPIKeyUsesIdenticalShapes(t *testing.T) {
	root := map[string]any{
		"skills": map[string]any{
			"entries": map[string]any{
				"review": map[string]any{"apiKey": "sk-skill"},
			},
		},
	}
	sites := DiscoverConfigSites(root)
	site, ok := findSite(sites, "skills.entries.review.apiKey")
	if !ok {
		t.Fatal("expected skill apiKey site to be discovered")
	}
	if !equalStrings(site.Path, site.PayloadPath) {
		t.Fatalf("expected identical Path and PayloadPath for skills, got %v vs %v", site.Path, site.PayloadPath)
	}
}

func TestDiscoverConfigSitesGoogleChatTopLevelSibling(t *testing.T) {
	root := map[string]any{
		"channels": map[string]any{
			"googlechat": map[string]any{"serviceAccount": "{}"},
		},
	}
	sites := DiscoverConfigSites(root)
	site, ok := findSite(sites, "channels.googlechat.serviceAccount")
	if !ok {
		t.Fatal("expected googlechat top-level site to be discovered")
	}
	if site.Kind != SiblingFieldSite || site.RefField != "serviceAccountRef" {
		t.Fatalf("unexpected site %+v", site)
	}
}

func TestDiscoverConfigSitesGoogleChatTopLevelOnlyRefPresent(t *testing.T) {
	root := map[string]any{
		"channels": map[string]any{
			"googlechat": map[string]any{"serviceAccountRef": map[string]any{"source": "env", "id": "GCHAT_SA"}},
		},
	}
	sites := DiscoverConfigSites(root)
	if _, ok := findSite(sites, "channels.googlechat.serviceAccount"); !ok {
		t.Fatal("expected site discovered even when only the ref field is present")
	}
}

func TestDiscoverConfigSitesGoogleChatAbsentWhenNeitherFieldPresent(t *testing.T) {
	root := map[string]any{
		"channels": map[string]any{
			"googlechat": map[string]any{"enabled": true},
		},
	}
	sites := DiscoverConfigSites(root)
	if _, ok := findSite(sites, "channels.googlechat.serviceAccount"); ok {
		t.Fatal("expected no site when neither serviceAccount nor serviceAccountRef is present")
	}
}

func TestDiscoverConfigSitesGoogleChatPerAccount(t *testing.T) {
	root := map[string]any{
		"channels": map[string]any{
			"googlechat": map[string]any{
				"accounts": map[string]any{
					"support": map[string]any{"serviceAccount": "{}"},
					"sales":   map[string]any{"enabled": true},
				},
			},
		},
	}
	sites := DiscoverConfigSites(root)
	if _, ok := findSite(sites, "channels.googlechat.accounts.support.serviceAccount"); !ok {
		t.Fatal("expected per-account site for support")
	}
	if _, ok := findSite(sites, "channels.googlechat.accounts.sales.serviceAccount"); ok {
		t.Fatal("expected no site for sales (neither field present)")
	}
}

func TestDiscoverConfigSitesOrderingIsStable(t *testing.T) {
	root := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"zeta":  map[string]any{"apiKey": "z"},
				"alpha": map[string]any{"apiKey": "a"},
			},
		},
	}
	sites := DiscoverConfigSites(root)
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}
	if sites[0].Name != "models.providers.alpha.apiKey" || sites[1].Name != "models.providers.zeta.apiKey" {
		t.Fatalf("expected sorted order, got %q then %q", sites[0].Name, sites[1].Name)
	}
}

func TestConfigSiteParentResolvesContainingObject(t *testing.T) {
	root := map[string]any{
		"models": map[string]any{
			"providers": map[string]any{
				"openai": map[string]any{"apiKey": "sk-live-123"},
			},
		},
	}
	site, ok := findSite(DiscoverConfigSites(root), "models.providers.openai.apiKey")
	if !ok {
		t.Fatal("site not found")
	}
	parent, field, ok := site.Parent(root)
	if !ok || field != "apiKey" {
		t.Fatalf("unexpected Parent result: ok=%v field=%q", ok, field)
	}
	if parent["apiKey"] != "sk-live-123" {
		t.Fatalf("unexpected parent contents: %+v", parent)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
