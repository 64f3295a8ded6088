package migrate

import "testing"

func TestScrubEnvRemovesAllowListedMigratedValue(t *testing.T) {
	content := "FOO=bar\nOPENAI_API_KEY=sk-live-123\nBAZ=qux\n"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	want := "FOO=bar\nBAZ=qux\n"
	if string(out) != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestScrubEnvLeavesNonAllowListedKeyAlone(t *testing.T) {
	content := "SOME_OTHER_KEY=sk-live-123\n"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 0 || string(out) != content {
		t.Fatalf("expected no-op, got removed=%d out=%q", removed, out)
	}
}

func TestScrubEnvLeavesNonMatchingValueAlone(t *testing.T) {
	content := "OPENAI_API_KEY=sk-different\n"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 0 || string(out) != content {
		t.Fatalf("expected no-op on value mismatch, got removed=%d out=%q", removed, out)
	}
}

func TestScrubEnvHandlesExportPrefixAndQuotes(t *testing.T) {
	content := `export OPENAI_API_KEY="sk-live-123"` + "\n"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 1 || len(out) != 1 {
		t.Fatalf("removed=%d out=%q", removed, out)
	}
}

func TestScrubEnvPreservesTrailingNewlinePresence(t *testing.T) {
	content := "OPENAI_API_KEY=sk-live-123"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if string(out) != "\n" {
		t.Fatalf("out = %q, want a bare newline for an emptied result", out)
	}
}

func TestScrubEnvIgnoresMalformedLines(t *testing.T) {
	content := "not a valid line\nOPENAI_API_KEY=sk-live-123\n"
	migrated := map[string]struct{}{"sk-live-123": {}}
	allow := map[string]bool{"OPENAI_API_KEY": true}

	out, removed := scrubEnv([]byte(content), migrated, allow)
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if string(out) != "not a valid line\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestParseEnvValueStripsQuotesAndWhitespace(t *testing.T) {
	tests := map[string]string{
		`"sk-123"`:  "sk-123",
		`'sk-123'`:  "sk-123",
		`  sk-123 `: "sk-123",
		`sk-123`:    "sk-123",
	}
	for raw, want := range tests {
		if got := parseEnvValue(raw); got != want {
			t.Fatalf("parseEnvValue(%q) = %q, want %q", raw, got, want)
		}
	}
}
