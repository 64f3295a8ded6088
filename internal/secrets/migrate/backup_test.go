package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateBackupIDDisambiguatesOnCollision(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 4, 10, 20, 30, 0, time.UTC)

	first, err := generateBackupID(now, root)
	if err != nil {
		t.Fatalf("generateBackupID: %v", err)
	}
	if first != "20260304T102030Z" {
		t.Fatalf("first id = %q", first)
	}
	if err := os.MkdirAll(filepath.Join(root, first), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	second, err := generateBackupID(now, root)
	if err != nil {
		t.Fatalf("generateBackupID: %v", err)
	}
	if second == first {
		t.Fatalf("expected a disambiguated id, got %q again", second)
	}
}

func TestBackupFileRecordsAbsence(t *testing.T) {
	dir := t.TempDir()
	entry, err := backupFile(filepath.Join(dir, "missing.json"), dir)
	if err != nil {
		t.Fatalf("backupFile: %v", err)
	}
	if entry.Existed {
		t.Fatal("expected Existed=false for a missing file")
	}
	if entry.BackupPath != "" {
		t.Fatalf("expected no backup path, got %q", entry.BackupPath)
	}
}

func TestBackupFileCopiesExistingContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "secrets.enc.json")
	if err := os.WriteFile(target, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}

	backupDir := t.TempDir()
	entry, err := backupFile(target, backupDir)
	if err != nil {
		t.Fatalf("backupFile: %v", err)
	}
	if !entry.Existed || entry.BackupPath == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	data, err := os.ReadFile(entry.BackupPath)
	if err != nil {
		t.Fatalf("read backup copy: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("backup copy content = %q", data)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := &BackupManifest{
		Version:  1,
		BackupID: "20260304T102030Z",
		Entries: []BackupEntry{
			{Path: "/a", Existed: true, BackupPath: filepath.Join(dir, "a"), Mode: 0o600},
			{Path: "/b", Existed: false},
		},
	}
	if err := writeManifest(dir, manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}
	got, err := readManifest(dir)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if got.BackupID != manifest.BackupID || len(got.Entries) != 2 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestRestoreFromManifestIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "config.json")
	if err := os.WriteFile(target, []byte(`{"changed":true}`), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}

	backupDir := t.TempDir()
	backupCopy := filepath.Join(backupDir, "config.json")
	if err := os.WriteFile(backupCopy, []byte(`{"original":true}`), 0o600); err != nil {
		t.Fatalf("write backup copy: %v", err)
	}

	newFile := filepath.Join(dir, "new-file.json")
	if err := os.WriteFile(newFile, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	manifest := &BackupManifest{
		Entries: []BackupEntry{
			{Path: target, Existed: true, BackupPath: backupCopy, Mode: 0o600},
			{Path: newFile, Existed: false},
		},
	}

	for i := 0; i < 2; i++ {
		restored, deleted, err := restoreFromManifest(manifest)
		if err != nil {
			t.Fatalf("restoreFromManifest (pass %d): %v", i, err)
		}
		if len(restored) != 1 || len(deleted) != 1 {
			t.Fatalf("pass %d: restored=%v deleted=%v", i, restored, deleted)
		}
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read restored target: %v", err)
	}
	if string(data) != `{"original":true}` {
		t.Fatalf("target content after restore = %q", data)
	}
	if _, err := os.Stat(newFile); !os.IsNotExist(err) {
		t.Fatalf("expected new file to be deleted, stat err = %v", err)
	}
}

func TestPruneOldBackupsKeepsMostRecent(t *testing.T) {
	root := t.TempDir()
	ids := []string{
		"20260101T000000Z",
		"20260102T000000Z",
		"20260103T000000Z",
	}
	for _, id := range ids {
		if err := os.MkdirAll(filepath.Join(root, id), 0o700); err != nil {
			t.Fatalf("mkdir %s: %v", id, err)
		}
	}

	pruneOldBackups(root, 2)

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 remaining backups, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(root, "20260101T000000Z")); !os.IsNotExist(err) {
		t.Fatal("expected oldest backup to be pruned")
	}
}
