package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRollbackRestoresFilesFromManifest(t *testing.T) {
	stateDir := t.TempDir()
	root := backupRoot(stateDir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		t.Fatalf("mkdir backup root: %v", err)
	}

	id, err := generateBackupID(time.Now(), root)
	if err != nil {
		t.Fatalf("generateBackupID: %v", err)
	}
	backupDir := filepath.Join(root, id)
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		t.Fatalf("mkdir backup dir: %v", err)
	}

	target := filepath.Join(stateDir, "config.json")
	if err := os.WriteFile(target, []byte(`{"migrated":true}`), 0o600); err != nil {
		t.Fatalf("write current config: %v", err)
	}
	backupCopy := filepath.Join(backupDir, "config.json")
	if err := os.WriteFile(backupCopy, []byte(`{"original":true}`), 0o600); err != nil {
		t.Fatalf("write backup copy: %v", err)
	}

	manifest := &BackupManifest{
		Version:  1,
		BackupID: id,
		Entries: []BackupEntry{
			{Path: target, Existed: true, BackupPath: backupCopy, Mode: 0o600},
		},
	}
	if err := writeManifest(backupDir, manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}

	result, err := Rollback(stateDir, id)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if result.BackupID != id || len(result.RestoredFiles) != 1 || len(result.DeletedFiles) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read restored config: %v", err)
	}
	if string(data) != `{"original":true}` {
		t.Fatalf("config not restored, got %q", data)
	}
}

func TestRollbackIsIdempotent(t *testing.T) {
	stateDir := t.TempDir()
	root := backupRoot(stateDir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		t.Fatalf("mkdir backup root: %v", err)
	}
	id := "20260304T102030Z"
	backupDir := filepath.Join(root, id)
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		t.Fatalf("mkdir backup dir: %v", err)
	}

	newFile := filepath.Join(stateDir, "newly-created.json")
	if err := os.WriteFile(newFile, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write new file: %v", err)
	}
	manifest := &BackupManifest{Version: 1, BackupID: id, Entries: []BackupEntry{{Path: newFile, Existed: false}}}
	if err := writeManifest(backupDir, manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := Rollback(stateDir, id); err != nil {
			t.Fatalf("Rollback pass %d: %v", i, err)
		}
	}

	if _, err := os.Stat(newFile); !os.IsNotExist(err) {
		t.Fatalf("expected file deleted after rollback, stat err = %v", err)
	}
}

func TestRollbackUnknownBackupIDFails(t *testing.T) {
	stateDir := t.TempDir()
	if _, err := Rollback(stateDir, "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown backup id")
	}
}
