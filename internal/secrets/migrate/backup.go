package migrate

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/sandbox"
)

const backupManifestFile = "manifest.json"
const keepBackups = 20

// BackupEntry records one backed-up (or absent) file (spec.md §3).
type BackupEntry struct {
	Path       string `json:"path"`
	Existed    bool   `json:"existed"`
	BackupPath string `json:"backupPath,omitempty"`
	Mode       uint32 `json:"mode,omitempty"`
}

// BackupManifest is the record of one migration's backups, enabling
// deterministic rollback (spec.md §3).
type BackupManifest struct {
	Version   int           `json:"version"`
	BackupID  string        `json:"backupId"`
	CreatedAt time.Time     `json:"createdAt"`
	Entries   []BackupEntry `json:"entries"`
}

func backupRoot(stateDir string) string {
	return filepath.Join(stateDir, "backups", "secrets-migrate")
}

// generateBackupID produces a YYYYMMDDThhmmssZ id, disambiguating with a
// short uuid suffix on collision (spec.md §4.6.4 step 1).
func generateBackupID(now time.Time, root string) (string, error) {
	id := now.UTC().Format("20060102T150405Z")
	for {
		_, err := os.Stat(filepath.Join(root, id))
		if os.IsNotExist(err) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check backup id %q: %w", id, err)
		}
		id = now.UTC().Format("20060102T150405Z") + "-" + uuid.New().String()[:8]
	}
}

// backupFile copies path into backupDir, recording whether it existed.
func backupFile(path, backupDir string) (BackupEntry, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return BackupEntry{Path: path, Existed: false}, nil
	}
	if err != nil {
		return BackupEntry{}, fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return BackupEntry{}, fmt.Errorf("read %s: %w", path, err)
	}

	dest := filepath.Join(backupDir, backupFileName(path))
	if err := os.WriteFile(dest, data, info.Mode().Perm()); err != nil {
		return BackupEntry{}, fmt.Errorf("write backup copy of %s: %w", path, err)
	}

	return BackupEntry{Path: path, Existed: true, BackupPath: dest, Mode: uint32(info.Mode().Perm())}, nil
}

// backupFileName derives a collision-resistant name for the backup copy of
// path: multiple targets (e.g. several agents' auth-profiles.json) can
// share a basename, so the name is salted with a hash of the full path.
func backupFileName(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:12] + "-" + filepath.Base(path)
}

func writeManifest(backupDir string, manifest *BackupManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return sandbox.AtomicWriteFile(filepath.Join(backupDir, backupManifestFile), data, 0o600)
}

func readManifest(backupDir string) (*BackupManifest, error) {
	data, err := os.ReadFile(filepath.Join(backupDir, backupManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}

// restoreFromManifest restores every entry in manifest: existing files are
// copied back over their target with their recorded mode; absent files are
// deleted. Safe to call twice (spec.md §4.6.5's idempotence requirement).
func restoreFromManifest(manifest *BackupManifest) (restored, deleted []string, err error) {
	for _, e := range manifest.Entries {
		if e.Existed {
			data, rerr := os.ReadFile(e.BackupPath)
			if rerr != nil {
				return restored, deleted, fmt.Errorf("restore %s: read backup copy: %w", e.Path, rerr)
			}
			perm := os.FileMode(e.Mode)
			if perm == 0 {
				perm = 0o600
			}
			if werr := sandbox.AtomicWriteFile(e.Path, data, perm); werr != nil {
				return restored, deleted, fmt.Errorf("restore %s: %w", e.Path, werr)
			}
			restored = append(restored, e.Path)
		} else {
			if rerr := os.Remove(e.Path); rerr != nil && !os.IsNotExist(rerr) {
				return restored, deleted, fmt.Errorf("restore %s: delete: %w", e.Path, rerr)
			}
			deleted = append(deleted, e.Path)
		}
	}
	return restored, deleted, nil
}

// pruneOldBackups deletes every backup directory under root except the
// `keep` most recent by backupId sort order (spec.md §4.6.4 step 5).
func pruneOldBackups(root string, keep int) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	if len(ids) <= keep {
		return
	}
	for _, id := range ids[:len(ids)-keep] {
		if err := os.RemoveAll(filepath.Join(root, id)); err != nil {
			L_warn("secrets migrate: failed to prune old backup", "backupId", id, "error", err)
		}
	}
}
