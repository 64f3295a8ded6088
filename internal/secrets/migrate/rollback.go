package migrate

import (
	"fmt"
	"path/filepath"
)

// Rollback restores every file recorded in the named backup's manifest.
// Safe to call more than once for the same backup id (spec.md §4.6.5).
func Rollback(stateDir, backupID string) (*RollbackResult, error) {
	backupDir := filepath.Join(backupRoot(stateDir), backupID)
	manifest, err := readManifest(backupDir)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: rollback %s: %w", backupID, err)
	}

	restored, deleted, err := restoreFromManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: rollback %s: %w", backupID, err)
	}

	return &RollbackResult{BackupID: backupID, RestoredFiles: restored, DeletedFiles: deleted}, nil
}
