package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/sandbox"
)

// Apply backs up every target a plan will touch, writes the manifest, then
// performs every write. Any failure rolls back from the just-written
// manifest and returns a wrapped error naming the backup id (spec.md
// §4.6.4).
func Apply(ctx context.Context, plan *MigrationPlan, in Inputs) (*ApplyResult, error) {
	if !plan.Changed {
		return &ApplyResult{Mode: "noop", Changed: false, Counters: plan.Counters}, nil
	}

	root := backupRoot(in.StateDir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("secrets migrate: create backup root: %w", err)
	}
	id, err := generateBackupID(time.Now(), root)
	if err != nil {
		return nil, fmt.Errorf("secrets migrate: generate backup id: %w", err)
	}
	backupDir := filepath.Join(root, id)
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return nil, fmt.Errorf("secrets migrate: create backup dir: %w", err)
	}

	manifest := &BackupManifest{Version: 1, BackupID: id, CreatedAt: time.Now().UTC()}
	for _, target := range plan.BackupTargets {
		entry, err := backupFile(target, backupDir)
		if err != nil {
			return nil, fmt.Errorf("secrets migrate: back up %s: %w", target, err)
		}
		manifest.Entries = append(manifest.Entries, entry)
	}
	if err := writeManifest(backupDir, manifest); err != nil {
		return nil, fmt.Errorf("secrets migrate: write backup manifest: %w", err)
	}

	if err := applyWrites(ctx, plan, in); err != nil {
		if _, _, rerr := restoreFromManifest(manifest); rerr != nil {
			L_error("secrets migrate: rollback after failed apply also failed", "backupId", id, "applyError", err, "rollbackError", rerr)
			return nil, fmt.Errorf("secrets migration failed and rollback from backup %s also failed: %w (rollback error: %v)", id, err, rerr)
		}
		L_error("secrets migrate: apply failed, rolled back", "backupId", id, "error", err)
		return nil, fmt.Errorf("secrets migration failed and was rolled back from backup %s: %w", id, err)
	}

	pruneOldBackups(root, keepBackups)
	L_info("secrets migrate: applied", "backupId", id,
		"configRefs", plan.Counters.ConfigRefs,
		"authProfileRefs", plan.Counters.AuthProfileRefs,
		"secretsWritten", plan.Counters.SecretsWritten)

	return &ApplyResult{Mode: "applied", Changed: true, BackupID: id, Counters: plan.Counters}, nil
}

func applyWrites(ctx context.Context, plan *MigrationPlan, in Inputs) error {
	if plan.PayloadChanged {
		if in.Tool == nil {
			return errors.New("no tool driver configured to encrypt payload")
		}
		if err := in.Tool.Encrypt(ctx, plan.SecretsPath, plan.NextPayload, in.timeout(), missingSopsMessage, plan.SopsConfigPath); err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
	}

	if plan.ConfigChanged {
		data, err := json.MarshalIndent(plan.NextConfig, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := sandbox.AtomicWriteFile(in.ConfigPath, data, 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	for _, as := range plan.AuthStores {
		if !as.Changed {
			continue
		}
		data, err := json.MarshalIndent(as.Next, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal auth store %s: %w", as.StorePath, err)
		}
		if err := sandbox.AtomicWriteFile(as.StorePath, data, 0o600); err != nil {
			return fmt.Errorf("write auth store %s: %w", as.StorePath, err)
		}
	}

	if plan.EnvChanged {
		if err := sandbox.AtomicWriteFile(plan.EnvPath, plan.NextEnvContent, 0o600); err != nil {
			return fmt.Errorf("write env file: %w", err)
		}
	}

	return nil
}
