// Package migrate plans and applies the plaintext-to-reference rewrite
// across config, auth stores, the encrypted payload, and the env file, with
// manifest-backed rollback (spec.md §4.6).
package migrate

import (
	"context"
	"time"

	"github.com/roelfdiedericks/goclaw/internal/secrets"
	"github.com/roelfdiedericks/goclaw/internal/secrets/resolver"
)

// Tool is the subset of sopsdriver.Driver the migration engine depends on:
// both directions of the external-tool contract (spec.md §4.2).
type Tool interface {
	resolver.Decrypter
	Encrypt(ctx context.Context, path string, payload any, timeout time.Duration, missingBinaryMessage, configPath string) error
}

// Inputs are the arguments to BuildPlan and Apply.
type Inputs struct {
	Config     map[string]any
	ConfigPath string // on-disk location of the gateway config file
	ConfigDir  string // directory containing ConfigPath; sops config discovery happens here

	StateDir         string // resolved state dir, e.g. ~/.openclaw
	StateDirExplicit bool   // whether an explicit state-dir env var was set

	EnvFilePath         string   // defaults to <ConfigDir>/.env when empty
	ExtraAuthStorePaths []string // explicit per-agent directories named in config, beyond the standard <stateDir>/agents/*/agent layout

	Env       map[string]string
	Tool      Tool
	TimeoutMs int // sops timeout; defaults to 5000 when zero

	SopsConfigOverride string // bypasses .sops.yaml/.sops.yml discovery when set

	ScrubEnv           bool
	SecretEnvAllowList []string

	LoadAuthStore secrets.LoadAuthStoreFunc
}

func (in Inputs) timeout() time.Duration {
	ms := in.TimeoutMs
	if ms <= 0 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

func (in Inputs) allowList() map[string]bool {
	set := make(map[string]bool, len(in.SecretEnvAllowList))
	for _, k := range in.SecretEnvAllowList {
		set[k] = true
	}
	return set
}

func (in Inputs) envPath() string {
	if in.EnvFilePath != "" {
		return in.EnvFilePath
	}
	return in.ConfigDir + "/.env"
}

// Counters tallies per-site migration activity (spec.md §4.6.2).
type Counters struct {
	ConfigRefs        int
	AuthProfileRefs   int
	PlaintextRemoved  int
	SecretsWritten    int
	EnvEntriesRemoved int
	AuthStoresChanged int
}

// authStorePlan is the planned state of one discovered auth-profile store.
type authStorePlan struct {
	AgentDir  string
	StorePath string
	Scope     string
	Original  *secrets.AuthProfileStore
	Next      *secrets.AuthProfileStore
	Changed   bool
}

// MigrationPlan is the full output of BuildPlan: every intended change,
// computed without touching disk (spec.md §4.6's "Planning").
type MigrationPlan struct {
	NextConfig      map[string]any
	OriginalPayload map[string]any
	NextPayload     map[string]any

	SecretsPath    string
	SopsConfigPath string

	ConfigChanged  bool
	PayloadChanged bool
	Changed        bool

	Counters Counters

	AuthStores []authStorePlan

	EnvPath        string
	EnvChanged     bool
	NextEnvContent []byte

	BackupTargets  []string
	MigratedValues map[string]struct{}
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	Mode     string
	Changed  bool
	BackupID string
	Counters Counters
}

// RollbackResult is the outcome of Rollback.
type RollbackResult struct {
	BackupID      string
	RestoredFiles []string
	DeletedFiles  []string
}
