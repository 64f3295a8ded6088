// Package activator owns the single process-wide active RuntimeSnapshot
// cell (spec.md §3, §4.5). Activation is linearized with a mutex: two
// concurrent successful activations leave exactly one "last" snapshot
// observable, and degraded/recovered transitions fire exactly once each.
package activator

import (
	"fmt"
	"sync"

	"github.com/roelfdiedericks/goclaw/internal/bus"
	. "github.com/roelfdiedericks/goclaw/internal/logging"
	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

// Phase names the trigger that invoked Activate, used only for logging.
type Phase string

const (
	PhaseStartup Phase = "startup"
	PhaseReload  Phase = "reload"
)

var (
	mu       sync.Mutex
	active   *secrets.RuntimeSnapshot
	degraded bool
)

// Activate swaps in snapshot as the active one. On PhaseStartup, a failure
// (signaled by the caller simply not calling Activate) leaves no snapshot
// active; Activate itself always succeeds given a non-nil snapshot — the
// "failure" case is the caller's PrepareSnapshot error, handled by
// ActivateOrDegrade below for the reload/RPC paths.
func Activate(snapshot *secrets.RuntimeSnapshot, phase Phase) {
	if snapshot == nil {
		return
	}

	mu.Lock()
	active = snapshot
	wasDegraded := degraded
	if wasDegraded {
		degraded = false
	}
	mu.Unlock()

	L_info("secrets: snapshot activated", "phase", phase, "warnings", len(snapshot.Warnings))

	if wasDegraded {
		bus.PublishEvent("secrets.reloader.recovered", map[string]any{"code": secrets.EventReloaderRecovered})
		L_info("secrets: reloader recovered", "code", secrets.EventReloaderRecovered)
	}
}

// ActivateOrDegrade is the contract for the runtime reload and operator RPC
// triggers (spec.md §4.5): buildErr is the error from PrepareSnapshot, if
// any. On success it behaves like Activate. On failure, the previous
// snapshot is kept; if the activator was not already degraded, it emits
// SECRETS_RELOADER_DEGRADED exactly once and enters the degraded state;
// subsequent failures while already degraded only log. Startup callers
// should not use this path — a startup failure must be fatal, handled by
// the caller via the plain error return, without ever touching the
// degraded flag (spec.md §4.5's "On failure during startup ... do not
// emit degraded").
func ActivateOrDegrade(snapshot *secrets.RuntimeSnapshot, buildErr error) error {
	if buildErr != nil {
		mu.Lock()
		alreadyDegraded := degraded
		if !alreadyDegraded {
			degraded = true
		}
		mu.Unlock()

		if alreadyDegraded {
			L_error("secrets: reload failed while already degraded", "error", buildErr)
		} else {
			bus.PublishEvent("secrets.reloader.degraded", map[string]any{"code": secrets.EventReloaderDegraded, "error": buildErr.Error()})
			L_error("secrets: reloader degraded", "code", secrets.EventReloaderDegraded, "error", buildErr)
		}
		return fmt.Errorf("secrets reload failed, keeping last-known-good snapshot: %w", buildErr)
	}

	Activate(snapshot, PhaseReload)
	return nil
}

// GetActive returns a deep copy of the currently active snapshot and
// whether one exists, so the caller can never mutate the shared cell
// (spec.md §4.5).
func GetActive() (*secrets.RuntimeSnapshot, bool) {
	mu.Lock()
	cur := active
	mu.Unlock()

	if cur == nil {
		return nil, false
	}
	clone, err := cur.Clone()
	if err != nil {
		L_error("secrets: clone active snapshot failed", "error", err)
		return cur, true
	}
	return clone, true
}

// Degraded reports the activator's current degraded state.
func Degraded() bool {
	mu.Lock()
	defer mu.Unlock()
	return degraded
}

// Clear resets the activator to its zero state. Test-only (spec.md §4.5).
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	active = nil
	degraded = false
}
