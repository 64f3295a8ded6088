package activator

import (
	"errors"
	"sync"
	"testing"

	"github.com/roelfdiedericks/goclaw/internal/bus"
	"github.com/roelfdiedericks/goclaw/internal/secrets"
)

func snapshot(tag string) *secrets.RuntimeSnapshot {
	return &secrets.RuntimeSnapshot{Config: map[string]any{"tag": tag}}
}

func TestActivateThenGetActive(t *testing.T) {
	Clear()
	defer Clear()

	Activate(snapshot("first"), PhaseStartup)
	got, ok := GetActive()
	if !ok {
		t.Fatal("expected an active snapshot")
	}
	if got.Config["tag"] != "first" {
		t.Fatalf("unexpected tag: %v", got.Config["tag"])
	}
}

func TestGetActiveReturnsAClone(t *testing.T) {
	Clear()
	defer Clear()

	Activate(snapshot("original"), PhaseStartup)
	got, _ := GetActive()
	got.Config["tag"] = "mutated"

	again, _ := GetActive()
	if again.Config["tag"] != "original" {
		t.Fatalf("expected active cell unaffected by caller mutation, got %v", again.Config["tag"])
	}
}

func TestNoActiveSnapshotBeforeActivation(t *testing.T) {
	Clear()
	defer Clear()

	_, ok := GetActive()
	if ok {
		t.Fatal("expected no active snapshot before first activation")
	}
}

func TestActivateOrDegradeFailureKeepsLastKnownGood(t *testing.T) {
	Clear()
	defer Clear()

	Activate(snapshot("good"), PhaseStartup)

	err := ActivateOrDegrade(nil, errors.New("decrypt failed"))
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if !Degraded() {
		t.Fatal("expected activator to be degraded after a reload failure")
	}

	got, ok := GetActive()
	if !ok || got.Config["tag"] != "good" {
		t.Fatalf("expected last-known-good snapshot retained, got %v ok=%v", got, ok)
	}
}

func TestActivateOrDegradeRecoversAndEmitsRecoveredOnce(t *testing.T) {
	Clear()
	defer Clear()

	Activate(snapshot("good"), PhaseStartup)
	_ = ActivateOrDegrade(nil, errors.New("boom"))
	if !Degraded() {
		t.Fatal("expected degraded state")
	}

	var mu sync.Mutex
	recovered := 0
	sub := bus.SubscribeEvent("secrets.reloader.recovered", func(bus.Event) {
		mu.Lock()
		recovered++
		mu.Unlock()
	})
	defer bus.UnsubscribeEvent(sub)

	if err := ActivateOrDegrade(snapshot("fixed"), nil); err != nil {
		t.Fatalf("expected recovery to succeed, got %v", err)
	}
	if Degraded() {
		t.Fatal("expected degraded to clear after successful reload")
	}
}

func TestActivateOrDegradeSecondFailureStaysDegradedWithoutDoubleEmit(t *testing.T) {
	Clear()
	defer Clear()

	Activate(snapshot("good"), PhaseStartup)
	_ = ActivateOrDegrade(nil, errors.New("first failure"))
	if !Degraded() {
		t.Fatal("expected degraded after first failure")
	}
	_ = ActivateOrDegrade(nil, errors.New("second failure"))
	if !Degraded() {
		t.Fatal("expected to remain degraded after second failure")
	}
}

func TestClearResetsState(t *testing.T) {
	Activate(snapshot("x"), PhaseStartup)
	Clear()
	if _, ok := GetActive(); ok {
		t.Fatal("expected no active snapshot after Clear")
	}
	if Degraded() {
		t.Fatal("expected degraded reset after Clear")
	}
}
