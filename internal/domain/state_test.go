package domain_test

import (
	"testing"

	"leboy/internal/domain"
)

var stateOrder = []domain.State{
	domain.StateCreated,
	domain.StateAssignedToProvider,
	domain.StateProviderEstimated,
	domain.StateWaitingClientPayment,
	domain.StatePaidWaitingTakeover,
	domain.StateAdvanceSent,
	domain.StateInProgress,
	domain.StateProviderValidationSubmitted,
	domain.StateAdminConfirmed,
	domain.StateCompleted,
}

func TestProgressStrictlyIncreasing(t *testing.T) {
	prev := -1
	for _, s := range stateOrder {
		p := s.Progress()
		if p <= prev {
			t.Fatalf("progress not increasing at %s: %d <= %d", s, p, prev)
		}
		prev = p
	}
	if stateOrder[len(stateOrder)-1].Progress() != 100 {
		t.Fatalf("terminal state must be 100%%")
	}
	if domain.State("BOGUS").Progress() != 0 {
		t.Fatalf("unknown state must report 0")
	}
}

func TestOrdinalAndReached(t *testing.T) {
	for i, s := range stateOrder {
		if s.Ordinal() != i {
			t.Fatalf("ordinal mismatch for %s: got %d want %d", s, s.Ordinal(), i)
		}
	}
	if !domain.StateInProgress.Reached(domain.StateCreated) {
		t.Fatalf("IN_PROGRESS should reach CREATED")
	}
	if domain.StateCreated.Reached(domain.StateInProgress) {
		t.Fatalf("CREATED should not reach IN_PROGRESS")
	}
	if domain.State("BOGUS").Reached(domain.StateCreated) {
		t.Fatalf("unknown state never reaches anything")
	}
}

func TestDisplayDerived(t *testing.T) {
	if domain.StateCompleted.Display() != "Terminée" {
		t.Fatalf("unexpected display: %s", domain.StateCompleted.Display())
	}
	// unknown states fall back to the raw value instead of failing
	if domain.State("X").Display() != "X" {
		t.Fatalf("expected raw fallback")
	}
}

func TestStepsAtMostOneUnlocked(t *testing.T) {
	for _, s := range stateOrder {
		m := domain.Mission{InternalState: s}
		unlocked := 0
		for _, step := range domain.Steps(m) {
			if step.Unlocked {
				unlocked++
			}
			if step.Completed && step.Unlocked {
				t.Fatalf("state %s: step %s both completed and unlocked", s, step.Key)
			}
		}
		if unlocked > 1 {
			t.Fatalf("state %s: %d steps unlocked", s, unlocked)
		}
	}
}

func TestStepsPaymentUnlockedFromEstimated(t *testing.T) {
	m := domain.Mission{InternalState: domain.StateProviderEstimated}
	for _, step := range domain.Steps(m) {
		if step.Key == "paiement" && !step.Unlocked {
			t.Fatalf("paiement should be actionable from PROVIDER_ESTIMATED")
		}
	}
}

func TestStepsValidationPhaseGate(t *testing.T) {
	m := domain.Mission{
		InternalState: domain.StateInProgress,
		Phases: []domain.ExecutionPhase{
			{Ordre: 1, Name: "a"},
			{Ordre: 2, Name: "b"},
		},
	}
	for _, step := range domain.Steps(m) {
		if step.Key == "validation" && step.Unlocked {
			t.Fatalf("validation unlocked with no phase completed")
		}
	}
	m.Phases[0].Completed = true
	found := false
	for _, step := range domain.Steps(m) {
		if step.Key == "validation" {
			found = true
			if !step.Unlocked {
				t.Fatalf("validation locked despite completed phase")
			}
		}
	}
	if !found {
		t.Fatalf("validation step missing")
	}
	// no phases at all means no gate
	bare := domain.Mission{InternalState: domain.StateInProgress}
	for _, step := range domain.Steps(bare) {
		if step.Key == "validation" && !step.Unlocked {
			t.Fatalf("validation should unlock when no phases exist")
		}
	}
}

func TestStepsCompletedMonotonic(t *testing.T) {
	// once a state is passed its step stays completed for every later state
	completedAt := make(map[string]int)
	for i, s := range stateOrder {
		for _, step := range domain.Steps(domain.Mission{InternalState: s}) {
			if step.Completed {
				if _, seen := completedAt[step.Key]; !seen {
					completedAt[step.Key] = i
				}
			} else if at, seen := completedAt[step.Key]; seen && i > at {
				t.Fatalf("step %s regressed at state %s", step.Key, s)
			}
		}
	}
}
