package tracking

import (
	"math/rand"
	"testing"
	"time"
)

func TestStationarySamplesGrowInterval(t *testing.T) {
	p := DefaultIntervalPolicy()
	state := p.Initial()

	for i := 0; i < 3; i++ {
		state = p.Observe(state, 15)
	}

	if state.StationaryStreak != 3 {
		t.Fatalf("expected streak 3, got %d", state.StationaryStreak)
	}
	if state.CurrentInterval != 120*time.Second {
		t.Fatalf("expected 120s, got %v", state.CurrentInterval)
	}
}

func TestStationaryGrowthIsNonDecreasingAndCapped(t *testing.T) {
	p := DefaultIntervalPolicy()
	state := p.Initial()
	prev := state.CurrentInterval

	for i := 0; i < 20; i++ {
		state = p.Observe(state, 49)
		if state.CurrentInterval < prev {
			t.Fatalf("expected non-decreasing interval, went from %v to %v", prev, state.CurrentInterval)
		}
		prev = state.CurrentInterval
	}

	if state.CurrentInterval != p.Max {
		t.Fatalf("expected interval capped at %v, got %v", p.Max, state.CurrentInterval)
	}
}

func TestMovementShrinksInterval(t *testing.T) {
	p := DefaultIntervalPolicy()
	state := p.Initial()
	state = p.Observe(state, 10)
	state = p.Observe(state, 10)

	state = p.Observe(state, 600)
	if state.CurrentInterval > p.Base {
		t.Fatalf("expected at most %v after moving, got %v", p.Base, state.CurrentInterval)
	}
	if state.StationaryStreak != 0 {
		t.Fatalf("expected streak reset, got %d", state.StationaryStreak)
	}
	if state.CurrentInterval != 29940*time.Millisecond {
		t.Fatalf("expected 29.94s, got %v", state.CurrentInterval)
	}

	state = p.Observe(state, 1_000_000)
	if state.CurrentInterval != p.Min {
		t.Fatalf("expected floor %v for a long jump, got %v", p.Min, state.CurrentInterval)
	}
}

func TestBackoffKeepsStreakAndCaps(t *testing.T) {
	p := DefaultIntervalPolicy()
	state := p.Observe(p.Initial(), 5)

	state = p.Backoff(state)
	if state.CurrentInterval != 90*time.Second {
		t.Fatalf("expected 90s, got %v", state.CurrentInterval)
	}
	if state.StationaryStreak != 1 || state.ConsecutiveFailures != 1 {
		t.Fatalf("expected streak kept and one failure, got %+v", state)
	}

	for i := 0; i < 10; i++ {
		state = p.Backoff(state)
	}
	if state.CurrentInterval != p.Max {
		t.Fatalf("expected backoff capped at %v, got %v", p.Max, state.CurrentInterval)
	}

	state = p.Observe(state, 5)
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("expected a success to clear failures, got %d", state.ConsecutiveFailures)
	}
}

func TestIntervalStaysWithinBounds(t *testing.T) {
	p := DefaultIntervalPolicy()
	rng := rand.New(rand.NewSource(42))
	state := p.Initial()

	for i := 0; i < 5000; i++ {
		switch rng.Intn(3) {
		case 0:
			state = p.Backoff(state)
		case 1:
			state = p.Observe(state, rng.Float64()*60)
		default:
			state = p.Observe(state, rng.Float64()*400_000)
		}

		if state.CurrentInterval < p.Min || state.CurrentInterval > p.Max {
			t.Fatalf("interval %v left [%v, %v] at step %d", state.CurrentInterval, p.Min, p.Max, i)
		}
	}
}
