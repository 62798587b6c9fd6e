package status

import (
	"testing"

	"github.com/matheus3301/rcschat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Starting},
		{Booting, Error},
		{Starting, Ready},
		{Starting, Degraded},
		{Ready, Degraded},
		{Degraded, Ready},
		{Ready, Stopping},
		{Stopping, Stopped},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.NamespaceDaemon, 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Starting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.DaemonStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.DaemonStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Starting {
		t.Errorf("change = %v -> %v, want BOOTING -> STARTING", change.From, change.To)
	}
}

func TestObserve(t *testing.T) {
	m := NewMachine(nil)
	var seen []State
	m.Observe(func(s State) { seen = append(seen, s) })

	walkTo(t, m, Ready)
	want := []State{Booting, Starting, Ready}
	if len(seen) != len(want) {
		t.Fatalf("observed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("observed[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

// TestShutdownLifecycle walks a clean run:
// BOOTING → STARTING → READY → STOPPING → STOPPED
func TestShutdownLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Starting, Ready, Stopping, Stopped} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if err := m.Transition(Ready); err == nil {
		t.Error("STOPPED -> READY should fail; must boot again")
	}
}

func TestServing(t *testing.T) {
	for s, want := range map[State]bool{
		Booting: false, Starting: false, Ready: true, Degraded: true,
		Stopping: false, Stopped: false, Error: false,
	} {
		if got := s.Serving(); got != want {
			t.Errorf("%s.Serving() = %v, want %v", s, got, want)
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Starting: {Starting},
		Ready:    {Starting, Ready},
		Degraded: {Starting, Degraded},
		Stopping: {Starting, Stopping},
		Stopped:  {Starting, Stopping, Stopped},
		Error:    {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
