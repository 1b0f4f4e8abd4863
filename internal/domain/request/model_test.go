package request

import "testing"

func TestAllowedTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StatePending, StateProofSubmitted},
		{StatePending, StateExpired},
		{StateProofSubmitted, StateVerifying},
		{StateProofSubmitted, StateRejected},
		{StateProofSubmitted, StateExpired},
		{StateVerifying, StateVerified},
		{StateVerifying, StateRejected},
		{StateVerified, StateRelaying},
		{StateRelaying, StateFulfilled},
	}
	for _, tc := range allowed {
		if !Allowed(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
}

func TestForbiddenTransitions(t *testing.T) {
	forbidden := []struct{ from, to State }{
		{StatePending, StateVerifying},
		{StatePending, StateFulfilled},
		{StateFulfilled, StatePending},
		{StateFulfilled, StateRelaying},
		{StateRejected, StateVerifying},
		{StateExpired, StateProofSubmitted},
		{StateRelaying, StateRejected},
		{StateVerified, StateRejected},
		{StateVerifying, StatePending},
	}
	for _, tc := range forbidden {
		if Allowed(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []State{StateFulfilled, StateRejected, StateExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	active := []State{StatePending, StateProofSubmitted, StateVerifying, StateVerified, StateRelaying}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be active", s)
		}
	}
}
