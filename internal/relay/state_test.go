package relay

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateInitializing, "initializing", false},
		{StateAwaitingConnection, "awaiting_connection", false},
		{StateAuthenticated, "authenticated", false},
		{StateStreaming, "streaming", false},
		{StateCompleted, "completed", true},
		{StateFailed, "failed", true},
		{State(42), "unknown", false},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Fatalf("State(%d).String() = %q, want %q", int(tc.state), got, tc.want)
		}
		if got := tc.state.Terminal(); got != tc.terminal {
			t.Fatalf("State(%d).Terminal() = %v, want %v", int(tc.state), got, tc.terminal)
		}
	}
}
