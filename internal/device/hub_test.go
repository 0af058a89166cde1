package device

import (
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateListening, "LISTENING"},
		{StateSpeaking, "SPEAKING"},
		{StateUnknown, "UNKNOWN"},
		{State(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStateBusy(t *testing.T) {
	if !StateListening.Busy() || !StateSpeaking.Busy() {
		t.Error("listening and speaking should be busy")
	}
	if StateIdle.Busy() || StateConnecting.Busy() {
		t.Error("idle and connecting should not be busy")
	}
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(StateIdle)
	ch := h.Subscribe("a")

	h.SetState(StateSpeaking)
	h.SetState(StateSpeaking)
	h.SetState(StateIdle)

	select {
	case s := <-ch:
		if s != StateSpeaking {
			t.Errorf("first update = %v, want SPEAKING", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	select {
	case s := <-ch:
		if s != StateIdle {
			t.Errorf("second update = %v, want IDLE", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no second update received")
	}

	select {
	case s := <-ch:
		t.Errorf("unexpected update %v for unchanged state", s)
	default:
	}

	h.Unsubscribe("a")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(StateIdle)
	h.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subBufferSize*4; i++ {
			if i%2 == 0 {
				h.SetState(StateListening)
			} else {
				h.SetState(StateIdle)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetState blocked on a slow subscriber")
	}
}

func TestHubInterrupt(t *testing.T) {
	h := NewHub(StateListening)
	h.Interrupt()
	if h.State() != StateIdle {
		t.Errorf("default Interrupt should move to IDLE, got %v", h.State())
	}

	called := false
	h.OnInterrupt(func() { called = true })
	h.SetState(StateSpeaking)
	h.Interrupt()
	if !called {
		t.Error("custom interrupt handler not called")
	}
	if h.State() != StateSpeaking {
		t.Errorf("custom handler should own the transition, got %v", h.State())
	}
	if h.Interrupts() != 2 {
		t.Errorf("Interrupts() = %d, want 2", h.Interrupts())
	}
}

func TestHubResumeListening(t *testing.T) {
	h := NewHub(StateIdle)
	h.ResumeListening()
	if h.State() != StateListening {
		t.Errorf("State() = %v, want LISTENING", h.State())
	}
}
