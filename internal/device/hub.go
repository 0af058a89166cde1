// Package device tracks the voice assistant state that playback has to
// share the audio path with.
package device

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subBufferSize = 8

type State int

const (
	StateUnknown State = iota
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateListening:
		return "LISTENING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether the voice pipeline holds the audio path and has to
// be interrupted before playback can start.
func (s State) Busy() bool {
	return s == StateListening || s == StateSpeaking
}

// Monitor is what a playback worker needs from the device.
type Monitor interface {
	State() State
	// Subscribe returns a channel receiving every state change. Call
	// Unsubscribe with the same id when done.
	Subscribe(id string) <-chan State
	Unsubscribe(id string)
	// Interrupt asks the voice pipeline to abandon listening or speaking.
	Interrupt()
}

// Hub holds the current state and fans changes out to subscribers. Slow
// subscribers miss updates rather than blocking SetState.
type Hub struct {
	mu          sync.Mutex
	state       State
	subs        map[string]chan State
	onInterrupt func()
	interrupts  int
}

func NewHub(initial State) *Hub {
	return &Hub{
		state: initial,
		subs:  make(map[string]chan State),
	}
}

func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState records s and notifies subscribers if it changed.
func (h *Hub) SetState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == h.state {
		return
	}
	log.Debug().Msgf("Device state %s -> %s", h.state, s)
	h.state = s
	for _, ch := range h.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (h *Hub) Subscribe(id string) <-chan State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subs[id]; ok {
		close(old)
	}
	ch := make(chan State, subBufferSize)
	h.subs[id] = ch
	return ch
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// OnInterrupt sets the handler run by Interrupt. Without one, Interrupt
// simply moves the hub to Idle.
func (h *Hub) OnInterrupt(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInterrupt = fn
}

func (h *Hub) Interrupt() {
	h.mu.Lock()
	fn := h.onInterrupt
	h.interrupts++
	h.mu.Unlock()

	log.Debug().Msg("Interrupting voice pipeline for playback")
	if fn != nil {
		fn()
		return
	}
	h.SetState(StateIdle)
}

// Interrupts returns how many times Interrupt was called.
func (h *Hub) Interrupts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupts
}

// ResumeListening hands the audio path back to the voice pipeline.
func (h *Hub) ResumeListening() {
	h.SetState(StateListening)
}
