package session

type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Failure is why a session ended early.
type Failure int

const (
	FailureNone Failure = iota
	FailureTransportOpen
	FailureHTTPNotFound
	FailureHTTPOther
	FailureFirstByteTimeout
	FailureRead
	FailureDecodeResync
	FailureDecoderInit
	// FailureWorkerPanic is a worker that panicked and was recovered.
	FailureWorkerPanic
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransportOpen:
		return "transport_open"
	case FailureHTTPNotFound:
		return "http_not_found"
	case FailureHTTPOther:
		return "http_error"
	case FailureFirstByteTimeout:
		return "first_byte_timeout"
	case FailureRead:
		return "read_error"
	case FailureDecodeResync:
		return "decode_resync"
	case FailureDecoderInit:
		return "decoder_init"
	case FailureWorkerPanic:
		return "worker_panic"
	default:
		return "unknown"
	}
}

// JoinOutcome is how a worker left during teardown.
type JoinOutcome int

const (
	NotRunning JoinOutcome = iota
	JoinedCleanly
	DetachedAfterTimeout
)

func (o JoinOutcome) String() string {
	switch o {
	case JoinedCleanly:
		return "joined"
	case DetachedAfterTimeout:
		return "detached"
	default:
		return "not_running"
	}
}

// TeardownReport records how each worker of a session was stopped.
type TeardownReport struct {
	Session  string
	Ingest   JoinOutcome
	Playback JoinOutcome
}

// Detached reports whether any worker was left running.
func (r TeardownReport) Detached() bool {
	return r.Ingest == DetachedAfterTimeout || r.Playback == DetachedAfterTimeout
}
