package recognize

// EventKind tags a recognition event.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Event is one message from the result source: a partial or final transcript
// as emitted by the service, or the session's terminal error. At most one
// error event is ever delivered, and it is always the last.
type Event struct {
	Kind         EventKind
	Alternatives []Alternative

	// Err is set only on EventError.
	Err error

	// DroppedFrames counts audio frames that were enqueued but never sent
	// when the session terminated with an error. Set only on EventError.
	DroppedFrames int
}

// Text returns the top hypothesis, or "" when there is none.
func (e Event) Text() string {
	if len(e.Alternatives) == 0 {
		return ""
	}
	return e.Alternatives[0].Text
}
