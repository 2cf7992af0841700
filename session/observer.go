package session

// Observer receives what the UI layer needs to render: state changes, the
// live energy signal, conversation text, and failures. Every failure is
// reported exactly once. Callbacks run on the session's dispatch goroutine
// and must not block.
type Observer interface {
	StateChanged(from, to State)
	TranscriptReceived(text string)
	EnergyChanged(level float64, speaking bool)
	ErrorReported(kind ErrorKind, message string)
}

// NopObserver discards everything; the headless mode runs with it.
type NopObserver struct{}

func (NopObserver) StateChanged(_, _ State)         {}
func (NopObserver) TranscriptReceived(string)       {}
func (NopObserver) EnergyChanged(float64, bool)     {}
func (NopObserver) ErrorReported(ErrorKind, string) {}
