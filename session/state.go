package session

// State is the single authoritative mode of the dialogue session. Exactly
// one value holds at any instant; only the session's dispatch loop moves it.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Recording
	Sending
	AwaitingTranscript
	Processing
	Playing
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Recording:
		return "recording"
	case Sending:
		return "sending"
	case AwaitingTranscript:
		return "awaiting_transcript"
	case Processing:
		return "processing"
	case Playing:
		return "playing"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// connected reports whether the server can address this session, i.e. a
// server-reported error is meaningful in this state.
func (s State) connected() bool {
	return s >= Ready && s <= Playing
}

// ErrorKind classifies a reported failure by where it came from and what the
// user can do about it.
type ErrorKind int

const (
	// PermissionError: microphone access denied. The attempt is abandoned
	// and the session stays ready; the user retries manually.
	PermissionError ErrorKind = iota
	// TransportError: socket-level failure or unclean close. Retried
	// automatically with linear backoff, fatal after maxRetries.
	TransportError
	// ProtocolError: malformed or unrecognized server message.
	ProtocolError
	// ServerReportedError: explicit error payload from the remote side,
	// surfaced verbatim.
	ServerReportedError
	// PlaybackError: reply audio could not be played.
	PlaybackError
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionError:
		return "permission"
	case TransportError:
		return "transport"
	case ProtocolError:
		return "protocol"
	case ServerReportedError:
		return "server"
	case PlaybackError:
		return "playback"
	default:
		return "unknown"
	}
}
