package chat

// AppState is the recording state of a session.
type AppState int

const (
	StateIdle AppState = iota
	StateRecording
	StateProcessing
)

func (s AppState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRecording:
		return "Recording"
	case StateProcessing:
		return "Processing"
	default:
		return "Unknown"
	}
}
