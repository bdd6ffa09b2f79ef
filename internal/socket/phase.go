package socket

// Phase is the lifecycle stage of the managed transport.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClosing    Phase = "closing"
	PhaseClosed     Phase = "closed"
)

// Status messages shown to the rendering layer.
const (
	MessageConnecting   = "Connecting to the server..."
	MessageConnected    = "Connected to the server."
	MessageDisconnected = "Disconnected. Attempting to reconnect..."
)

// Message returns the human-readable status for p. Closing renders the same
// as closed.
func (p Phase) Message() string {
	switch p {
	case PhaseConnecting:
		return MessageConnecting
	case PhaseOpen:
		return MessageConnected
	default:
		return MessageDisconnected
	}
}

// Close codes the manager treats specially.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Intentional reports whether a close code means a deliberate shutdown that
// must not be retried.
func Intentional(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

// State is a point-in-time view of a Manager.
type State struct {
	Phase    Phase  `json:"phase"`
	Attempt  int    `json:"attempt"`
	Endpoint string `json:"endpoint,omitempty"`
}
