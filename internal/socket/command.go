package socket

import "fmt"

// Command verbs understood by the server.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
)

// Command is an outbound request. It is sent as
// {"command":"connect","id":"sensor-123"}.
type Command struct {
	Command string `json:"command"`
	ID      string `json:"id"`
}

// Connect returns a connect command for the given sensor.
func Connect(id string) Command {
	return Command{Command: CommandConnect, ID: id}
}

// Disconnect returns a disconnect command for the given sensor.
func Disconnect(id string) Command {
	return Command{Command: CommandDisconnect, ID: id}
}

// Validate checks the verb and sensor ID.
func (c Command) Validate() error {
	switch c.Command {
	case CommandConnect, CommandDisconnect:
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, c.Command)
	}
	if c.ID == "" {
		return fmt.Errorf("%w: missing sensor id", ErrInvalidCommand)
	}
	return nil
}
