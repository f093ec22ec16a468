package cloud

import (
	"errors"
	"math"
	"strings"
)

// ErrInvalidCommand is returned when a command carries zero or more than
// one control field.
var ErrInvalidCommand = errors.New("cloud: command must set exactly one of set point, mode, function")

// Command is one control request for a relay. Exactly one of SetPoint,
// Mode, or Function must be set.
type Command struct {
	// Relay selects the relay channel; 0 defaults to relay 1.
	Relay int
	// SetPoint is the manual target temperature. It is rounded to one
	// decimal before sending.
	SetPoint *float64
	// Mode is schedule, manual, or off. Sent upper-cased.
	Mode string
	// Function is heating or cooling. Sent upper-cased.
	Function string
}

// payload validates the command and builds the wire body.
func (c Command) payload() (map[string]any, error) {
	relay := c.Relay
	if relay == 0 {
		relay = 1
	}

	set := 0
	if c.SetPoint != nil {
		set++
	}
	if c.Mode != "" {
		set++
	}
	if c.Function != "" {
		set++
	}
	if set != 1 {
		return nil, ErrInvalidCommand
	}

	body := map[string]any{"relay": relay}
	switch {
	case c.SetPoint != nil:
		body["manual_set_point"] = math.Round(*c.SetPoint*10) / 10
	case c.Mode != "":
		body["mode"] = strings.ToUpper(c.Mode)
	default:
		body["function"] = strings.ToUpper(c.Function)
	}
	return body, nil
}
