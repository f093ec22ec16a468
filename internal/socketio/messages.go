package socketio

import (
	"encoding/json"
	"fmt"
)

// Outbound message construction. The server expects exact frame shapes;
// these builders are the only place they are assembled.

// BuildLogin returns the namespace-connect frame carrying the bearer token.
func BuildLogin(accessToken string) (string, error) {
	payload, err := json.Marshal(struct {
		AccessToken string `json:"accessToken"`
	}{AccessToken: accessToken})
	if err != nil {
		return "", fmt.Errorf("socketio: encoding login payload: %w", err)
	}
	return prefixNamespaceConnect + Namespace + "," + string(payload), nil
}

// BuildSubscribe returns the event frame subscribing to a set of device
// serial numbers.
func BuildSubscribe(serials []string) (string, error) {
	ids, err := json.Marshal(serials)
	if err != nil {
		return "", fmt.Errorf("socketio: encoding serials: %w", err)
	}
	return prefixEvent + Namespace + `,["subscribe",` + string(ids) + `]`, nil
}

// BuildScan returns the event frame requesting a device's discovery data.
// The inner command is itself a JSON string, per the server's cmd contract.
func BuildScan(serial string) (string, error) {
	cmd, err := json.Marshal(struct {
		SerialNumber string `json:"serial_number"`
		Cmd          string `json:"cmd"`
	}{SerialNumber: serial, Cmd: "scan"})
	if err != nil {
		return "", fmt.Errorf("socketio: encoding scan command: %w", err)
	}

	quoted, err := json.Marshal(string(cmd))
	if err != nil {
		return "", fmt.Errorf("socketio: quoting scan command: %w", err)
	}
	return prefixEvent + Namespace + `,["cmd",` + string(quoted) + `]`, nil
}
