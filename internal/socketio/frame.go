package socketio

import (
	"encoding/json"
	"strings"
	"time"
)

// Namespace is the Socket.IO namespace all device traffic travels on.
const Namespace = "/devices"

// Control frame payloads. Engine.io encodes control frames as single-digit
// text frames; Socket.IO layers namespace codes on top.
const (
	frameOpen       = "0"
	frameDisconnect = "1"
	framePing       = "2"
	framePong       = "3"

	prefixNamespaceConnect    = "40"
	prefixNamespaceDisconnect = "41"
	prefixEvent               = "42"
)

// Pong is the frame sent in reply to a server ping.
const Pong = framePong

// Kind discriminates the result of parsing one inbound frame.
type Kind int

const (
	// KindIgnored marks frames that are malformed or not relevant to this
	// client. The Reason field says why; the caller decides whether to log.
	KindIgnored Kind = iota
	// KindControl marks engine.io/Socket.IO protocol frames.
	KindControl
	// KindEvent marks application events on the device namespace.
	KindEvent
	// KindError marks server exception frames.
	KindError
)

// Control identifies which protocol frame arrived.
type Control int

const (
	ControlOpen Control = iota
	ControlPing
	ControlDisconnect
	ControlNamespaceConnect
	ControlNamespaceDisconnect
)

// Handshake carries the server's session parameters from the open frame.
type Handshake struct {
	SID          string
	PingInterval time.Duration
}

// defaultPingInterval is assumed when the open frame omits pingInterval.
const defaultPingInterval = 25 * time.Second

// Result is the typed outcome of parsing one raw text frame.
// Exactly the fields for the active Kind are populated.
type Result struct {
	Kind    Kind
	Control Control
	// Handshake is set for ControlOpen.
	Handshake *Handshake
	// Event name and raw payload, set for KindEvent.
	Event   string
	Payload json.RawMessage
	// Server error details, set for KindError.
	ErrMessage string
	ErrStatus  string
	Fatal      bool
	// Reason explains KindIgnored results.
	Reason string
}

type openPayload struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
}

type exceptionPayload struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
}

// Parse classifies one raw inbound text frame. It never fails: anything it
// cannot interpret comes back as KindIgnored with a Reason for the caller
// to log.
func Parse(frame string) Result {
	switch frame {
	case framePing:
		return Result{Kind: KindControl, Control: ControlPing}
	case framePong:
		return Result{Kind: KindIgnored, Reason: "unexpected pong from server"}
	case frameDisconnect:
		return Result{Kind: KindControl, Control: ControlDisconnect}
	}

	switch {
	case strings.HasPrefix(frame, prefixEvent):
		return parseEvent(frame)
	case strings.HasPrefix(frame, prefixNamespaceDisconnect):
		return Result{Kind: KindControl, Control: ControlNamespaceDisconnect}
	case strings.HasPrefix(frame, prefixNamespaceConnect):
		return Result{Kind: KindControl, Control: ControlNamespaceConnect}
	case strings.HasPrefix(frame, frameOpen):
		return parseOpen(frame)
	}

	return Result{Kind: KindIgnored, Reason: "unrecognized frame"}
}

func parseOpen(frame string) Result {
	var p openPayload
	if err := json.Unmarshal([]byte(frame[1:]), &p); err != nil {
		return Result{Kind: KindIgnored, Reason: "malformed open frame: " + err.Error()}
	}

	interval := defaultPingInterval
	if p.PingInterval > 0 {
		interval = time.Duration(p.PingInterval) * time.Millisecond
	}

	return Result{
		Kind:    KindControl,
		Control: ControlOpen,
		Handshake: &Handshake{
			SID:          p.SID,
			PingInterval: interval,
		},
	}
}

func parseEvent(frame string) Result {
	body, ok := strings.CutPrefix(frame, prefixEvent+Namespace+",")
	if !ok {
		return Result{Kind: KindIgnored, Reason: "event outside device namespace"}
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(body), &arr); err != nil {
		return Result{Kind: KindIgnored, Reason: "malformed event frame: " + err.Error()}
	}
	if len(arr) != 2 {
		return Result{Kind: KindIgnored, Reason: "event array is not a pair"}
	}

	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return Result{Kind: KindIgnored, Reason: "event name is not a string"}
	}

	if name == "exception" {
		return classifyException(arr[1])
	}

	return Result{Kind: KindEvent, Event: name, Payload: arr[1]}
}

// classifyException decides whether a server exception is fatal.
// "Forbidden resource" with status=error is always fatal; anything else is
// fatal unless its close code is a normal closure (1000/1005).
func classifyException(payload json.RawMessage) Result {
	var e exceptionPayload
	if err := json.Unmarshal(payload, &e); err != nil {
		return Result{Kind: KindError, ErrMessage: "unparseable exception", Fatal: true}
	}

	r := Result{Kind: KindError, ErrMessage: e.Message, ErrStatus: e.Status}

	if e.Status == "error" && e.Message == "Forbidden resource" {
		r.Fatal = true
		return r
	}

	switch e.Code {
	case 1000, 1005:
		r.Fatal = false
	default:
		r.Fatal = true
	}
	return r
}
