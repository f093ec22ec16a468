package stream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zadoli/thermosync/internal/auth"
	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/socketio"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults and protocol constants.
const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultReadTimeoutFloor = 5 * time.Second
	defaultBackoffInitial   = 10 * time.Second
	defaultBackoffMax       = 10 * time.Minute
	defaultWriteTimeout     = 5 * time.Second

	defaultDiscoveryTimeout     = 10 * time.Second
	defaultDiscoveryMaxAttempts = 3

	// stalenessFactor scales the server ping interval into the silence
	// window after which the connection is considered dead.
	stalenessFactor = 1.2

	// watchdogMaxInterval caps the watchdog check cadence.
	watchdogMaxInterval = 5 * time.Second
)

// Config holds stream client settings.
type Config struct {
	// URL is the websocket endpoint of the push feed.
	URL string

	// HandshakeTimeout bounds the dial and each handshake exchange.
	HandshakeTimeout time.Duration

	// ReadTimeoutFloor is the minimum per-read deadline; the effective
	// deadline is the staleness window, but never below this floor.
	ReadTimeoutFloor time.Duration

	// BackoffInitial and BackoffMax bound the reconnect delay sequence.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// DiscoveryTimeout is the per-attempt wait for a device's base_info.
	DiscoveryTimeout time.Duration

	// DiscoveryMaxAttempts is the total scan budget per device.
	DiscoveryMaxAttempts int

	// SynthesizeFallback selects what happens when the scan budget runs
	// out: synthesize a degraded record, or leave the device undiscovered.
	SynthesizeFallback bool

	// TokenRefreshLead is how long before token expiry a refresh is
	// requested instead of dialing.
	TokenRefreshLead time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReadTimeoutFloor == 0 {
		cfg.ReadTimeoutFloor = defaultReadTimeoutFloor
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if cfg.DiscoveryMaxAttempts == 0 {
		cfg.DiscoveryMaxAttempts = defaultDiscoveryMaxAttempts
	}
	return cfg
}

// TokenSource supplies the current bearer token and accepts refresh
// requests. RequestRefresh must be non-blocking; the caller is expected to
// stop this client and start a fresh one once a new token exists.
type TokenSource interface {
	Token() auth.Token
	RequestRefresh()
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics.
type Stats struct {
	FramesRx      uint64
	FramesTx      uint64
	EventsMerged  uint64
	ErrorsTotal   uint64
	ConnectsTotal uint64 // successful handshakes
	StaleCloses   uint64
	LastMessage   time.Time
	Connected     bool
}

// Client owns one push-feed connection lifecycle end to end: dial,
// handshake (open, login, subscribe), stream, reconnect with exponential
// backoff, staleness detection, and per-device discovery retries.
//
// Concurrency model:
//   - exactly one goroutine (the run loop) owns the socket and reads from it
//   - the watchdog goroutine only reads shared timestamps and may close the
//     socket to unblock a stuck read; it never mutates connection state
//   - cancellation is interrupt-via-close: Stop and the watchdog close the
//     socket, which surfaces as a read error in the run loop
//
// A Client is one-shot: Start runs until Stop. Token refresh replaces the
// whole client rather than swapping credentials on a live one.
type Client struct {
	cfg    Config
	tokens TokenSource
	store  *device.Store
	merger *device.Merger

	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool

	// writeMu serializes writers: the read loop (pongs) and discovery
	// goroutines (scan retries) share the socket for writes.
	writeMu sync.Mutex

	pingInterval atomic.Int64 // nanoseconds, set by the open frame
	lastMessage  atomic.Int64 // unix nanoseconds
	nsDisconnect atomic.Bool  // namespace disconnect frame seen

	started atomic.Bool
	done    *closeOnce
	wg      sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesRx      atomic.Uint64
	framesTx      atomic.Uint64
	eventsMerged  atomic.Uint64
	errorsTotal   atomic.Uint64
	connectsTotal atomic.Uint64
	staleCloses   atomic.Uint64
}

// NewClient creates a stream client. It does not connect; call Start.
func NewClient(cfg Config, tokens TokenSource, store *device.Store, merger *device.Merger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		tokens: tokens,
		store:  store,
		merger: merger,
		done:   newCloseOnce(),
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Start launches the connect loop and the watchdog. Calling Start while
// the client is already running is a no-op.
func (c *Client) Start() {
	if !c.started.CompareAndSwap(false, true) {
		c.logDebug("start ignored, client already running")
		return
	}

	c.wg.Add(2)
	go c.run()
	go c.watchdog()
}

// Stop shuts the client down: signals all goroutines, closes the socket to
// unblock any pending read, and waits for everything to exit. Idempotent.
func (c *Client) Stop() {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()
	c.logInfo("stream client stopped")
}

// Connected reports whether a handshaken connection is live.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	var last time.Time
	if ns := c.lastMessage.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		FramesRx:      c.framesRx.Load(),
		FramesTx:      c.framesTx.Load(),
		EventsMerged:  c.eventsMerged.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		ConnectsTotal: c.connectsTotal.Load(),
		StaleCloses:   c.staleCloses.Load(),
		LastMessage:   last,
		Connected:     c.Connected(),
	}
}

// run is the reconnect loop. Every transport or protocol failure lands
// here and feeds the backoff; only Stop is terminal.
func (c *Client) run() {
	defer c.wg.Done()

	bo := newBackoff(c.cfg.BackoffInitial, c.cfg.BackoffMax)

	for {
		if c.isClosed() {
			return
		}

		if c.tokens.Token().NeedsRefresh(c.cfg.TokenRefreshLead) {
			// Do not dial with a dying token; ask for a replacement and
			// keep backing off until the coordinator swaps this client.
			c.logInfo("bearer token near expiry, requesting refresh")
			c.tokens.RequestRefresh()
		} else if err := c.runConnection(bo); err != nil {
			c.logWarn("connection ended", "error", err)
		} else {
			c.logDebug("connection closed normally")
		}

		if c.isClosed() {
			return
		}

		delay := bo.Next()
		c.logInfo("reconnecting", "attempt", bo.Attempts(), "delay", delay.String())

		select {
		case <-c.done.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runConnection handles a single connection lifecycle: dial, handshake,
// discovery kickoff, then the read loop until failure or shutdown.
func (c *Client) runConnection(bo *backoff) error {
	c.nsDisconnect.Store(false)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("dialing feed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		c.connected = false
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	if err := c.handshake(conn); err != nil {
		c.errorsTotal.Add(1)
		return err
	}

	bo.Reset()
	c.connectsTotal.Add(1)
	c.lastMessage.Store(time.Now().UnixNano())

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logInfo("stream connected",
		"ping_interval", c.pingIntervalDur().String(),
		"devices", len(c.store.Serials()))

	// Discovery retries live only as long as this connection.
	session := make(chan struct{})
	defer close(session)
	for _, serial := range c.store.Undiscovered() {
		c.wg.Add(1)
		go c.discoverDevice(session, serial)
	}

	return c.readLoop(conn)
}

// handshake performs the open → login → subscribe sequence.
func (c *Client) handshake(conn *websocket.Conn) error {
	// Open frame declares the session id and ping interval.
	frame, err := c.readFrame(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: reading open frame: %w", ErrHandshakeFailed, err)
	}
	res := socketio.Parse(frame)
	if res.Kind != socketio.KindControl || res.Control != socketio.ControlOpen || res.Handshake == nil {
		return fmt.Errorf("%w: unexpected first frame %q", ErrHandshakeFailed, frame)
	}
	c.pingInterval.Store(int64(res.Handshake.PingInterval))
	c.logDebug("session opened", "sid", res.Handshake.SID,
		"ping_interval", res.Handshake.PingInterval.String())

	// Login with the bearer token.
	login, err := socketio.BuildLogin(c.tokens.Token().Raw())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := c.writeFrame(conn, login); err != nil {
		return fmt.Errorf("%w: sending login: %w", ErrHandshakeFailed, err)
	}
	reply, err := c.readFrame(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: reading login ack: %w", ErrHandshakeFailed, err)
	}
	if res := socketio.Parse(reply); res.Kind == socketio.KindError {
		return fmt.Errorf("%w: %s", ErrAuthRejected, res.ErrMessage)
	}

	// Subscribe to the configured device set in one message.
	sub, err := socketio.BuildSubscribe(c.store.Serials())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := c.writeFrame(conn, sub); err != nil {
		return fmt.Errorf("%w: sending subscribe: %w", ErrHandshakeFailed, err)
	}
	reply, err = c.readFrame(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: reading subscribe ack: %w", ErrHandshakeFailed, err)
	}
	switch res := socketio.Parse(reply); res.Kind {
	case socketio.KindError:
		if res.Fatal {
			return fmt.Errorf("%w: subscribe rejected: %s", ErrHandshakeFailed, res.ErrMessage)
		}
	case socketio.KindEvent:
		// The ack slot may already carry a real event; do not lose it.
		c.handleEventFrame(res)
	default:
	}

	return nil
}

// readLoop pulls frames until the connection fails, goes stale, or the
// client is stopped. Every read error ends the connection: gorilla read
// errors are permanent, so the socket is never read again after one.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		if c.isClosed() {
			return nil
		}

		deadline := readTimeout(c.pingIntervalDur(), c.cfg.ReadTimeoutFloor)
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return c.classifyReadError(err)
		}

		c.framesRx.Add(1)
		if err := c.handleFrame(conn, string(data)); err != nil {
			return err
		}
	}
}

// classifyReadError maps a read failure onto the error handed to the
// reconnect loop. A deadline expiry means the feed was silent past the
// staleness window and reports ErrStaleConnection. Normal closures and
// shutdown report nil.
func (c *Client) classifyReadError(err error) error {
	if c.isClosed() {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.staleCloses.Add(1)
		c.logWarn("no frames within staleness window, closing connection",
			"silence", time.Since(time.Unix(0, c.lastMessage.Load())).String(),
			"window", staleAfter(c.pingIntervalDur()).String())
		return ErrStaleConnection
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		return nil
	}
	if c.nsDisconnect.Load() {
		// Socket teardown after a namespace disconnect is expected.
		c.logDebug("connection closed after namespace disconnect")
		return nil
	}

	c.errorsTotal.Add(1)
	return fmt.Errorf("reading frame: %w", err)
}

// handleFrame dispatches one inbound frame. Every frame, including pings,
// refreshes the liveness timestamp.
func (c *Client) handleFrame(conn *websocket.Conn, frame string) error {
	c.lastMessage.Store(time.Now().UnixNano())

	res := socketio.Parse(frame)
	switch res.Kind {
	case socketio.KindControl:
		return c.handleControl(conn, res)

	case socketio.KindError:
		if res.Fatal {
			c.errorsTotal.Add(1)
			return fmt.Errorf("%w: %s", ErrFatalServerError, res.ErrMessage)
		}
		c.logDebug("benign server exception", "message", res.ErrMessage)

	case socketio.KindEvent:
		c.handleEventFrame(res)

	case socketio.KindIgnored:
		c.logWarn("ignoring frame", "reason", res.Reason)
	}
	return nil
}

func (c *Client) handleControl(conn *websocket.Conn, res socketio.Result) error {
	switch res.Control {
	case socketio.ControlPing:
		if err := c.writeFrame(conn, socketio.Pong); err != nil {
			return fmt.Errorf("sending pong: %w", err)
		}
	case socketio.ControlDisconnect:
		return ErrServerDisconnect
	case socketio.ControlNamespaceDisconnect:
		c.nsDisconnect.Store(true)
		c.logDebug("namespace disconnect received")
	case socketio.ControlOpen:
		c.logDebug("open frame outside handshake")
	case socketio.ControlNamespaceConnect:
		c.logDebug("namespace connect received")
	}
	return nil
}

func (c *Client) handleEventFrame(res socketio.Result) {
	if res.Event != "event" {
		c.logDebug("non-event message", "name", res.Event)
		return
	}
	if serial := c.merger.HandleEvent(res.Payload); serial != "" {
		c.eventsMerged.Add(1)
	}
}

// watchdog closes stale connections on a fixed cadence, independently of
// the read loop making progress. This guards against half-open sockets
// that never surface a read error.
func (c *Client) watchdog() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case <-time.After(watchdogInterval(c.pingIntervalDur())):
		}

		if !c.Connected() {
			continue
		}
		pi := c.pingIntervalDur()
		if pi <= 0 {
			continue
		}

		if c.isStale(pi) {
			c.staleCloses.Add(1)
			c.logWarn("watchdog detected stale connection, forcing close",
				"silence", time.Since(time.Unix(0, c.lastMessage.Load())).String(),
				"window", staleAfter(pi).String())

			// Only close the socket; the read loop observes the failure
			// and drives the reconnect.
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn != nil {
				conn.Close()
			}
		}
	}
}

func (c *Client) isStale(pingInterval time.Duration) bool {
	if pingInterval <= 0 {
		return false
	}
	last := c.lastMessage.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > staleAfter(pingInterval)
}

// staleAfter is the silence window derived from the server ping interval.
func staleAfter(pingInterval time.Duration) time.Duration {
	return time.Duration(float64(pingInterval) * stalenessFactor)
}

// readTimeout bounds a single read: the full staleness window derived from
// the ping interval, but never below the configured floor. A read that
// outlives it means the feed went silent past the window.
func readTimeout(pingInterval, floor time.Duration) time.Duration {
	if window := staleAfter(pingInterval); window > floor {
		return window
	}
	return floor
}

// watchdogInterval is the check cadence: half the ping interval, capped.
func watchdogInterval(pingInterval time.Duration) time.Duration {
	if pingInterval <= 0 {
		return watchdogMaxInterval
	}
	half := pingInterval / 2
	if half > watchdogMaxInterval {
		return watchdogMaxInterval
	}
	return half
}

func (c *Client) pingIntervalDur() time.Duration {
	return time.Duration(c.pingInterval.Load())
}

func (c *Client) readFrame(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	c.framesRx.Add(1)
	return string(data), nil
}

func (c *Client) writeFrame(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.errorsTotal.Add(1)
		return err
	}
	c.framesTx.Add(1)
	return nil
}

// send writes a frame on the current connection, for callers outside the
// read loop (discovery retries).
func (c *Client) send(frame string) error {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	return c.writeFrame(conn, frame)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
