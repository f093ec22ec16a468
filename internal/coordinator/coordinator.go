package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zadoli/thermosync/internal/auth"
	"github.com/zadoli/thermosync/internal/cloud"
	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/infrastructure/config"
	"github.com/zadoli/thermosync/internal/stream"
)

// loginRetryDelay paces re-login attempts during a token refresh when the
// cloud API is unreachable.
const loginRetryDelay = 30 * time.Second

// snapshotTimeout bounds one history write; recording must never stall
// the merge path for long.
const snapshotTimeout = 5 * time.Second

// ErrNotStarted is returned by operations that need a running coordinator.
var ErrNotStarted = errors.New("coordinator: not started")

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Coordinator owns the account session: it logs in, lists the account's
// devices, runs the push-feed stream client, and replaces both token and
// stream client when the token nears expiry.
//
// The stream client is deliberately one-shot; a refresh builds a new one
// rather than re-arming credentials on a live connection.
type Coordinator struct {
	cfg     *config.Config
	cloud   *cloud.Client
	history device.HistoryRepository // nil disables snapshot recording

	store  *device.Store
	merger *device.Merger

	mu     sync.Mutex
	token  auth.Token
	client *stream.Client

	gate      auth.RefreshGate
	refreshCh chan struct{}

	// discovery state per serial, for classifying history snapshots
	snapMu    sync.Mutex
	snapState map[string]device.Discovered

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a coordinator. history may be nil to disable snapshot
// recording. No network activity happens until Start.
func New(cfg *config.Config, cloudClient *cloud.Client, history device.HistoryRepository) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		cloud:     cloudClient,
		history:   history,
		refreshCh: make(chan struct{}, 1),
		snapState: make(map[string]device.Discovered),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Call before Start.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Start logs in, loads the device set, and launches the stream client plus
// the token refresh worker. It returns an error if the initial login or
// device listing fails; stream-level failures after that are retried
// internally and never surface here.
func (c *Coordinator) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() { err = c.start(ctx) })
	return err
}

func (c *Coordinator) start(ctx context.Context) error {
	raw, err := c.cloud.Login(ctx, c.cfg.Cloud.Email, c.cfg.Cloud.Password)
	if err != nil {
		return fmt.Errorf("initial login: %w", err)
	}
	token := auth.NewToken(raw)

	metas, err := c.cloud.ListDevices(ctx, token.Raw())
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	metas = c.filterDevices(metas)
	if len(metas) == 0 {
		return errors.New("coordinator: no devices to track")
	}

	c.store = device.NewStore(metas)
	c.store.SetLogger(c.getLogger())
	c.merger = device.NewMerger(c.store)
	c.merger.SetLogger(c.getLogger())

	if c.history != nil {
		c.store.Subscribe(c.recordSnapshots)
	}

	c.mu.Lock()
	c.token = token
	c.client = c.newStreamClient()
	c.client.Start()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.refreshLoop()

	if c.history != nil && c.cfg.History.RetentionDays > 0 {
		c.wg.Add(1)
		go c.pruneLoop()
	}

	c.logInfo("coordinator started",
		"devices", len(metas),
		"token_expiry", token.Expiry().Format(time.RFC3339))
	return nil
}

// Stop shuts everything down and waits for workers to exit. Idempotent.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		client := c.client
		c.mu.Unlock()
		if client != nil {
			client.Stop()
		}

		c.wg.Wait()
		c.logInfo("coordinator stopped")
	})
}

// Token implements stream.TokenSource.
func (c *Coordinator) Token() auth.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// RequestRefresh implements stream.TokenSource. Non-blocking; duplicate
// requests while a refresh is pending collapse into one.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Store exposes the device store for read access and subscriptions.
// It is nil until Start succeeds.
func (c *Coordinator) Store() *device.Store {
	return c.store
}

// Connected reports whether the push feed is live.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	return client != nil && client.Connected()
}

// StreamStats returns the current stream client's statistics.
func (c *Coordinator) StreamStats() stream.Stats {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return stream.Stats{}
	}
	return client.Stats()
}

// SendCommand sends one control command to a device via the REST API.
// An authorization failure triggers a token refresh and is returned to the
// caller unretried.
func (c *Coordinator) SendCommand(ctx context.Context, serial string, cmd cloud.Command) error {
	if c.store == nil {
		return ErrNotStarted
	}
	meta, ok := c.store.Metadata(serial)
	if !ok {
		return fmt.Errorf("coordinator: unknown device %q", serial)
	}

	err := c.cloud.SendCommand(ctx, c.Token().Raw(), meta.APIID, cmd)
	if err != nil {
		if errors.Is(err, cloud.ErrUnauthorized) {
			c.logWarn("command rejected as unauthorized, requesting token refresh",
				"serial", serial)
			c.RequestRefresh()
		}
		return err
	}

	if c.history != nil {
		if rec, ok := c.store.Get(serial); ok {
			c.writeSnapshot(serial, rec, device.HistorySourceCommand)
		}
	}
	return nil
}

// filterDevices applies the configured serial allow-list. An empty list
// tracks every device on the account.
func (c *Coordinator) filterDevices(metas []device.Metadata) []device.Metadata {
	if len(c.cfg.Devices) == 0 {
		return metas
	}

	bySerial := make(map[string]device.Metadata, len(metas))
	for _, m := range metas {
		bySerial[m.Serial] = m
	}

	out := make([]device.Metadata, 0, len(c.cfg.Devices))
	for _, serial := range c.cfg.Devices {
		m, ok := bySerial[serial]
		if !ok {
			c.logWarn("configured device not present on account", "serial", serial)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (c *Coordinator) newStreamClient() *stream.Client {
	ws := c.cfg.WebSocket
	client := stream.NewClient(stream.Config{
		URL:                  ws.URL,
		HandshakeTimeout:     ws.HandshakeTimeoutDuration(),
		ReadTimeoutFloor:     ws.ReadTimeoutFloorDuration(),
		BackoffInitial:       ws.BackoffInitialDuration(),
		BackoffMax:           ws.BackoffMaxDuration(),
		DiscoveryTimeout:     c.cfg.Discovery.TimeoutDuration(),
		DiscoveryMaxAttempts: c.cfg.Discovery.MaxAttempts,
		SynthesizeFallback:   c.cfg.Discovery.Fallback == config.FallbackSynthesize,
		TokenRefreshLead:     c.cfg.Token.RefreshLeadDuration(),
	}, c, c.store, c.merger)
	client.SetLogger(c.getLogger())
	return client
}

// refreshLoop serializes token refreshes: stop the old stream client,
// obtain a fresh token, start a new client.
func (c *Coordinator) refreshLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.refreshCh:
		}

		if !c.gate.TryBegin() {
			continue
		}
		c.refresh()
		c.gate.End()
	}
}

func (c *Coordinator) refresh() {
	c.logInfo("refreshing bearer token")

	c.mu.Lock()
	old := c.client
	c.client = nil
	c.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	for {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloudTimeout())
		raw, err := c.cloud.Login(ctx, c.cfg.Cloud.Email, c.cfg.Cloud.Password)
		cancel()

		if err == nil {
			token := auth.NewToken(raw)
			c.mu.Lock()
			c.token = token
			c.client = c.newStreamClient()
			c.client.Start()
			c.mu.Unlock()
			c.logInfo("token refreshed, stream restarted",
				"expiry", token.Expiry().Format(time.RFC3339))
			return
		}

		c.logError("re-login failed, retrying", "error", err,
			"retry_in", loginRetryDelay.String())
		select {
		case <-c.done:
			return
		case <-time.After(loginRetryDelay):
		}
	}
}

// recordSnapshots is the store listener that persists merged records.
// The first snapshot after a synthesis transition is tagged as such;
// everything else is a stream snapshot.
func (c *Coordinator) recordSnapshots(serials []string) {
	for _, serial := range serials {
		rec, ok := c.store.Get(serial)
		if !ok {
			continue
		}

		source := device.HistorySourceStream
		c.snapMu.Lock()
		prev := c.snapState[serial]
		if rec.Discovered == device.DiscoveredViaSynthesis && prev != device.DiscoveredViaSynthesis {
			source = device.HistorySourceSynthesis
		}
		c.snapState[serial] = rec.Discovered
		c.snapMu.Unlock()

		c.writeSnapshot(serial, rec, source)
	}
}

func (c *Coordinator) writeSnapshot(serial string, rec *device.Record, source string) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := c.history.RecordSnapshot(ctx, serial, rec, source); err != nil {
		c.logError("recording history snapshot failed", "serial", serial, "error", err)
	}
}

// pruneLoop removes history entries past the retention window once a day.
func (c *Coordinator) pruneLoop() {
	defer c.wg.Done()

	retention := time.Duration(c.cfg.History.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		removed, err := c.history.PruneHistory(ctx, retention)
		cancel()
		if err != nil {
			c.logError("pruning history failed", "error", err)
			continue
		}
		if removed > 0 {
			c.logInfo("pruned history entries", "removed", removed,
				"retention_days", c.cfg.History.RetentionDays)
		}
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	c.getLogger().Info(msg, keysAndValues...)
}

func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	c.getLogger().Warn(msg, keysAndValues...)
}

func (c *Coordinator) logError(msg string, keysAndValues ...any) {
	c.getLogger().Error(msg, keysAndValues...)
}

func (c *Coordinator) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
