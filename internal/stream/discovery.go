package stream

import (
	"sync"
	"time"

	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/socketio"
)

// discoveryRetryBase is the delay before the second scan attempt; it
// doubles per attempt after that.
const discoveryRetryBase = 2 * time.Second

// discoverDevice drives discovery for one device: send a scan, wait for
// its base_info, retry on timeout with an exponential per-attempt delay,
// and when the budget runs out either synthesize a degraded record or
// leave the device undiscovered, per policy.
//
// The goroutine lives at most as long as the connection that spawned it:
// scans are resent from scratch on the next connection anyway.
func (c *Client) discoverDevice(session <-chan struct{}, serial string) {
	defer c.wg.Done()

	// Watch store notifications for this device's discovery completing.
	discovered := make(chan struct{})
	var once sync.Once
	subID := c.store.Subscribe(func(serials []string) {
		for _, s := range serials {
			if s != serial {
				continue
			}
			if rec, ok := c.store.Get(serial); ok && rec.Discovered == device.DiscoveredLive {
				once.Do(func() { close(discovered) })
			}
		}
	})
	defer c.store.Unsubscribe(subID)

	scan, err := socketio.BuildScan(serial)
	if err != nil {
		c.logWarn("building scan frame failed", "serial", serial, "error", err)
		return
	}

	for attempt := 1; attempt <= c.cfg.DiscoveryMaxAttempts; attempt++ {
		if err := c.send(scan); err != nil {
			// Connection is gone; the next session restarts discovery.
			c.logDebug("scan send failed", "serial", serial, "error", err)
			return
		}
		c.logDebug("scan requested", "serial", serial, "attempt", attempt)

		select {
		case <-discovered:
			c.logDebug("device discovered", "serial", serial, "attempt", attempt)
			return
		case <-session:
			return
		case <-c.done.Done():
			return
		case <-time.After(c.cfg.DiscoveryTimeout):
		}

		if attempt == c.cfg.DiscoveryMaxAttempts {
			break
		}

		delay := discoveryRetryBase << (attempt - 1)
		c.logDebug("discovery timed out, retrying", "serial", serial,
			"attempt", attempt, "retry_in", delay.String())
		select {
		case <-discovered:
			return
		case <-session:
			return
		case <-c.done.Done():
			return
		case <-time.After(delay):
		}
	}

	// Budget exhausted.
	if !c.cfg.SynthesizeFallback {
		c.logWarn("discovery budget exhausted, leaving device undiscovered",
			"serial", serial, "attempts", c.cfg.DiscoveryMaxAttempts)
		return
	}
	if c.store.Synthesize(serial) {
		c.store.Notify([]string{serial})
		c.logWarn("discovery budget exhausted, synthesized record",
			"serial", serial, "attempts", c.cfg.DiscoveryMaxAttempts)
	}
}
