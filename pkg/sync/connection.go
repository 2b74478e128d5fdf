package sync

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/flowdesk/nodesync/pkg/config"
	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/transport"
)

// dialTimeout bounds a single transport connection attempt.
const dialTimeout = 15 * time.Second

// ErrNoConfig is returned by Connect when no configuration has ever been
// supplied.
var ErrNoConfig = errors.New("connect: no connection config supplied")

// Connect starts the connection lifecycle using the given config, or the
// previously supplied one when cfg is nil. It is idempotent while a
// connection is in flight or open: a second call never creates a second
// transport. Connect clears the manual-disconnect flag, so it is also the
// way out of the error state after reconnection attempts were exhausted.
func (e *Engine) Connect(cfg *config.ConnectionConfig) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	if e.connState == domain.StateConnecting || e.connState == domain.StateConnected {
		return nil
	}

	if cfg != nil {
		// Snapshot the caller's config; the engine never mutates theirs.
		snapshot := *cfg
		snapshot.SetDefaults()
		if err := snapshot.Validate(); err != nil {
			return err
		}
		e.cfg = &snapshot
	}
	if e.cfg == nil {
		return ErrNoConfig
	}

	e.manuallyDisconnected = false
	e.reconnectAttempts = 0
	e.stopReconnectTimerLocked()
	e.setStateLocked(domain.StateConnecting)
	e.lastConnectionAttempt = time.Now()
	e.startTransportLocked()
	return nil
}

// Disconnect closes the transport and stops all reconnection. The state
// becomes disconnected and stays there until an explicit Connect call.
func (e *Engine) Disconnect() {
	e.connMu.Lock()
	e.manuallyDisconnected = true
	e.stopReconnectTimerLocked()
	t := e.transport
	e.transport = nil
	e.connEpoch++ // invalidate any in-flight transport goroutine
	e.reconnectAttempts = 0
	e.setStateLocked(domain.StateDisconnected)
	e.connMu.Unlock()

	if t != nil {
		_ = t.Close()
	}
}

// ConnectionState returns the current connection state.
func (e *Engine) ConnectionState() domain.ConnectionState {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return e.connState
}

// setStateLocked transitions the connection state. Callers hold connMu.
func (e *Engine) setStateLocked(state domain.ConnectionState) {
	if e.connState == state {
		return
	}
	e.logger.Debug("connection state", "from", e.connState, "to", state)
	e.connState = state
}

// startTransportLocked builds a transport for the current config and runs
// it on its own goroutine. Each start gets a new epoch; events from
// superseded transports are ignored. Callers hold connMu.
func (e *Engine) startTransportLocked() {
	e.connEpoch++
	epoch := e.connEpoch
	t := e.transportFactory(e.cfg)
	e.transport = t
	go e.runTransport(t, epoch)
}

// runTransport drives one transport lifetime: connect, pump events, report
// the close.
func (e *Engine) runTransport(t transport.Transport, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	err := t.Connect(ctx)
	cancel()
	if err != nil {
		e.logger.Warn("transport connect failed", "error", err)
		e.handleTransportDown(epoch, err)
		return
	}

	e.handleConnectionOpen(epoch)

	closeErr := error(nil)
	for ev := range t.Events() {
		switch ev.Type {
		case transport.EventMessage:
			if e.isCurrentEpoch(epoch) {
				e.HandleMessage(ev.Data)
			}
		case transport.EventError:
			e.logger.Warn("transport read error", "error", ev.Err)
		case transport.EventClosed:
			closeErr = ev.Err
		}
	}
	e.handleTransportDown(epoch, closeErr)
}

// isCurrentEpoch reports whether events from the given transport epoch are
// still welcome.
func (e *Engine) isCurrentEpoch(epoch uint64) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return e.connEpoch == epoch
}

// handleConnectionOpen marks the connection established: state connected,
// reconnect counter reset, heartbeat refreshed, and the offline queue
// replayed.
func (e *Engine) handleConnectionOpen(epoch uint64) {
	e.connMu.Lock()
	if e.connEpoch != epoch || e.manuallyDisconnected {
		e.connMu.Unlock()
		return
	}
	e.setStateLocked(domain.StateConnected)
	e.reconnectAttempts = 0
	e.lastHeartbeat = time.Now()
	e.connMu.Unlock()

	e.logger.Info("connected to execution backend")
	e.ProcessOfflineQueue()
}

// handleTransportDown reacts to a dropped or failed transport. A manual
// disconnect ends the lifecycle; otherwise a reconnect is scheduled with
// exponential backoff until attempts are exhausted, at which point the
// state becomes error and only an explicit Connect recovers.
func (e *Engine) handleTransportDown(epoch uint64, cause error) {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	if e.connEpoch != epoch {
		return
	}
	e.transport = nil

	if e.manuallyDisconnected {
		e.setStateLocked(domain.StateDisconnected)
		return
	}

	e.reconnectAttempts++
	if e.reconnectAttempts >= e.cfg.MaxReconnectAttempts {
		e.logger.Error("reconnection attempts exhausted",
			"attempts", e.reconnectAttempts, "cause", cause)
		e.setStateLocked(domain.StateError)
		return
	}

	delay := backoffDelay(e.cfg.ReconnectInterval, e.reconnectAttempts)
	e.logger.Warn("connection lost, reconnecting",
		"attempt", e.reconnectAttempts, "delay", delay, "cause", cause)
	e.setStateLocked(domain.StateReconnecting)
	e.reconnectTimer = time.AfterFunc(delay, e.reconnectNow)
}

// reconnectNow fires from the reconnect timer.
func (e *Engine) reconnectNow() {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	if e.manuallyDisconnected || e.connState != domain.StateReconnecting {
		return
	}
	e.setStateLocked(domain.StateConnecting)
	e.lastConnectionAttempt = time.Now()
	e.startTransportLocked()
}

// stopReconnectTimerLocked abandons a pending reconnect. Callers hold
// connMu.
func (e *Engine) stopReconnectTimerLocked() {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
}

// recordHeartbeat refreshes the liveness timestamp from a backend
// heartbeat. Heartbeats never trigger state transitions; staleness is
// reported by GetConnectionHealth only.
func (e *Engine) recordHeartbeat(at time.Time) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if at.IsZero() {
		at = time.Now()
	}
	e.lastHeartbeat = at
}

// backoffDelay computes the reconnect delay for the given attempt number
// (1-based): base * 2^(attempt-1) with ±25% jitter, capped at
// MaxReconnectDelay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(config.MaxReconnectDelay)
	}

	// Jitter spreads reconnect storms from clients that dropped together.
	delay += delay * 0.25 * (rand.Float64()*2 - 1)

	if delay > float64(config.MaxReconnectDelay) {
		delay = float64(config.MaxReconnectDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
