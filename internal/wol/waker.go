// Package wol wakes the processing worker machine over the LAN and
// waits for its HTTP service to become ready.
package wol

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// State is the worker readiness state as seen by the waker.
type State string

const (
	StateUnknown     State = "unknown"
	StateProbing     State = "probing"
	StateAwake       State = "awake" // packets sent, polling for readiness
	StateReady       State = "ready"
	StateUnreachable State = "unreachable"
)

// Config carries wake protocol settings.
type Config struct {
	BaseURL      string
	MAC          string
	WorkerIP     string
	Broadcast    string
	ProbeTimeout time.Duration
	PollInterval time.Duration
	PollWindow   time.Duration
	SendAttempts int
	SendInterval time.Duration
	// Port overrides the UDP wake port; zero means the standard port 9.
	Port int
}

// Waker implements domain.Waker over HTTP probing plus UDP magic packets.
type Waker struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	state State
}

// NewWaker applies protocol defaults for unset fields.
func NewWaker(cfg Config) *Waker {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = 120 * time.Second
	}
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 3
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 2 * time.Second
	}
	if cfg.Port <= 0 {
		cfg.Port = WakePort
	}
	return &Waker{cfg: cfg, client: &http.Client{}, state: StateUnknown}
}

// State returns the last observed readiness state.
func (w *Waker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Waker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Probe performs one bounded health check against the worker.
func (w *Waker) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("op=wol.Probe: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("op=wol.Probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=wol.Probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// EnsureReady brings the worker to a ready state. With wake false only
// a single probe is performed. Any failure is terminal for the caller's
// run and wraps domain.ErrWorkerUnavailable.
func (w *Waker) EnsureReady(ctx context.Context, wake bool) error {
	w.setState(StateProbing)
	if err := w.Probe(ctx); err == nil {
		w.setState(StateReady)
		return nil
	} else if ctx.Err() != nil {
		w.setState(StateUnknown)
		return fmt.Errorf("op=wol.EnsureReady: %w", ctx.Err())
	}

	if !wake {
		w.setState(StateUnreachable)
		return fmt.Errorf("op=wol.EnsureReady: %w: probe failed and wake disabled", domain.ErrWorkerUnavailable)
	}

	if err := w.sendMagicPackets(ctx); err != nil {
		w.setState(StateUnreachable)
		return fmt.Errorf("op=wol.EnsureReady: %w", err)
	}
	w.setState(StateAwake)

	pollCtx, cancel := context.WithTimeout(ctx, w.cfg.PollWindow)
	defer cancel()
	err := backoff.Retry(func() error {
		return w.Probe(pollCtx)
	}, backoff.WithContext(backoff.NewConstantBackOff(w.cfg.PollInterval), pollCtx))
	if err != nil {
		w.setState(StateUnreachable)
		if ctx.Err() != nil {
			return fmt.Errorf("op=wol.EnsureReady: %w", ctx.Err())
		}
		return fmt.Errorf("op=wol.EnsureReady: %w: worker did not become ready within %s", domain.ErrWorkerUnavailable, w.cfg.PollWindow)
	}
	w.setState(StateReady)
	return nil
}

// sendMagicPackets emits SendAttempts wake datagrams, SendInterval apart.
func (w *Waker) sendMagicPackets(ctx context.Context) error {
	if w.cfg.MAC == "" {
		return fmt.Errorf("op=wol.sendMagicPackets: %w: WORKER_MAC not configured", domain.ErrInvalidArgument)
	}
	pkt, err := BuildMagicPacket(w.cfg.MAC)
	if err != nil {
		return err
	}
	dest := net.JoinHostPort(BroadcastAddr(w.cfg.Broadcast, w.cfg.WorkerIP), fmt.Sprintf("%d", w.cfg.Port))
	addr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		return fmt.Errorf("op=wol.sendMagicPackets: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("op=wol.sendMagicPackets: %w", err)
	}
	defer func() { _ = conn.Close() }()

	for i := 0; i < w.cfg.SendAttempts; i++ {
		if i > 0 {
			select {
			case <-time.After(w.cfg.SendInterval):
			case <-ctx.Done():
				return fmt.Errorf("op=wol.sendMagicPackets: %w", ctx.Err())
			}
		}
		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("op=wol.sendMagicPackets: %w", err)
		}
		slog.Debug("magic packet sent", slog.String("dest", dest), slog.Int("attempt", i+1))
	}
	return nil
}
