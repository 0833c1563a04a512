// Package connectivity decides whether the remote store is actually reachable.
//
// Having a network interface is not enough: [Probe.IsOnline] escalates through
// up to four reads, each bounded by its own timeout, and only an explicit
// confirmation from the backend counts as online.
//
//  1. Direct read of the song partition (anonymous actors only; connection
//     metadata may be access-restricted for them)
//  2. The backend's connectivity signal ([services.ConnectedPath])
//  3. A volatile server clock value ([services.ServerClockPath]); any answer proves reachability
//  4. The direct read again with a longer timeout
//
// Every failed step is logged at debug level and treated as "not confirmed".
package connectivity

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
)

// Step names a probe stage, used in logs.
type Step string

const (
	StepDirect Step = "direct_read"
	StepSignal Step = "connected_signal"
	StepClock  Step = "server_clock"
	StepRetry  Step = "direct_retry"
)

// Timeouts bounds each probe step.
type Timeouts struct {
	Direct time.Duration
	Signal time.Duration
	Clock  time.Duration
	Retry  time.Duration
}

// TimeoutsFromConfig reads probe timeouts from config.
func TimeoutsFromConfig(cfg shared.ProbeConfig) Timeouts {
	return Timeouts{
		Direct: cfg.DirectTimeout.Duration,
		Signal: cfg.SignalTimeout.Duration,
		Clock:  cfg.ClockTimeout.Duration,
		Retry:  cfg.RetryTimeout.Duration,
	}
}

// Probe implements the escalating reachability check.
type Probe struct {
	store      services.RemoteStore
	directPath string
	timeouts   Timeouts
	logger     *log.Logger
}

// NewProbe creates a probe that uses directPath (normally the legacy song partition) for direct reads.
func NewProbe(store services.RemoteStore, directPath string, timeouts Timeouts, logger *log.Logger) *Probe {
	return &Probe{
		store:      store,
		directPath: directPath,
		timeouts:   timeouts,
		logger:     shared.WithLogger(logger, "component", "probe"),
	}
}

// IsOnline reports whether the remote store answered for an actor of the given role.
// It never panics and never returns an error.
func (p *Probe) IsOnline(ctx context.Context, role models.Role) (online bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("probe panicked, assuming offline", "panic", r)
			online = false
		}
	}()

	if role.Anonymous() {
		if p.attempt(ctx, StepDirect, p.timeouts.Direct, p.directRead) {
			return true
		}
	}
	if p.attempt(ctx, StepSignal, p.timeouts.Signal, p.connectedSignal) {
		return true
	}
	if p.attempt(ctx, StepClock, p.timeouts.Clock, p.serverClock) {
		return true
	}
	if p.attempt(ctx, StepRetry, p.timeouts.Retry, p.directRead) {
		return true
	}

	p.logger.Info("remote store unreachable", "role", role)
	return false
}

func (p *Probe) attempt(ctx context.Context, step Step, timeout time.Duration, check func(context.Context) error) bool {
	if ctx.Err() != nil {
		return false
	}
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := check(stepCtx); err != nil {
		p.logger.Debug("probe step not confirmed", "step", step, "error", err, "elapsed", time.Since(start))
		return false
	}
	p.logger.Debug("probe step confirmed", "step", step, "elapsed", time.Since(start))
	return true
}

func (p *Probe) directRead(ctx context.Context) error {
	_, err := p.store.Scan(ctx, p.directPath, services.ScanOpts{Limit: 1})
	return err
}

func (p *Probe) connectedSignal(ctx context.Context) error {
	var connected bool
	found, err := p.store.Get(ctx, services.ConnectedPath, &connected)
	if err != nil {
		return err
	}
	if !found || !connected {
		return fmt.Errorf("%w: connection signal is false", shared.ErrOffline)
	}
	return nil
}

func (p *Probe) serverClock(ctx context.Context) error {
	found, err := p.store.Exists(ctx, services.ServerClockPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: server clock absent", shared.ErrOffline)
	}
	return nil
}
