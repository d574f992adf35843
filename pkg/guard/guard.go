package guard

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"energon/pkg/config"
	"energon/pkg/metrics"
	"energon/pkg/models"
	"energon/pkg/store"

	"github.com/google/uuid"
)

// DefaultLockKey is the shared-storage key of the cross-tab tick lock.
const DefaultLockKey = "energon.tick.lock"

type Reason string

const (
	ReasonEligible      Reason = "eligible"
	ReasonUnknown       Reason = "unknown"
	ReasonNotDue        Reason = "not_due"
	ReasonAlreadyTicked Reason = "already_ticked"
	ReasonInFlight      Reason = "in_flight"
	ReasonCooldown      Reason = "cooldown"
	ReasonBackoff       Reason = "backoff"
	ReasonLocked        Reason = "cross_tab_lock"
	ReasonStoreError    Reason = "store_error"
)

// Decision is the result of evaluating the guard for one opportunity.
// Until is set for the time-based rejections.
type Decision struct {
	Eligible bool
	Reason   Reason
	Until    time.Time
}

// Status renders the decision for the status line.
func (d Decision) Status() string {
	switch d.Reason {
	case ReasonEligible:
		return "Tick available."
	case ReasonUnknown:
		return "Waiting for chain state."
	case ReasonNotDue:
		return "Next Energon block not due yet."
	case ReasonAlreadyTicked:
		return "Already ticked at this height."
	case ReasonInFlight:
		return "Tick in progress."
	case ReasonCooldown:
		return fmt.Sprintf("Cooling down until %s.", d.Until.Format(time.TimeOnly))
	case ReasonBackoff:
		return fmt.Sprintf("Backing off after failure until %s.", d.Until.Format(time.TimeOnly))
	case ReasonLocked:
		return "Another session is ticking."
	case ReasonStoreError:
		return "Tick lock unavailable."
	}
	return string(d.Reason)
}

// Opportunity is what the chain says about the next tick.
type Opportunity struct {
	Height       *big.Int
	SecondsUntil *big.Int
}

// OpportunityFrom extracts the opportunity from a snapshot. Stale values are
// treated as unknown.
func OpportunityFrom(snap *models.ChainSnapshot) Opportunity {
	if snap == nil {
		return Opportunity{}
	}
	op := Opportunity{Height: snap.EnergonHeight, SecondsUntil: snap.SecondsUntilNext}
	if snap.Stale[models.FieldHeight] {
		op.Height = nil
	}
	if snap.Stale[models.FieldSecondsUntil] {
		op.SecondsUntil = nil
	}
	return op
}

type Config struct {
	LockKey       string
	LockTTL       time.Duration
	Cooldown      time.Duration
	BackoffStart  time.Duration
	BackoffMax    time.Duration
	UseSharedLock bool
	// ReleaseHeightOnFailure forgets lastTickedHeight after a failed
	// submission so the same height can be retried once backoff ends.
	ReleaseHeightOnFailure bool
	// Owner identifies this process in the lock value.
	Owner string
}

// ConfigFrom converts the file configuration. The shared lock is on.
func ConfigFrom(c config.GuardConfig) Config {
	return Config{
		LockKey:                DefaultLockKey,
		LockTTL:                time.Duration(c.LockTTLSeconds) * time.Second,
		Cooldown:               time.Duration(c.CooldownSeconds) * time.Second,
		BackoffStart:           time.Duration(c.BackoffStartSeconds) * time.Second,
		BackoffMax:             time.Duration(c.BackoffMaxSeconds) * time.Second,
		UseSharedLock:          true,
		ReleaseHeightOnFailure: c.ReleaseHeightOnFailure,
	}
}

// State is a read-only copy of the guard's bookkeeping.
type State struct {
	LastTickedHeight *big.Int
	CooldownUntil    time.Time
	Backoff          time.Duration
	BackoffUntil     time.Time
	InFlight         bool
}

// SubmitFunc sends the transaction and waits for its confirmation.
type SubmitFunc func(ctx context.Context) (models.TxOutcome, error)

// TickGuard decides whether a tick may be sent and sends it at most once per
// eligible opportunity. Manual and automatic ticks share one guard.
type TickGuard struct {
	store  store.Store
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger

	mu               sync.Mutex
	lastTickedHeight *big.Int
	cooldownUntil    time.Time
	backoff          time.Duration
	backoffUntil     time.Time
	inFlight         bool
}

// New returns a guard. s may be nil when cfg.UseSharedLock is false.
func New(s store.Store, cfg Config, clock func() time.Time, logger *slog.Logger) *TickGuard {
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.Owner == "" {
		cfg.Owner = uuid.NewString()
	}
	if cfg.BackoffMax < cfg.BackoffStart {
		cfg.BackoffMax = cfg.BackoffStart
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TickGuard{store: s, cfg: cfg, clock: clock, logger: logger}
}

func (g *TickGuard) Owner() string {
	return g.cfg.Owner
}

func (g *TickGuard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{
		CooldownUntil: g.cooldownUntil,
		Backoff:       g.backoff,
		BackoffUntil:  g.backoffUntil,
		InFlight:      g.inFlight,
	}
	if g.lastTickedHeight != nil {
		st.LastTickedHeight = new(big.Int).Set(g.lastTickedHeight)
	}
	return st
}

// Backoff returns the current retry delay; zero after a success.
func (g *TickGuard) Backoff() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backoff
}

// evaluateLocked checks everything held in this process.
func (g *TickGuard) evaluateLocked(op Opportunity, now time.Time) Decision {
	switch {
	case op.Height == nil || op.SecondsUntil == nil:
		return Decision{Reason: ReasonUnknown}
	case op.SecondsUntil.Sign() != 0:
		return Decision{Reason: ReasonNotDue}
	case g.lastTickedHeight != nil && g.lastTickedHeight.Cmp(op.Height) == 0:
		return Decision{Reason: ReasonAlreadyTicked}
	case g.inFlight:
		return Decision{Reason: ReasonInFlight}
	case now.Before(g.cooldownUntil):
		return Decision{Reason: ReasonCooldown, Until: g.cooldownUntil}
	case now.Before(g.backoffUntil):
		return Decision{Reason: ReasonBackoff, Until: g.backoffUntil}
	}
	return Decision{Eligible: true, Reason: ReasonEligible}
}

// Evaluate reports whether a tick for op would be attempted now. It does not
// change any state.
func (g *TickGuard) Evaluate(ctx context.Context, op Opportunity) Decision {
	now := g.clock()
	g.mu.Lock()
	d := g.evaluateLocked(op, now)
	g.mu.Unlock()
	if !d.Eligible || !g.cfg.UseSharedLock {
		return d
	}
	lease, err := store.ReadLease(ctx, g.store, g.cfg.LockKey)
	if err != nil {
		g.logger.Warn("reading tick lock failed", "error", err)
		return Decision{Reason: ReasonStoreError}
	}
	if lease.Active(now) {
		return Decision{Reason: ReasonLocked, Until: lease.Until}
	}
	return d
}

// TryTick runs submit if op is eligible. The lock, the cooldown and
// lastTickedHeight are all written before submit is called, so a failure
// inside submit cannot lead to an immediate resend at the same height.
func (g *TickGuard) TryTick(ctx context.Context, op Opportunity, submit SubmitFunc) (models.TxOutcome, Decision, error) {
	now := g.clock()
	g.mu.Lock()
	d := g.evaluateLocked(op, now)
	if !d.Eligible {
		g.mu.Unlock()
		metrics.GuardRejections.WithLabelValues(string(d.Reason)).Inc()
		return models.TxOutcome{}, d, nil
	}
	g.inFlight = true
	g.mu.Unlock()

	if g.cfg.UseSharedLock {
		lease, ok, err := store.AcquireLease(ctx, g.store, g.cfg.LockKey, g.cfg.Owner, now, g.cfg.LockTTL)
		if err != nil || !ok {
			g.mu.Lock()
			g.inFlight = false
			g.mu.Unlock()
			d = Decision{Reason: ReasonLocked, Until: lease.Until}
			if err != nil {
				g.logger.Warn("acquiring tick lock failed", "error", err)
				d = Decision{Reason: ReasonStoreError}
			}
			metrics.GuardRejections.WithLabelValues(string(d.Reason)).Inc()
			return models.TxOutcome{}, d, nil
		}
	}

	g.mu.Lock()
	g.cooldownUntil = now.Add(g.cfg.Cooldown)
	g.lastTickedHeight = new(big.Int).Set(op.Height)
	g.mu.Unlock()

	g.logger.Info("submitting tick", "height", op.Height, "owner", g.cfg.Owner)
	outcome, err := submit(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	if err != nil {
		g.recordFailureLocked()
		g.logger.Warn("tick failed", "height", op.Height, "backoff", g.backoff, "error", err)
		return outcome, d, err
	}
	g.backoff = 0
	g.backoffUntil = time.Time{}
	g.logger.Info("tick confirmed", "height", op.Height, "tx", outcome.Hash.Hex(), "block", outcome.BlockNumber)
	return outcome, d, nil
}

func (g *TickGuard) recordFailureLocked() {
	switch {
	case g.backoff == 0:
		g.backoff = g.cfg.BackoffStart
	case g.backoff*2 > g.cfg.BackoffMax:
		g.backoff = g.cfg.BackoffMax
	default:
		g.backoff *= 2
	}
	g.backoffUntil = g.clock().Add(g.backoff)
	if g.cfg.ReleaseHeightOnFailure {
		g.lastTickedHeight = nil
	}
}
