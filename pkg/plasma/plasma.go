// Package plasma keeps the client-local plasma counter. The counter lives in
// the store so it survives restarts; every update is a compare-and-swap so
// concurrent processes sharing one store never lose an increment.
package plasma

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"energon/pkg/config"
	"energon/pkg/store"
)

const (
	KeyAccumulation = "energon.plasma.accum"
	KeyLastApplied  = "energon.plasma.last"
)

// Result reports the counter after an update and how many times it wrapped.
type Result struct {
	Value    int64
	Releases int64
}

type Accumulator struct {
	store      store.Store
	max        int64
	window     time.Duration
	tickCredit int64
	clock      func() time.Time
	logger     *slog.Logger
}

func New(s store.Store, cfg config.PlasmaConfig, clock func() time.Time, logger *slog.Logger) *Accumulator {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.Max
	if limit <= 0 {
		limit = 100
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return &Accumulator{
		store:      s,
		max:        limit,
		window:     window,
		tickCredit: cfg.TickCredit,
		clock:      clock,
		logger:     logger,
	}
}

func (a *Accumulator) Max() int64 {
	return a.max
}

// Value returns the stored counter; garbage or absence reads as zero.
func (a *Accumulator) Value(ctx context.Context) (int64, error) {
	raw, _, err := a.store.Get(ctx, KeyAccumulation)
	if err != nil {
		return 0, err
	}
	return a.parse(raw), nil
}

func (a *Accumulator) parse(raw string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v % a.max
}

// Add increases the counter by n, wrapping at max. Each wrap is one release.
func (a *Accumulator) Add(ctx context.Context, n int64) (Result, error) {
	return a.add(ctx, big.NewInt(n))
}

func (a *Accumulator) add(ctx context.Context, n *big.Int) (Result, error) {
	// A failed swap means another writer succeeded, so the loop always
	// makes progress overall.
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		raw, ok, err := a.store.Get(ctx, KeyAccumulation)
		if err != nil {
			return Result{}, err
		}
		cur := a.parse(raw)
		if n.Sign() <= 0 {
			return Result{Value: cur}, nil
		}
		if !ok {
			raw = ""
		}

		total := new(big.Int).Add(big.NewInt(cur), n)
		releases, value := new(big.Int).QuoRem(total, big.NewInt(a.max), new(big.Int))
		next := value.Int64()

		swapped, err := a.store.CompareAndSwap(ctx, KeyAccumulation, raw, strconv.FormatInt(next, 10), 0)
		if err != nil {
			return Result{}, err
		}
		if swapped {
			res := Result{Value: next, Releases: math.MaxInt64}
			if releases.IsInt64() {
				res.Releases = releases.Int64()
			}
			return res, nil
		}
	}
}

// CreditTick adds the per-tick credit after a confirmed tick.
func (a *Accumulator) CreditTick(ctx context.Context) (Result, error) {
	return a.Add(ctx, a.tickCredit)
}

// ApplyElapsed credits totalMinted for every full window since the last
// application. The first call only records the starting point. The
// last-applied timestamp is claimed by CAS before the counter moves, so two
// processes cannot credit the same window.
func (a *Accumulator) ApplyElapsed(ctx context.Context, totalMinted *big.Int) (Result, error) {
	if totalMinted == nil {
		return Result{}, fmt.Errorf("plasma: total minted unknown")
	}
	now := a.clock()
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		raw, ok, err := a.store.Get(ctx, KeyLastApplied)
		if err != nil {
			return Result{}, err
		}
		ms, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if !ok || perr != nil {
			if !ok {
				raw = ""
			}
			swapped, err := a.store.CompareAndSwap(ctx, KeyLastApplied, raw, strconv.FormatInt(now.UnixMilli(), 10), 0)
			if err != nil {
				return Result{}, err
			}
			if swapped {
				v, err := a.Value(ctx)
				return Result{Value: v}, err
			}
			continue
		}

		last := time.UnixMilli(ms)
		windows := int64(now.Sub(last) / a.window)
		if windows <= 0 {
			v, err := a.Value(ctx)
			return Result{Value: v}, err
		}
		advanced := last.Add(time.Duration(windows) * a.window)
		swapped, err := a.store.CompareAndSwap(ctx, KeyLastApplied, raw, strconv.FormatInt(advanced.UnixMilli(), 10), 0)
		if err != nil {
			return Result{}, err
		}
		if !swapped {
			continue
		}
		n := new(big.Int).Mul(big.NewInt(windows), totalMinted)
		a.logger.Debug("plasma windows elapsed", "windows", windows, "credit", n)
		return a.add(ctx, n)
	}
}
