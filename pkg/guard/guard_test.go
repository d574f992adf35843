package guard

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"energon/pkg/models"
	"energon/pkg/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		LockTTL:       45 * time.Second,
		Cooldown:      20 * time.Second,
		BackoffStart:  15 * time.Second,
		BackoffMax:    120 * time.Second,
		UseSharedLock: true,
	}
}

func due(h int64) Opportunity {
	return Opportunity{Height: big.NewInt(h), SecondsUntil: big.NewInt(0)}
}

type counter struct {
	calls atomic.Int32
	err   error
}

func (c *counter) submit(context.Context) (models.TxOutcome, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.TxOutcome{}, c.err
	}
	return models.TxOutcome{Hash: common.Hash{0xaa}, BlockNumber: 100}, nil
}

func newGuard(t *testing.T, cfg Config) (*TickGuard, *clock, store.Store) {
	t.Helper()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s := store.NewMemory(c.Now)
	return New(s, cfg, c.Now, nil), c, s
}

func TestEvaluate_Reasons(t *testing.T) {
	g, _, _ := newGuard(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, ReasonUnknown, g.Evaluate(ctx, Opportunity{Height: big.NewInt(1)}).Reason)
	assert.Equal(t, ReasonUnknown, g.Evaluate(ctx, Opportunity{SecondsUntil: big.NewInt(0)}).Reason)
	assert.Equal(t, ReasonNotDue, g.Evaluate(ctx, Opportunity{Height: big.NewInt(1), SecondsUntil: big.NewInt(3)}).Reason)

	d := g.Evaluate(ctx, due(1))
	assert.True(t, d.Eligible)
	assert.Equal(t, ReasonEligible, d.Reason)
}

func TestTryTick_NoDoubleTickPerHeight(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	cfg.UseSharedLock = false
	g, clk, _ := newGuard(t, cfg)
	sub := &counter{}
	ctx := context.Background()

	_, d, err := g.TryTick(ctx, due(42), sub.submit)
	require.NoError(t, err)
	assert.True(t, d.Eligible)

	clk.Advance(time.Minute)
	_, d, err = g.TryTick(ctx, due(42), sub.submit)
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Equal(t, ReasonAlreadyTicked, d.Reason)
	assert.Equal(t, int32(1), sub.calls.Load())

	_, d, _ = g.TryTick(ctx, due(43), sub.submit)
	assert.True(t, d.Eligible)
	assert.Equal(t, int32(2), sub.calls.Load())
}

func TestTryTick_ConcurrentSameHeight(t *testing.T) {
	g, _, _ := newGuard(t, testConfig())
	sub := &counter{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = g.TryTick(context.Background(), due(7), sub.submit)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestTryTick_CrossTabLockRespected(t *testing.T) {
	g, clk, s := newGuard(t, testConfig())
	ctx := context.Background()
	// Another tab wrote a lock that has not expired.
	require.NoError(t, s.Set(ctx, DefaultLockKey, store.EncodeLease(clk.Now().Add(30*time.Second), "other-tab"), 0))
	sub := &counter{}

	d := g.Evaluate(ctx, due(5))
	assert.Equal(t, ReasonLocked, d.Reason)

	_, d, err := g.TryTick(ctx, due(5), sub.submit)
	require.NoError(t, err)
	assert.Equal(t, ReasonLocked, d.Reason)
	assert.Equal(t, int32(0), sub.calls.Load())
	assert.Nil(t, g.State().LastTickedHeight, "a rejected attempt records nothing")

	clk.Advance(31 * time.Second)
	_, d, _ = g.TryTick(ctx, due(5), sub.submit)
	assert.True(t, d.Eligible)
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestTryTick_TwoTabsShareLock(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	s := store.NewMemory(c.Now)
	tabA := New(s, testConfig(), c.Now, nil)
	tabB := New(s, testConfig(), c.Now, nil)
	sub := &counter{}

	_, d, _ := tabA.TryTick(context.Background(), due(9), sub.submit)
	assert.True(t, d.Eligible)
	_, d, _ = tabB.TryTick(context.Background(), due(9), sub.submit)
	assert.Equal(t, ReasonLocked, d.Reason)
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestTryTick_StateWrittenBeforeSend(t *testing.T) {
	g, clk, s := newGuard(t, testConfig())
	ctx := context.Background()

	_, _, err := g.TryTick(ctx, due(11), func(ctx context.Context) (models.TxOutcome, error) {
		st := g.State()
		assert.True(t, st.InFlight)
		require.NotNil(t, st.LastTickedHeight)
		assert.Equal(t, int64(11), st.LastTickedHeight.Int64())
		assert.Equal(t, clk.Now().Add(20*time.Second), st.CooldownUntil)
		lease, err := store.ReadLease(ctx, s, DefaultLockKey)
		require.NoError(t, err)
		assert.True(t, lease.Active(clk.Now()))
		assert.Equal(t, g.Owner(), lease.Owner)
		return models.TxOutcome{}, errors.New("provider went away")
	})
	assert.Error(t, err)

	// Failure keeps the height guard by default.
	st := g.State()
	require.NotNil(t, st.LastTickedHeight)
	assert.False(t, st.InFlight)
}

func TestTryTick_CooldownAndInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.UseSharedLock = false
	g, clk, _ := newGuard(t, cfg)
	ctx := context.Background()
	sub := &counter{}

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = g.TryTick(ctx, due(1), func(ctx context.Context) (models.TxOutcome, error) {
			close(started)
			<-release
			return models.TxOutcome{}, nil
		})
	}()
	<-started
	assert.Equal(t, ReasonInFlight, g.Evaluate(ctx, due(2)).Reason)
	close(release)
	assert.Eventually(t, func() bool { return !g.State().InFlight }, time.Second, time.Millisecond)

	d := g.Evaluate(ctx, due(2))
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, clk.Now().Add(20*time.Second), d.Until)

	clk.Advance(21 * time.Second)
	_, d, _ = g.TryTick(ctx, due(2), sub.submit)
	assert.True(t, d.Eligible)
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	cfg := testConfig()
	cfg.UseSharedLock = false
	cfg.Cooldown = 0
	g, clk, _ := newGuard(t, cfg)
	fail := &counter{err: errors.New("reverted")}
	ctx := context.Background()

	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 120 * time.Second, 120 * time.Second}
	for i, w := range want {
		_, d, err := g.TryTick(ctx, due(int64(100+i)), fail.submit)
		require.True(t, d.Eligible, "attempt %d", i)
		require.Error(t, err)
		assert.Equal(t, w, g.Backoff(), "after failure %d", i+1)

		d = g.Evaluate(ctx, due(int64(200+i)))
		assert.Equal(t, ReasonBackoff, d.Reason)
		clk.Advance(w)
	}

	ok := &counter{}
	_, d, err := g.TryTick(ctx, due(999), ok.submit)
	require.NoError(t, err)
	assert.True(t, d.Eligible)
	assert.Equal(t, time.Duration(0), g.Backoff())
	assert.True(t, g.Evaluate(ctx, due(1000)).Eligible)
}

func TestReleaseHeightOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.UseSharedLock = false
	cfg.Cooldown = 0
	cfg.ReleaseHeightOnFailure = true
	g, clk, _ := newGuard(t, cfg)
	fail := &counter{err: errors.New("nonce too low")}

	_, _, err := g.TryTick(context.Background(), due(3), fail.submit)
	require.Error(t, err)
	assert.Nil(t, g.State().LastTickedHeight)

	clk.Advance(15 * time.Second)
	assert.True(t, g.Evaluate(context.Background(), due(3)).Eligible)
}

type failingStore struct{ store.Store }

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk I/O error")
}

func TestStoreErrorFailsClosed(t *testing.T) {
	c := &clock{now: time.Now()}
	g := New(failingStore{store.NewMemory(c.Now)}, testConfig(), c.Now, nil)
	sub := &counter{}

	assert.Equal(t, ReasonStoreError, g.Evaluate(context.Background(), due(1)).Reason)
	_, d, err := g.TryTick(context.Background(), due(1), sub.submit)
	require.NoError(t, err)
	assert.Equal(t, ReasonStoreError, d.Reason)
	assert.Equal(t, int32(0), sub.calls.Load())
}

func TestOpportunityFrom_Stale(t *testing.T) {
	snap := models.NewSnapshot(time.Now())
	snap.EnergonHeight = big.NewInt(4)
	snap.SecondsUntilNext = big.NewInt(0)
	assert.NotNil(t, OpportunityFrom(snap).Height)

	snap.MarkStale(models.FieldHeight)
	assert.Nil(t, OpportunityFrom(snap).Height)
	assert.Equal(t, Opportunity{}, OpportunityFrom(nil))
}

func TestMintChecks(t *testing.T) {
	assert.Equal(t, 1, ClampQuantity(0, 25))
	assert.Equal(t, 1, ClampQuantity(-4, 25))
	assert.Equal(t, 25, ClampQuantity(40, 25))
	assert.Equal(t, 7, ClampQuantity(7, 25))

	addr := common.HexToAddress("0x01")
	onChain := models.WalletSession{Address: &addr, ChainID: big.NewInt(14), ExpectedChainID: big.NewInt(14)}
	wrong := models.WalletSession{Address: &addr, ChainID: big.NewInt(1), ExpectedChainID: big.NewInt(14)}

	assert.ErrorIs(t, CheckMint(models.WalletSession{}, big.NewInt(1)), models.ErrWalletUnavailable)
	assert.ErrorIs(t, CheckMint(wrong, big.NewInt(1)), models.ErrWrongChain)
	assert.ErrorIs(t, CheckMint(onChain, nil), models.ErrReadFailure)
	assert.NoError(t, CheckMint(onChain, big.NewInt(1)))
	assert.Equal(t, int64(30), MintValue(big.NewInt(10), 3).Int64())
}

func TestDecisionStatus(t *testing.T) {
	for _, r := range []Reason{ReasonEligible, ReasonUnknown, ReasonNotDue, ReasonAlreadyTicked, ReasonInFlight, ReasonCooldown, ReasonBackoff, ReasonLocked, ReasonStoreError} {
		assert.NotEmpty(t, Decision{Reason: r}.Status())
	}
}
