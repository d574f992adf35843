package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"energon/pkg/config"
	"energon/pkg/guard"
	"energon/pkg/metrics"
	"energon/pkg/models"
	"energon/pkg/plasma"
	"energon/pkg/rpc"
	"energon/pkg/state"
	"energon/pkg/utils"
	"energon/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
)

const (
	historySize     = 120
	metadataTimeout = 30 * time.Second
)

// ChainReader is the part of rpc.Reader the watcher drives.
type ChainReader interface {
	Contracts() rpc.Contracts
	ReadProtocol(ctx context.Context, snap *models.ChainSnapshot)
	ReadAccount(ctx context.Context, snap *models.ChainSnapshot, account common.Address)
	ReadOwnership(ctx context.Context, snap *models.ChainSnapshot, candidate *big.Int)
	ChooseMintMethod(ctx context.Context, from common.Address, quantity, value *big.Int) (string, []byte, error)
}

// MetadataSource fetches the document behind a tokenURI.
type MetadataSource interface {
	Fetch(ctx context.Context, uri string) (*models.TokenMetadata, error)
}

// Options carries the watcher's collaborators. Plasma and Metadata may be nil.
type Options struct {
	Reader   ChainReader
	Session  *wallet.Session
	Guard    *guard.TickGuard
	Plasma   *plasma.Accumulator
	Metadata MetadataSource
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Watcher runs the polling scheduler and owns the derived dashboard state.
type Watcher struct {
	config   config.Config
	reader   ChainReader
	session  *wallet.Session
	guard    *guard.TickGuard
	plasma   *plasma.Accumulator
	metadata MetadataSource
	clock    func() time.Time
	logger   *slog.Logger

	panel state.TokenPanel

	snapshot   *models.ChainSnapshot
	epoch      uint64
	passSeq    uint64
	appliedSeq uint64
	lastMode   state.Mode

	metadataGen uint64
	stopped     bool
	metadataURI string
	metadataID  *big.Int
	tokenMeta   *models.TokenMetadata
	metadataErr string

	plasmaValue int64
	autoTick    bool
	status      string
	lastTx      string
	history     []HistoryPoint

	subscribers []Subscriber
	mu          sync.RWMutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	refreshChan chan struct{}
	cancel      context.CancelFunc
}

// NewWatcher creates a new Watcher instance.
func NewWatcher(cfg config.Config, opts Options) *Watcher {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		config:      cfg,
		reader:      opts.Reader,
		session:     opts.Session,
		guard:       opts.Guard,
		plasma:      opts.Plasma,
		metadata:    opts.Metadata,
		clock:       opts.Clock,
		logger:      opts.Logger,
		lastMode:    state.ModeDisconnected,
		stopChan:    make(chan struct{}),
		refreshChan: make(chan struct{}, 1),
	}
}

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// Slow subscriber; the next snapshot supersedes this one anyway.
		}
	}
}

// Start begins the polling and auto-tick loops and follows wallet events.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	go w.pollingLoop(ctx)
	go w.autoTickLoop(ctx)
	if w.session != nil {
		go w.session.Watch(ctx, w.Reset)
	}
}

// Stop stops the monitoring loops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.mu.Lock()
		w.stopped = true
		w.clearMetadataLocked()
		cancel := w.cancel
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// RequestRefresh schedules an immediate poll pass and restarts the interval.
func (w *Watcher) RequestRefresh() {
	select {
	case w.refreshChan <- struct{}{}:
	default:
	}
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	interval := w.config.PollInterval()
	w.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Refresh(ctx)
		case <-w.refreshChan:
			w.Refresh(ctx)
			ticker.Reset(interval)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) autoTickLoop(ctx context.Context) {
	interval := time.Duration(w.config.Guard.AutoTickIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 6 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.AutoTick() && w.Dashboard().View.Bound {
				w.tick(ctx, SourceAuto)
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Refresh runs one poll pass and publishes the derived dashboard. A pass
// started before the latest session reset, or behind a newer pass, is
// discarded.
func (w *Watcher) Refresh(ctx context.Context) {
	start := time.Now()
	w.mu.Lock()
	w.passSeq++
	seq, epoch := w.passSeq, w.epoch
	prev := w.snapshot
	w.mu.Unlock()

	session := w.sessionSnapshot()
	onChain := session.OnExpectedChain()

	snap := models.NewSnapshot(w.clock())
	w.reader.ReadProtocol(ctx, snap)
	if onChain {
		w.reader.ReadAccount(ctx, snap, *session.Address)
	}
	rpc.RetainStale(snap, prev)
	if onChain {
		w.reader.ReadOwnership(ctx, snap, w.panel.Candidate(snap.AutoTokenID))
		// tokenURI is only retained once the candidate is known.
		rpc.RetainStale(snap, prev)
	}
	for field, err := range snap.Errors {
		w.logger.Debug("read failed", "field", field, "error", err)
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	mode := state.DeriveMode(onChain, snap.CallerCubeBalance)
	w.mu.Lock()
	if epoch != w.epoch || seq < w.appliedSeq {
		w.mu.Unlock()
		return
	}
	w.appliedSeq = seq
	w.snapshot = snap
	if !session.Connected() || (w.lastMode == state.ModeCoherent && mode != state.ModeCoherent) {
		w.panel.Reset()
		w.clearMetadataLocked()
	}
	w.lastMode = mode
	dash := w.dashboardLocked()
	w.mu.Unlock()

	if w.plasma != nil {
		dash.Plasma = w.updatePlasma(ctx, snap, dash.View.Bound)
	}
	w.recordHistory(snap, dash.Plasma)
	if snap.EnergonHeight != nil {
		h, _ := new(big.Float).SetInt(snap.EnergonHeight).Float64()
		metrics.EnergonHeight.Set(h)
	}

	w.notify(Event{Type: EventSnapshotUpdated, Data: dash})
	w.maybeFetchMetadata(ctx, snap, dash.View.Bound)
}

func (w *Watcher) sessionSnapshot() models.WalletSession {
	if w.session == nil {
		return models.WalletSession{}
	}
	return w.session.Snapshot()
}

// updatePlasma advances the accumulator by elapsed windows while the token is
// bound and returns the value to display.
func (w *Watcher) updatePlasma(ctx context.Context, snap *models.ChainSnapshot, bound bool) int64 {
	var (
		res plasma.Result
		err error
	)
	if bound && snap.TotalMinted != nil {
		res, err = w.plasma.ApplyElapsed(ctx, snap.TotalMinted)
	} else {
		res.Value, err = w.plasma.Value(ctx)
	}
	if err != nil {
		w.logger.Warn("plasma update failed", "error", err)
		w.mu.RLock()
		defer w.mu.RUnlock()
		return w.plasmaValue
	}
	w.applyPlasma(res, "elapsed")
	return res.Value
}

func (w *Watcher) applyPlasma(res plasma.Result, source string) {
	w.mu.Lock()
	w.plasmaValue = res.Value
	w.mu.Unlock()
	if res.Releases > 0 {
		metrics.PlasmaReleases.Add(float64(res.Releases))
		w.logger.Info("plasma released", "releases", res.Releases, "value", res.Value, "source", source)
		w.notify(Event{Type: EventPlasmaReleased, Data: PlasmaEvent{Value: res.Value, Releases: res.Releases, Source: source}})
	}
}

func (w *Watcher) recordHistory(snap *models.ChainSnapshot, plasmaValue int64) {
	if snap.EnergonHeight == nil {
		return
	}
	h, _ := new(big.Float).SetInt(snap.EnergonHeight).Float64()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, HistoryPoint{Height: h, Plasma: float64(plasmaValue)})
	if len(w.history) > historySize {
		w.history = w.history[len(w.history)-historySize:]
	}
}

func (w *Watcher) clearMetadataLocked() {
	w.metadataGen++
	w.metadataURI = ""
	w.metadataID = nil
	w.tokenMeta = nil
	w.metadataErr = ""
}

func (w *Watcher) maybeFetchMetadata(ctx context.Context, snap *models.ChainSnapshot, bound bool) {
	if w.metadata == nil || !bound || snap.TokenURI == "" || snap.CandidateTokenID == nil {
		return
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.metadataURI == snap.TokenURI && w.metadataID != nil && w.metadataID.Cmp(snap.CandidateTokenID) == 0 {
		w.mu.Unlock()
		return
	}
	w.clearMetadataLocked()
	gen := w.metadataGen
	id := new(big.Int).Set(snap.CandidateTokenID)
	w.metadataURI = snap.TokenURI
	w.metadataID = id
	w.mu.Unlock()

	go w.fetchMetadata(context.WithoutCancel(ctx), gen, id, snap.TokenURI)
}

// fetchMetadata stores the result only if no reset or newer fetch happened
// in the meantime.
func (w *Watcher) fetchMetadata(ctx context.Context, gen uint64, id *big.Int, uri string) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	meta, err := w.metadata.Fetch(ctx, uri)

	w.mu.Lock()
	if gen != w.metadataGen {
		w.mu.Unlock()
		w.logger.Debug("discarding superseded metadata", "token_id", id, "uri", uri)
		return
	}
	ev := MetadataEvent{TokenID: id.String()}
	var attrs []models.Attribute
	if err != nil {
		w.metadataErr = models.Status(err)
		ev.Error = w.metadataErr
	} else {
		w.tokenMeta = meta
		attrs = meta.Attributes
		ev.Rarity = state.RarityLabel(attrs)
	}
	ev.Genesis = state.IsGenesis(id, attrs)
	dash := w.dashboardLocked()
	w.mu.Unlock()

	if err != nil {
		w.logger.Info("metadata fetch failed", "token_id", id, "uri", uri, "error", err)
	}
	w.notify(Event{Type: EventMetadataUpdated, Data: ev})
	w.notify(Event{Type: EventSnapshotUpdated, Data: dash})
}

// Reset clears everything derived from the previous session and runs a
// fresh pass. It is called on wallet events, connect and disconnect.
func (w *Watcher) Reset(reason string) {
	w.mu.Lock()
	w.epoch++
	w.snapshot = nil
	w.lastMode = state.ModeDisconnected
	w.clearMetadataLocked()
	w.mu.Unlock()
	w.panel.Reset()

	w.logger.Info("session reset", "reason", reason)
	w.notify(Event{Type: EventSessionReset, Data: reason})
	w.RequestRefresh()
}

func (w *Watcher) dashboardLocked() Dashboard {
	var auto *big.Int
	if w.snapshot != nil {
		auto = w.snapshot.AutoTokenID
	}
	view := state.Derive(state.Input{
		Snapshot:       w.snapshot,
		Session:        w.sessionSnapshot(),
		TokenInput:     w.panel.Display(auto),
		Metadata:       w.tokenMeta,
		MetadataError:  w.metadataErr,
		NativeDecimals: uint8(w.config.Chain.NativeCurrency.Decimals),
		NativeSymbol:   w.config.Chain.NativeCurrency.Symbol,
		ShownDecimals:  w.config.TokenDecimals,
	})
	d := Dashboard{
		View:     view,
		Plasma:   w.plasmaValue,
		PlasmaOn: w.plasma != nil,
		AutoTick: w.autoTick,
		Status:   w.status,
		LastTx:   w.lastTx,
	}
	if w.guard != nil {
		gs := w.guard.State()
		if gs.LastTickedHeight != nil {
			d.Guard.LastTickedHeight = gs.LastTickedHeight.String()
		}
		if !gs.CooldownUntil.IsZero() {
			d.Guard.CooldownUntil = gs.CooldownUntil.UnixMilli()
		}
		if !gs.BackoffUntil.IsZero() {
			d.Guard.BackoffUntil = gs.BackoffUntil.UnixMilli()
		}
		d.Guard.BackoffSeconds = int64(gs.Backoff / time.Second)
		d.Guard.InFlight = gs.InFlight
	}
	return d
}

// Dashboard returns the current derived state.
func (w *Watcher) Dashboard() Dashboard {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dashboardLocked()
}

// Snapshot returns the latest applied snapshot, or nil before the first pass.
func (w *Watcher) Snapshot() *models.ChainSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// History returns a copy of the height/plasma samples, oldest first.
func (w *Watcher) History() []HistoryPoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]HistoryPoint, len(w.history))
	copy(out, w.history)
	return out
}

// Status returns the current status line.
func (w *Watcher) Status() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Watcher) setStatus(s string) string {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
	w.notify(Event{Type: EventStatusUpdated, Data: s})
	return s
}

// LastTx returns the hash of the most recent transaction sent by this process.
func (w *Watcher) LastTx() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastTx
}

func (w *Watcher) AutoTick() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.autoTick
}

// SetAutoTick turns the auto-tick loop on or off.
func (w *Watcher) SetAutoTick(on bool) string {
	w.mu.Lock()
	w.autoTick = on
	w.mu.Unlock()
	if on {
		return w.setStatus("Auto-tick enabled.")
	}
	return w.setStatus("Auto-tick disabled.")
}

// SetManualTokenID replaces the token id input and re-checks ownership.
func (w *Watcher) SetManualTokenID(v string) {
	w.panel.SetManual(v)
	w.RequestRefresh()
}

// Connect asks the wallet for an account.
func (w *Watcher) Connect(ctx context.Context) string {
	if w.session == nil {
		return w.setStatus(models.Status(models.ErrWalletUnavailable))
	}
	addr, err := w.session.Connect(ctx)
	if err != nil {
		return w.setStatus(models.Status(err))
	}
	w.Reset("connect")
	if err := w.session.EnsureExpectedChain(); err != nil {
		return w.setStatus(models.Status(err))
	}
	return w.setStatus(fmt.Sprintf("Connected %s.", utils.ShortAddress(addr)))
}

func (w *Watcher) Disconnect() string {
	if w.session != nil {
		w.session.Disconnect()
	}
	w.Reset("disconnect")
	return w.setStatus("Disconnected.")
}

// SwitchChain moves the wallet to the configured chain.
func (w *Watcher) SwitchChain(ctx context.Context) string {
	if w.session == nil {
		return w.setStatus(models.Status(models.ErrWalletUnavailable))
	}
	status, err := w.session.SwitchChain(ctx)
	if err == nil {
		w.Reset("chain switch")
	}
	return w.setStatus(status)
}

// ManualTick attempts a tick now and returns the status line.
func (w *Watcher) ManualTick(ctx context.Context) string {
	return w.tick(ctx, SourceManual)
}

// tick is shared by the manual and auto paths: same guard, same submit.
func (w *Watcher) tick(ctx context.Context, source string) string {
	if w.session == nil || w.guard == nil {
		return w.setStatus(models.Status(models.ErrWalletUnavailable))
	}
	if err := w.session.EnsureExpectedChain(); err != nil {
		metrics.TickAttempts.WithLabelValues(source, "precondition").Inc()
		if source == SourceAuto {
			return ""
		}
		return w.setStatus(models.Status(err))
	}

	snap := w.Snapshot()
	op := guard.OpportunityFrom(snap)
	var controller common.Address
	if snap != nil && snap.Controller != nil {
		controller = *snap.Controller
	}
	height := utils.FormatInt(op.Height)

	submit := func(ctx context.Context) (models.TxOutcome, error) {
		signer, err := w.session.Signer(ctx)
		if err != nil {
			return models.TxOutcome{}, err
		}
		hash, err := signer.Send(ctx, wallet.TxRequest{To: controller, Data: rpc.TickCalldata()})
		if err != nil {
			return models.TxOutcome{}, err
		}
		w.recordSubmitted(TxEvent{Kind: TxTick, Source: source, Hash: hash.Hex(), Height: height})
		return signer.WaitConfirmed(ctx, hash)
	}

	outcome, d, err := w.guard.TryTick(ctx, op, submit)
	if !d.Eligible {
		metrics.TickAttempts.WithLabelValues(source, "rejected").Inc()
		if source == SourceAuto {
			return ""
		}
		return w.setStatus(d.Status())
	}
	if err != nil {
		metrics.TickAttempts.WithLabelValues(source, "failed").Inc()
		status := models.Status(err)
		w.notify(Event{Type: EventTxFailed, Data: TxEvent{Kind: TxTick, Source: source, Height: height, Error: status}})
		return w.setStatus(status)
	}

	metrics.TickAttempts.WithLabelValues(source, "confirmed").Inc()
	w.notify(Event{Type: EventTxConfirmed, Data: TxEvent{
		Kind: TxTick, Source: source, Hash: outcome.Hash.Hex(), BlockNumber: outcome.BlockNumber, Height: height,
	}})
	if source == SourceManual && w.plasma != nil && w.Dashboard().View.Bound {
		if res, err := w.plasma.CreditTick(ctx); err != nil {
			w.logger.Warn("plasma credit failed", "error", err)
		} else {
			w.applyPlasma(res, "tick")
		}
	}
	w.RequestRefresh()
	return w.setStatus(fmt.Sprintf("Tick confirmed in block %d.", outcome.BlockNumber))
}

func (w *Watcher) recordSubmitted(ev TxEvent) {
	w.mu.Lock()
	w.lastTx = ev.Hash
	w.mu.Unlock()
	w.notify(Event{Type: EventTxSubmitted, Data: ev})
	w.setStatus(fmt.Sprintf("%s submitted: %s", ev.Kind, ev.Hash))
}

// Mint chooses a working mint method by simulation and sends it with
// value = price x quantity.
func (w *Watcher) Mint(ctx context.Context, quantity int) string {
	session := w.sessionSnapshot()
	var price *big.Int
	if snap := w.Snapshot(); snap != nil {
		price = snap.MintPrice
	}
	if err := guard.CheckMint(session, price); err != nil {
		return w.setStatus(models.Status(err))
	}
	quantity = guard.ClampQuantity(quantity, w.config.Mint.MaxQuantity)
	value := guard.MintValue(price, quantity)

	signer, err := w.session.Signer(ctx)
	if err != nil {
		return w.setStatus(models.Status(err))
	}
	method, data, err := w.reader.ChooseMintMethod(ctx, signer.Address(), big.NewInt(int64(quantity)), value)
	if err != nil {
		return w.setStatus(models.Status(err))
	}
	w.logger.Info("minting", "method", method, "quantity", quantity, "value", value)

	hash, err := signer.Send(ctx, wallet.TxRequest{To: w.reader.Contracts().NFT, Data: data, Value: value})
	if err != nil {
		w.notify(Event{Type: EventTxFailed, Data: TxEvent{Kind: TxMint, Error: models.Status(err)}})
		return w.setStatus(models.Status(err))
	}
	w.recordSubmitted(TxEvent{Kind: TxMint, Hash: hash.Hex()})

	outcome, err := signer.WaitConfirmed(ctx, hash)
	if err != nil {
		w.notify(Event{Type: EventTxFailed, Data: TxEvent{Kind: TxMint, Hash: hash.Hex(), Error: models.Status(err)}})
		return w.setStatus(models.Status(err))
	}
	w.notify(Event{Type: EventTxConfirmed, Data: TxEvent{Kind: TxMint, Hash: hash.Hex(), BlockNumber: outcome.BlockNumber}})
	w.RequestRefresh()
	return w.setStatus(fmt.Sprintf("Minted %d in block %d.", quantity, outcome.BlockNumber))
}
