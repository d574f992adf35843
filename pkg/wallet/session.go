package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"energon/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// Session owns the connect/disconnect lifecycle and the current chain id.
// A nil provider is valid and makes every operation report
// models.ErrWalletUnavailable.
type Session struct {
	provider Provider
	expected ChainDescriptor
	logger   *slog.Logger

	mu    sync.RWMutex
	state models.WalletSession
}

func NewSession(provider Provider, expected ChainDescriptor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		provider: provider,
		expected: expected,
		logger:   logger,
		state:    models.WalletSession{ExpectedChainID: expected.ChainID},
	}
}

// Snapshot returns a copy of the current session.
func (s *Session) Snapshot() models.WalletSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := models.WalletSession{ExpectedChainID: s.state.ExpectedChainID}
	if s.state.Address != nil {
		addr := *s.state.Address
		out.Address = &addr
	}
	if s.state.ChainID != nil {
		out.ChainID = new(big.Int).Set(s.state.ChainID)
	}
	return out
}

func (s *Session) Expected() ChainDescriptor {
	return s.expected
}

// Connect requests account access and records the account and chain id.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.provider == nil {
		return common.Address{}, models.ErrWalletUnavailable
	}
	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("connect: %w", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, fmt.Errorf("connect: %w", models.ErrUserRejected)
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("connect: chain id: %w", err)
	}

	addr := accounts[0]
	s.mu.Lock()
	s.state.Address = &addr
	s.state.ChainID = chainID
	s.mu.Unlock()
	s.logger.Info("wallet connected", "address", addr.Hex(), "chain_id", chainID)
	return addr, nil
}

// Disconnect forgets the account. The provider keeps its own state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Address = nil
	s.state.ChainID = nil
}

// EnsureExpectedChain returns nil when connected on the configured chain.
func (s *Session) EnsureExpectedChain() error {
	st := s.Snapshot()
	if !st.Connected() {
		return models.ErrWalletUnavailable
	}
	if !st.OnExpectedChain() {
		return fmt.Errorf("%w: on chain %s, expected %s", models.ErrWrongChain, st.ChainID, st.ExpectedChainID)
	}
	return nil
}

// SwitchChain asks the provider to move to the configured chain, adding it
// first when the provider does not recognise it. The returned string is the
// status line to show whether or not the switch worked.
func (s *Session) SwitchChain(ctx context.Context) (string, error) {
	if s.provider == nil {
		return models.Status(models.ErrWalletUnavailable), models.ErrWalletUnavailable
	}
	err := s.provider.SwitchChain(ctx, s.expected.ChainID)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Code == CodeUnrecognizedChain {
		s.logger.Info("chain unknown to wallet, adding it", "chain_id", s.expected.ChainID, "name", s.expected.Name)
		if err = s.provider.AddChain(ctx, s.expected); err == nil {
			err = s.provider.SwitchChain(ctx, s.expected.ChainID)
		}
	}
	if err != nil {
		err = fmt.Errorf("switch chain: %w", err)
		return models.Status(err), err
	}

	s.mu.Lock()
	if s.state.Address != nil {
		s.state.ChainID = new(big.Int).Set(s.expected.ChainID)
	}
	s.mu.Unlock()
	return fmt.Sprintf("Switched to %s.", s.expected.Name), nil
}

// Signer returns the provider's signer, but only for a connected session on
// the expected chain.
func (s *Session) Signer(ctx context.Context) (Signer, error) {
	if s.provider == nil {
		return nil, models.ErrWalletUnavailable
	}
	if err := s.EnsureExpectedChain(); err != nil {
		return nil, err
	}
	return s.provider.Signer(ctx)
}

// Watch applies provider events to the session and calls onReset after each
// one. It returns when ctx ends or the provider closes its event channel.
func (s *Session) Watch(ctx context.Context, onReset func(reason string)) {
	if s.provider == nil {
		return
	}
	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.apply(ev)
			s.logger.Info("wallet event", "kind", ev.Kind.String())
			if onReset != nil {
				onReset(ev.Kind.String())
			}
		}
	}
}

func (s *Session) apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			s.state.Address = nil
			s.state.ChainID = nil
			return
		}
		addr := ev.Accounts[0]
		s.state.Address = &addr
	case ChainChanged:
		if s.state.Address != nil && ev.ChainID != nil {
			s.state.ChainID = new(big.Int).Set(ev.ChainID)
		}
	}
}
