package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"energon/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client a KeyProvider signs against.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DialFunc opens a Backend for an RPC URL.
type DialFunc func(ctx context.Context, url string) (Backend, error)

// DialEthclient is the default DialFunc.
func DialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var ReceiptPollInterval = 2 * time.Second

// KeyProvider is a Provider backed by a locally held private key. It knows
// the chains it was given at construction plus any added through AddChain.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	dial    DialFunc
	logger  *slog.Logger
	events  chan Event

	mu     sync.Mutex
	chains map[string]ChainDescriptor
	active ChainDescriptor
	// backend is dialed once for the active chain and closed on a switch.
	backend Backend
}

type closer interface {
	Close()
}

// NewKeyProvider parses a hex private key (with or without 0x).
func NewKeyProvider(hexKey string, initial ChainDescriptor, dial DialFunc, logger *slog.Logger) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", models.ErrWalletUnavailable, err)
	}
	if initial.ChainID == nil || initial.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required to sign transactions")
	}
	if dial == nil {
		dial = DialEthclient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		dial:    dial,
		logger:  logger,
		events:  make(chan Event, 8),
		chains:  map[string]ChainDescriptor{initial.ChainID.String(): initial},
		active:  initial,
	}, nil
}

// KeyProviderFromEnv reads the key from the named environment variable. An
// unset variable is reported as models.ErrWalletUnavailable.
func KeyProviderFromEnv(envName string, initial ChainDescriptor, dial DialFunc, logger *slog.Logger) (*KeyProvider, error) {
	hexKey := os.Getenv(envName)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", models.ErrWalletUnavailable, envName)
	}
	return NewKeyProvider(hexKey, initial, dial, logger)
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.active.ChainID), nil
}

func (p *KeyProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	p.mu.Lock()
	desc, ok := p.chains[chainID.String()]
	if !ok {
		p.mu.Unlock()
		return &ProviderError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain id %s", chainID)}
	}
	changed := p.active.ChainID.Cmp(chainID) != 0
	p.active = desc
	if changed {
		p.closeBackendLocked()
	}
	p.mu.Unlock()

	if changed {
		p.emit(Event{Kind: ChainChanged, ChainID: new(big.Int).Set(chainID)})
	}
	return nil
}

func (p *KeyProvider) AddChain(ctx context.Context, desc ChainDescriptor) error {
	if desc.ChainID == nil || len(desc.RPCURLs) == 0 {
		return &ProviderError{Code: -32602, Message: "chain descriptor needs an id and an RPC URL"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains[desc.ChainID.String()] = desc
	return nil
}

func (p *KeyProvider) Events() <-chan Event {
	return p.events
}

func (p *KeyProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("dropping wallet event", "kind", ev.Kind.String())
	}
}

// Close releases the backend of the active chain.
func (p *KeyProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeBackendLocked()
}

func (p *KeyProvider) closeBackendLocked() {
	if c, ok := p.backend.(closer); ok {
		c.Close()
	}
	p.backend = nil
}

// Signer returns a signer bound to the active chain id. The chain's first RPC
// URL is dialed on first use and the client is shared by later signers.
func (p *KeyProvider) Signer(ctx context.Context) (Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	desc := p.active
	if len(desc.RPCURLs) == 0 {
		return nil, fmt.Errorf("%w: chain %s has no RPC URL", models.ErrWalletUnavailable, desc.ChainID)
	}
	if p.backend == nil {
		backend, err := p.dial(ctx, desc.RPCURLs[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrTransactionFailure, err)
		}
		p.backend = backend
	}
	backend := p.backend
	opts, err := bind.NewKeyedTransactorWithChainID(p.key, desc.ChainID)
	if err != nil {
		return nil, err
	}
	return &keySigner{backend: backend, opts: opts, chainID: desc.ChainID}, nil
}

type keySigner struct {
	backend Backend
	opts    *bind.TransactOpts
	chainID *big.Int
}

func (s *keySigner) Address() common.Address {
	return s.opts.From
}

// Send builds an EIP-1559 transaction, signs it and broadcasts it.
func (s *keySigner) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.opts.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce: %v", models.ErrTransactionFailure, err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas tip: %v", models.ErrTransactionFailure, err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: header: %v", models.ErrTransactionFailure, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	to := req.To
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.opts.From,
		To:        &to,
		Value:     value,
		Data:      req.Data,
		GasTipCap: tip,
		GasFeeCap: feeCap,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: estimate gas: %v", models.ErrTransactionFailure, err)
	}
	// 20% headroom over the estimate.
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.opts.Signer(s.opts.From, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign: %v", models.ErrTransactionFailure, err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("%w: send: %v", models.ErrTransactionFailure, err)
	}
	return signed.Hash(), nil
}

// WaitConfirmed polls for the receipt until it appears or ctx ends.
func (s *keySigner) WaitConfirmed(ctx context.Context, hash common.Hash) (models.TxOutcome, error) {
	ticker := time.NewTicker(ReceiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			outcome := models.TxOutcome{Hash: hash}
			if receipt.BlockNumber != nil {
				outcome.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return outcome, fmt.Errorf("%w: reverted in block %d", models.ErrTransactionFailure, outcome.BlockNumber)
			}
			return outcome, nil
		case !errors.Is(err, ethereum.NotFound):
			return models.TxOutcome{Hash: hash}, fmt.Errorf("%w: receipt: %v", models.ErrTransactionFailure, err)
		}
		select {
		case <-ctx.Done():
			return models.TxOutcome{Hash: hash}, fmt.Errorf("%w: %v", models.ErrTransactionFailure, ctx.Err())
		case <-ticker.C:
		}
	}
}
