package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"energon/pkg/metrics"
	"energon/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contracts holds the protocol addresses the reader talks to.
type Contracts struct {
	NFT                common.Address
	Token              common.Address
	FallbackController common.Address
}

// Reader performs view calls and converts the results into typed values.
// Every failure comes back wrapped in models.ErrReverted or
// models.ErrReadFailure so callers can keep per-field isolation.
type Reader struct {
	caller    ethereum.ContractCaller
	contracts Contracts
	logger    *slog.Logger
}

func NewReader(caller ethereum.ContractCaller, contracts Contracts, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{caller: caller, contracts: contracts, logger: logger}
}

func (r *Reader) Contracts() Contracts {
	return r.contracts
}

// Call packs method with args, evaluates it against to and unpacks the outputs.
func (r *Reader) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", models.ErrReadFailure, method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if IsRevert(err) {
			metrics.ReaderCalls.WithLabelValues(method, "revert").Inc()
			return nil, fmt.Errorf("%w: %s: %v", models.ErrReverted, method, err)
		}
		metrics.ReaderCalls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", models.ErrReadFailure, method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		metrics.ReaderCalls.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: unpack %s: %v", models.ErrReadFailure, method, err)
	}
	metrics.ReaderCalls.WithLabelValues(method, "ok").Inc()
	return values, nil
}

func (r *Reader) Uint(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := r.Call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := first(values).(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unexpected output %T", models.ErrReadFailure, method, first(values))
	}
	return v, nil
}

func (r *Reader) Address(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (common.Address, error) {
	values, err := r.Call(ctx, to, contract, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	v, ok := first(values).(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s: unexpected output %T", models.ErrReadFailure, method, first(values))
	}
	return v, nil
}

func (r *Reader) String(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (string, error) {
	values, err := r.Call(ctx, to, contract, method, args...)
	if err != nil {
		return "", err
	}
	v, ok := first(values).(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: unexpected output %T", models.ErrReadFailure, method, first(values))
	}
	return v, nil
}

func (r *Reader) Uint8(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (uint8, error) {
	values, err := r.Call(ctx, to, contract, method, args...)
	if err != nil {
		return 0, err
	}
	v, ok := first(values).(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: %s: unexpected output %T", models.ErrReadFailure, method, first(values))
	}
	return v, nil
}

func first(values []any) any {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// CallCandidate is one entry of an ordered fallback list: contracts deployed
// at different times expose the same value under different method names.
type CallCandidate struct {
	Method string
	Args   []any
}

// MintPriceCandidates lists the price getters tried in order.
var MintPriceCandidates = []CallCandidate{
	{Method: "priceInFlrWei"},
	{Method: "priceWei"},
	{Method: "price"},
}

// MintMethodCandidates lists the payable mint entry points tried in order.
var MintMethodCandidates = []string{"mintWithFLR", "mint"}

// FirstUint tries each candidate in order and returns the first value read
// along with the method that produced it.
func (r *Reader) FirstUint(ctx context.Context, to common.Address, contract abi.ABI, candidates []CallCandidate) (*big.Int, string, error) {
	var lastErr error
	for _, c := range candidates {
		v, err := r.Uint(ctx, to, contract, c.Method, c.Args...)
		if err == nil {
			return v, c.Method, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no candidates", models.ErrReadFailure)
	}
	return nil, "", lastErr
}

// Simulate evaluates a mutating call as a view call from the given sender.
func (r *Reader) Simulate(ctx context.Context, from, to common.Address, value *big.Int, data []byte) error {
	_, err := r.caller.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}, nil)
	if err == nil {
		return nil
	}
	if IsRevert(err) {
		return fmt.Errorf("%w: %v", models.ErrReverted, err)
	}
	return fmt.Errorf("%w: %v", models.ErrReadFailure, err)
}

// TickCalldata encodes tickEnergon().
func TickCalldata() []byte {
	data, err := ControllerABI.Pack("tickEnergon")
	if err != nil {
		panic(err)
	}
	return data
}

// MintCalldata encodes method(quantity) against the NFT ABI.
func MintCalldata(method string, quantity *big.Int) ([]byte, error) {
	return NFTABI.Pack(method, quantity)
}

// ChooseMintMethod simulates each mint candidate from sender and returns the
// first one the contract accepts with its calldata.
func (r *Reader) ChooseMintMethod(ctx context.Context, from common.Address, quantity, value *big.Int) (string, []byte, error) {
	var lastErr error
	for _, method := range MintMethodCandidates {
		data, err := MintCalldata(method, quantity)
		if err != nil {
			return "", nil, err
		}
		if err := r.Simulate(ctx, from, r.contracts.NFT, value, data); err != nil {
			r.logger.Debug("mint candidate rejected", "method", method, "error", err)
			lastErr = err
			continue
		}
		return method, data, nil
	}
	return "", nil, lastErr
}
