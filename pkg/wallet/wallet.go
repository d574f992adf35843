package wallet

import (
	"context"
	"fmt"
	"math/big"

	"energon/pkg/config"
	"energon/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnrecognizedChain = 4902
)

// ProviderError is an error reported by the wallet provider itself.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Is maps provider codes onto the model sentinels.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case models.ErrUserRejected:
		return e.Code == CodeUserRejected
	}
	return false
}

// ChainDescriptor is what a provider needs to add a chain it does not know.
type ChainDescriptor struct {
	ChainID        *big.Int
	Name           string
	NativeCurrency config.CurrencyConfig
	RPCURLs        []string
	ExplorerURL    string
}

// DescriptorFromConfig builds the descriptor for the configured chain.
func DescriptorFromConfig(c config.ChainConfig) ChainDescriptor {
	return ChainDescriptor{
		ChainID:        big.NewInt(c.ChainID),
		Name:           c.Name,
		NativeCurrency: c.NativeCurrency,
		RPCURLs:        append([]string(nil), c.RPCURLs...),
		ExplorerURL:    c.ExplorerURL,
	}
}

// TxRequest is an unsigned mutating call.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Signer signs and broadcasts transactions for one account.
type Signer interface {
	Address() common.Address
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitConfirmed(ctx context.Context, hash common.Hash) (models.TxOutcome, error)
}

type EventKind int

const (
	AccountsChanged EventKind = iota
	ChainChanged
)

func (k EventKind) String() string {
	if k == AccountsChanged {
		return "accountsChanged"
	}
	return "chainChanged"
}

// Event is emitted by a provider when its account or chain changes.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Provider is the wallet capability the client consumes.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, desc ChainDescriptor) error
	Signer(ctx context.Context) (Signer, error)
	Events() <-chan Event
}
