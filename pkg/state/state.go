// Package state maps a chain snapshot and wallet session onto the small set
// of derived states the client acts on. Nothing here performs I/O.
package state

import (
	"math/big"

	"energon/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

type Mode string

const (
	ModeDisconnected Mode = "DISCONNECTED"
	ModeSilent       Mode = "SILENT"
	ModeCoherent     Mode = "COHERENT"
	ModeFractured    Mode = "FRACTURED"
)

// DeriveMode is a pure function of the connection flag and the cube balance.
// An unknown balance on a connected wallet derives SILENT.
func DeriveMode(connected bool, balance *big.Int) Mode {
	switch {
	case !connected:
		return ModeDisconnected
	case balance == nil || balance.Sign() <= 0:
		return ModeSilent
	case balance.Cmp(big.NewInt(1)) == 0:
		return ModeCoherent
	default:
		return ModeFractured
	}
}

type BindingStatus string

const (
	BindingIdle      BindingStatus = "IDLE"
	BindingChecking  BindingStatus = "CHECKING"
	BindingNotMinted BindingStatus = "NOT_MINTED"
	BindingNotOwned  BindingStatus = "NOT_OWNED"
	BindingOwned     BindingStatus = "OWNED"
)

// Binding is the outcome of comparing ownerOf(candidate) with the account.
// OK is true only when the wallet is COHERENT and owns the candidate.
type Binding struct {
	OK     bool            `json:"ok"`
	Status BindingStatus   `json:"status"`
	Owner  *common.Address `json:"owner"`
}

// DeriveBinding never infers ownership from the balance: only an ownerOf read
// for the same candidate id can produce OWNED.
func DeriveBinding(mode Mode, account *common.Address, candidate *big.Int, owner models.OwnerRead) Binding {
	if account == nil || candidate == nil {
		return Binding{Status: BindingIdle}
	}
	if owner.TokenID == nil || owner.TokenID.Cmp(candidate) != 0 {
		return Binding{Status: BindingChecking}
	}
	switch owner.Status {
	case models.OwnerReverted:
		return Binding{Status: BindingNotMinted}
	case models.OwnerKnown:
		addr := owner.Owner
		if addr != *account {
			return Binding{Status: BindingNotOwned, Owner: &addr}
		}
		return Binding{OK: mode == ModeCoherent, Status: BindingOwned, Owner: &addr}
	}
	return Binding{Status: BindingChecking}
}

// Bound gates everything reward or heartbeat related.
func Bound(mode Mode, b Binding) bool {
	return mode == ModeCoherent && b.Status == BindingOwned
}
