package rpc

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"energon/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// snapshotWriter serialises error bookkeeping for concurrent getters. Each
// getter owns a distinct snapshot field, so only the maps need the lock.
type snapshotWriter struct {
	mu   sync.Mutex
	snap *models.ChainSnapshot
}

func (w *snapshotWriter) fail(field string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap.Fail(field, err)
}

// ReadProtocol fills the account-independent fields of snap. The controller
// address is resolved first since the controller-scoped reads depend on it.
func (r *Reader) ReadProtocol(ctx context.Context, snap *models.ChainSnapshot) {
	controller, err := r.Address(ctx, r.contracts.NFT, NFTABI, "controller")
	if err == nil && controller == (common.Address{}) {
		err = errors.New("controller() returned the zero address")
	}
	if err != nil {
		snap.Fail(models.FieldController, err)
		controller = r.contracts.FallbackController
		snap.ControllerFallback = true
		r.logger.Debug("controller read failed, using fallback", "fallback", controller.Hex(), "error", err)
	}
	snap.Controller = &controller

	w := &snapshotWriter{snap: snap}
	var g errgroup.Group
	g.Go(func() error {
		if v, err := r.Uint(ctx, r.contracts.NFT, NFTABI, "totalMinted"); err != nil {
			w.fail(models.FieldTotalMinted, err)
		} else {
			snap.TotalMinted = v
		}
		return nil
	})
	g.Go(func() error {
		if v, err := r.Uint(ctx, controller, ControllerABI, "energonHeight"); err != nil {
			w.fail(models.FieldHeight, err)
		} else {
			snap.EnergonHeight = v
		}
		return nil
	})
	g.Go(func() error {
		if v, err := r.Uint(ctx, controller, ControllerABI, "secondsUntilNextEnergonBlock"); err != nil {
			w.fail(models.FieldSecondsUntil, err)
		} else {
			snap.SecondsUntilNext = v
		}
		return nil
	})
	g.Go(func() error {
		if v, method, err := r.FirstUint(ctx, r.contracts.NFT, NFTABI, MintPriceCandidates); err != nil {
			w.fail(models.FieldMintPrice, err)
		} else {
			snap.MintPrice = v
			snap.MintPriceMethod = method
		}
		return nil
	})
	_ = g.Wait()
}

// ReadAccount fills the fields scoped to the connected account.
func (r *Reader) ReadAccount(ctx context.Context, snap *models.ChainSnapshot, account common.Address) {
	w := &snapshotWriter{snap: snap}
	var g errgroup.Group
	g.Go(func() error {
		balance, err := r.Uint(ctx, r.contracts.NFT, NFTABI, "balanceOf", account)
		if err != nil {
			w.fail(models.FieldCubeBalance, err)
			return nil
		}
		snap.CallerCubeBalance = balance
		if balance.Sign() == 0 {
			return nil
		}
		id, err := r.Uint(ctx, r.contracts.NFT, NFTABI, "tokenOfOwnerByIndex", account, big.NewInt(0))
		if err != nil {
			w.fail(models.FieldAutoTokenID, err)
			return nil
		}
		snap.AutoTokenID = id
		return nil
	})
	g.Go(func() error {
		if v, err := r.Uint(ctx, r.contracts.Token, TokenABI, "balanceOf", account); err != nil {
			w.fail(models.FieldEonBalance, err)
		} else {
			snap.EonBalance = v
		}
		return nil
	})
	g.Go(func() error {
		if v, err := r.Uint8(ctx, r.contracts.Token, TokenABI, "decimals"); err != nil {
			w.fail(models.FieldEonDecimals, err)
		} else {
			snap.EonDecimals = v
		}
		return nil
	})
	g.Go(func() error {
		// symbol() is optional on ERC-20.
		if v, err := r.String(ctx, r.contracts.Token, TokenABI, "symbol"); err != nil {
			w.fail(models.FieldEonSymbol, err)
		} else {
			snap.EonSymbol = v
		}
		return nil
	})
	_ = g.Wait()
}

// ReadOwnership resolves ownerOf(candidate) and, for a minted token, its URI.
// A nil candidate leaves the owner unread.
func (r *Reader) ReadOwnership(ctx context.Context, snap *models.ChainSnapshot, candidate *big.Int) {
	snap.CandidateTokenID = candidate
	if candidate == nil {
		return
	}
	snap.Owner = models.OwnerRead{TokenID: candidate}
	owner, err := r.Address(ctx, r.contracts.NFT, NFTABI, "ownerOf", candidate)
	switch {
	case errors.Is(err, models.ErrReverted):
		snap.Owner.Status = models.OwnerReverted
		return
	case err != nil:
		snap.Owner.Status = models.OwnerUnknown
		snap.Fail(models.FieldOwnerOf, err)
		return
	}
	snap.Owner.Status = models.OwnerKnown
	snap.Owner.Owner = owner

	uri, err := r.String(ctx, r.contracts.NFT, NFTABI, "tokenURI", candidate)
	if err != nil {
		snap.Fail(models.FieldTokenURI, err)
		return
	}
	snap.TokenURI = uri
}

// RetainStale copies display values from prev into fields whose read failed
// in snap. Countdown and ownership are never carried over: acting on a stale
// countdown or owner would be wrong, not merely old.
func RetainStale(snap, prev *models.ChainSnapshot) {
	if prev == nil {
		return
	}
	keep := func(field string, cur **big.Int, old *big.Int) {
		if _, failed := snap.Errors[field]; failed && *cur == nil && old != nil {
			*cur = old
			snap.MarkStale(field)
		}
	}
	keep(models.FieldTotalMinted, &snap.TotalMinted, prev.TotalMinted)
	keep(models.FieldHeight, &snap.EnergonHeight, prev.EnergonHeight)
	keep(models.FieldMintPrice, &snap.MintPrice, prev.MintPrice)
	keep(models.FieldCubeBalance, &snap.CallerCubeBalance, prev.CallerCubeBalance)
	keep(models.FieldEonBalance, &snap.EonBalance, prev.EonBalance)
	keep(models.FieldAutoTokenID, &snap.AutoTokenID, prev.AutoTokenID)
	if snap.Stale[models.FieldCubeBalance] && snap.AutoTokenID == nil {
		snap.AutoTokenID = prev.AutoTokenID
	}
	if _, failed := snap.Errors[models.FieldTokenURI]; failed && prev.TokenURI != "" && sameID(snap.CandidateTokenID, prev.CandidateTokenID) {
		snap.TokenURI = prev.TokenURI
		snap.MarkStale(models.FieldTokenURI)
	}
	if _, failed := snap.Errors[models.FieldMintPrice]; failed && snap.Stale[models.FieldMintPrice] {
		snap.MintPriceMethod = prev.MintPriceMethod
	}
	if _, failed := snap.Errors[models.FieldEonSymbol]; failed && prev.EonSymbol != "" {
		snap.EonSymbol = prev.EonSymbol
		snap.MarkStale(models.FieldEonSymbol)
	}
	if _, failed := snap.Errors[models.FieldEonDecimals]; failed {
		snap.EonDecimals = prev.EonDecimals
		snap.MarkStale(models.FieldEonDecimals)
	}
}

func sameID(a, b *big.Int) bool {
	return a != nil && b != nil && a.Cmp(b) == 0
}
