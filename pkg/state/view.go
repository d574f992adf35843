package state

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"energon/pkg/models"
	"energon/pkg/utils"
)

// Input is everything the derivation looks at.
type Input struct {
	Snapshot       *models.ChainSnapshot
	Session        models.WalletSession
	TokenInput     string
	Metadata       *models.TokenMetadata
	MetadataError  string
	NativeDecimals uint8
	NativeSymbol   string
	ShownDecimals  int
}

// View is the derived dashboard state. Numeric fields are display strings;
// utils.Placeholder marks unknown values.
type View struct {
	Mode      Mode    `json:"mode"`
	Binding   Binding `json:"binding"`
	Bound     bool    `json:"bound"`
	Connected bool    `json:"connected"`
	ChainOK   bool    `json:"chainOk"`
	Account   string  `json:"account"`

	TotalMinted      string `json:"totalMinted"`
	EnergonHeight    string `json:"energonHeight"`
	SecondsUntilNext string `json:"secondsUntilNextBlock"`
	MintPrice        string `json:"mintPrice"`
	CubeBalance      string `json:"cubeBalance"`
	EonBalance       string `json:"eonBalance"`
	TokenID          string `json:"tokenId"`
	TokenInput       string `json:"tokenInput"`
	Controller       string `json:"controller"`

	Rarity        string   `json:"rarity"`
	Genesis       bool     `json:"genesis"`
	MetadataError string   `json:"metadataError,omitempty"`
	Stale         []string `json:"stale,omitempty"`
}

// Derive computes the view for one snapshot. A nil snapshot yields an empty,
// placeholder-filled view for the given session.
func Derive(in Input) View {
	snap := in.Snapshot
	if snap == nil {
		snap = models.NewSnapshot(time.Time{})
	}
	connected := in.Session.OnExpectedChain()
	mode := DeriveMode(connected, snap.CallerCubeBalance)

	account := in.Session.Address
	if !connected {
		account = nil
	}
	binding := DeriveBinding(mode, account, snap.CandidateTokenID, snap.Owner)

	v := View{
		Mode:             mode,
		Binding:          binding,
		Bound:            Bound(mode, binding),
		Connected:        in.Session.Connected(),
		ChainOK:          connected,
		Account:          utils.Placeholder,
		TotalMinted:      utils.FormatInt(snap.TotalMinted),
		EnergonHeight:    utils.FormatInt(snap.EnergonHeight),
		SecondsUntilNext: FormatCountdown(snap.SecondsUntilNext),
		MintPrice:        withSymbol(utils.FormatUnits(snap.MintPrice, in.NativeDecimals, in.ShownDecimals), in.NativeSymbol),
		CubeBalance:      utils.Placeholder,
		EonBalance:       utils.Placeholder,
		TokenID:          utils.FormatInt(snap.CandidateTokenID),
		TokenInput:       in.TokenInput,
		Controller:       utils.Placeholder,
	}
	if in.Session.Address != nil {
		v.Account = in.Session.Address.Hex()
	}
	if snap.Controller != nil {
		v.Controller = snap.Controller.Hex()
	}
	if connected {
		v.CubeBalance = utils.FormatInt(snap.CallerCubeBalance)
		v.EonBalance = withSymbol(utils.FormatUnits(snap.EonBalance, snap.EonDecimals, in.ShownDecimals), snap.EonSymbol)
	}
	// Metadata only counts once the token is bound.
	if v.Bound {
		if in.Metadata != nil {
			v.Rarity = RarityLabel(in.Metadata.Attributes)
		}
		var attrs []models.Attribute
		if in.Metadata != nil {
			attrs = in.Metadata.Attributes
		}
		v.Genesis = IsGenesis(snap.CandidateTokenID, attrs)
		v.MetadataError = in.MetadataError
	}
	for field := range snap.Stale {
		v.Stale = append(v.Stale, field)
	}
	sort.Strings(v.Stale)
	return v
}

func withSymbol(amount, symbol string) string {
	if amount == utils.Placeholder || symbol == "" {
		return amount
	}
	return amount + " " + symbol
}

// FormatCountdown renders seconds as "45s" or "2m 05s".
func FormatCountdown(secs *big.Int) string {
	if secs == nil {
		return utils.Placeholder
	}
	if !secs.IsInt64() {
		return utils.FormatInt(secs) + "s"
	}
	s := secs.Int64()
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	if s < 3600 {
		return fmt.Sprintf("%dm %02ds", s/60, s%60)
	}
	return fmt.Sprintf("%dh %02dm", s/3600, (s%3600)/60)
}
