package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Field names used as keys in ChainSnapshot.Errors.
const (
	FieldTotalMinted  = "totalMinted"
	FieldController   = "controller"
	FieldHeight       = "energonHeight"
	FieldSecondsUntil = "secondsUntilNextEnergonBlock"
	FieldMintPrice    = "mintPrice"
	FieldCubeBalance  = "balanceOf"
	FieldAutoTokenID  = "tokenOfOwnerByIndex"
	FieldOwnerOf      = "ownerOf"
	FieldTokenURI     = "tokenURI"
	FieldEonBalance   = "eonBalance"
	FieldEonDecimals  = "decimals"
	FieldEonSymbol    = "symbol"
)

// ChainSnapshot is the read-only view of contract state taken by one poll pass.
// A nil pointer means the value is unknown. Values may be carried over from the
// previous snapshot when a getter failed; those fields are listed in Stale.
type ChainSnapshot struct {
	TakenAt time.Time

	TotalMinted        *big.Int
	Controller         *common.Address
	ControllerFallback bool
	EnergonHeight      *big.Int
	SecondsUntilNext   *big.Int
	MintPrice          *big.Int
	MintPriceMethod    string

	CallerCubeBalance *big.Int
	AutoTokenID       *big.Int
	CandidateTokenID  *big.Int
	Owner             OwnerRead
	TokenURI          string

	EonBalance  *big.Int
	EonDecimals uint8
	EonSymbol   string

	Errors map[string]error
	Stale  map[string]bool
}

// NewSnapshot returns an empty snapshot stamped with t.
func NewSnapshot(t time.Time) *ChainSnapshot {
	return &ChainSnapshot{
		TakenAt:     t,
		EonDecimals: 18,
		Errors:      make(map[string]error),
		Stale:       make(map[string]bool),
	}
}

// Fail records a per-field read failure.
func (s *ChainSnapshot) Fail(field string, err error) {
	if s.Errors == nil {
		s.Errors = make(map[string]error)
	}
	s.Errors[field] = err
}

// MarkStale records that field holds a value retained from an earlier pass.
func (s *ChainSnapshot) MarkStale(field string) {
	if s.Stale == nil {
		s.Stale = make(map[string]bool)
	}
	s.Stale[field] = true
}

// OwnerStatus distinguishes the outcomes of an ownerOf read. A revert means
// the id is unminted or invalid; OwnerUnknown means the call itself failed.
type OwnerStatus int

const (
	OwnerNotRead OwnerStatus = iota
	OwnerKnown
	OwnerReverted
	OwnerUnknown
)

// OwnerRead is the result of ownerOf(candidate).
type OwnerRead struct {
	Status  OwnerStatus
	Owner   common.Address
	TokenID *big.Int
}

// WalletSession describes the connected account.
type WalletSession struct {
	Address         *common.Address
	ChainID         *big.Int
	ExpectedChainID *big.Int
}

// Connected reports whether an account is attached.
func (w WalletSession) Connected() bool {
	return w.Address != nil
}

// OnExpectedChain reports whether the session is connected to the configured chain.
func (w WalletSession) OnExpectedChain() bool {
	if w.Address == nil || w.ChainID == nil || w.ExpectedChainID == nil {
		return false
	}
	return w.ChainID.Cmp(w.ExpectedChainID) == 0
}

// TxOutcome describes a confirmed mutating transaction.
type TxOutcome struct {
	Hash        common.Hash `json:"tx"`
	BlockNumber uint64      `json:"blockNumber"`
}

// ChainResult holds test results for the configured chain.
type ChainResult struct {
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	ConfigChainID   int64       `json:"config_chain_id"`
	RPCs            []RPCResult `json:"rpcs"`
	Inconsistent    bool        `json:"inconsistent"`
	ChainIDUpdated  bool        `json:"chain_id_updated"`
	ObservedChainID int64       `json:"observed_chain_id,omitempty"`
}

// RPCResult holds test results for a specific RPC URL.
type RPCResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	ChainID int64  `json:"chain_id,omitempty"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath      string      `json:"config_path"`
	ValidStructure  bool        `json:"valid_structure"`
	StructureErrors []string    `json:"structure_errors,omitempty"`
	Chain           ChainResult `json:"chain"`
	ConfigUpdated   bool        `json:"config_updated"`
	SaveError       string      `json:"save_error,omitempty"`
	DryRun          bool        `json:"dry_run"`
}

// Attribute is one entry of an NFT metadata "attributes" array. Value is
// whatever JSON type the metadata uses.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// TokenMetadata is the off-chain document behind tokenURI.
type TokenMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
}
