package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"energon/pkg/config"
	"energon/pkg/models"

	"github.com/ethereum/go-ethereum/ethclient"
)

var ProbeTimeout = 10 * time.Second

// ProbeChain dials every RPC URL of chain and compares the chain ids they
// report. When the config has no chain id the first observed one is adopted
// and ChainIDUpdated is set; the caller decides whether to persist it.
func ProbeChain(ctx context.Context, chain *config.ChainConfig) models.ChainResult {
	result := models.ChainResult{
		Name:          chain.Name,
		Symbol:        chain.NativeCurrency.Symbol,
		ConfigChainID: chain.ChainID,
	}
	var observed *big.Int
	for _, url := range chain.RPCURLs {
		r := probeOne(ctx, url)
		if r.Status == "ok" {
			id := big.NewInt(r.ChainID)
			switch {
			case observed == nil:
				observed = id
				result.ObservedChainID = r.ChainID
			case observed.Cmp(id) != 0:
				result.Inconsistent = true
			}
			if chain.ChainID != 0 && chain.ChainID != r.ChainID {
				r.Error = fmt.Sprintf("Mismatch! Expected %d", chain.ChainID)
			}
		}
		result.RPCs = append(result.RPCs, r)
	}
	if chain.ChainID == 0 && observed != nil {
		chain.ChainID = observed.Int64()
		result.ChainIDUpdated = true
	}
	return result
}

func probeOne(parent context.Context, url string) models.RPCResult {
	r := models.RPCResult{URL: url}
	ctx, cancel := context.WithTimeout(parent, ProbeTimeout)
	defer cancel()

	start := time.Now()
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		r.Status = "error"
		r.Error = err.Error()
		return r
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		r.Status = "error"
		r.Error = fmt.Sprintf("Failed to get ChainID: %v", err)
		return r
	}
	r.Status = "ok"
	r.ChainID = id.Int64()
	r.Latency = time.Since(start).Round(time.Millisecond).String()
	return r
}
