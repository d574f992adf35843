package rpc

import (
	"errors"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// jsonrpcRevertCode is the code geth-compatible nodes use for eth_call reverts.
const jsonrpcRevertCode = 3

var revertMessageTokens = []string{
	"execution reverted",
	"vm execution error",
	"invalid opcode",
}

// IsRevert reports whether err is the contract rejecting the call, as opposed
// to the node or the network failing.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == jsonrpcRevertCode {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), revertMessageTokens)
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
