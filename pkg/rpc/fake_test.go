package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var errRevert = errors.New("execution reverted")

type methodFunc func(args []any) ([]any, error)

type contractFake struct {
	abi     abi.ABI
	methods map[string]methodFunc
}

// fakeNode is a JSON-RPC endpoint answering eth_call by decoding calldata
// against registered ABIs.
type fakeNode struct {
	t       *testing.T
	chainID int64

	mu        sync.Mutex
	contracts map[common.Address]*contractFake
	calls     map[string]int
	broken    bool
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	n := &fakeNode{
		t:         t,
		chainID:   14,
		contracts: make(map[common.Address]*contractFake),
		calls:     make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, srv
}

func (n *fakeNode) on(addr common.Address, contract abi.ABI, method string, fn methodFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[addr]
	if !ok {
		c = &contractFake{abi: contract, methods: make(map[string]methodFunc)}
		n.contracts[addr] = c
	}
	c.methods[method] = fn
}

func (n *fakeNode) ret(addr common.Address, contract abi.ABI, method string, values ...any) {
	n.on(addr, contract, method, func([]any) ([]any, error) { return values, nil })
}

func (n *fakeNode) setBroken(b bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken = b
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	broken := n.broken
	n.mu.Unlock()
	if broken {
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_chainId":
		resp["result"] = hexutil.EncodeBig(big.NewInt(n.chainID))
	case "eth_call":
		result, rpcErr := n.call(req.Params[0])
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) call(raw json.RawMessage) (string, map[string]any) {
	var msg struct {
		To    common.Address `json:"to"`
		Input hexutil.Bytes  `json:"input"`
		Data  hexutil.Bytes  `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", map[string]any{"code": -32602, "message": err.Error()}
	}
	data := msg.Input
	if len(data) == 0 {
		data = msg.Data
	}

	n.mu.Lock()
	c, ok := n.contracts[msg.To]
	n.mu.Unlock()
	if !ok || len(data) < 4 {
		return "0x", nil
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", map[string]any{"code": 3, "message": "execution reverted", "data": "0x"}
	}

	n.mu.Lock()
	n.calls[method.Name]++
	fn, ok := c.methods[method.Name]
	n.mu.Unlock()
	if !ok {
		return "", map[string]any{"code": 3, "message": "execution reverted", "data": "0x"}
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		n.t.Errorf("unpack %s: %v", method.Name, err)
		return "", map[string]any{"code": -32602, "message": err.Error()}
	}
	out, err := fn(args)
	if errors.Is(err, errRevert) {
		return "", map[string]any{"code": 3, "message": "execution reverted: " + strings.TrimSpace(err.Error()), "data": "0x08c379a0"}
	}
	if err != nil {
		return "", map[string]any{"code": -32000, "message": err.Error()}
	}
	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		n.t.Errorf("pack %s: %v", method.Name, err)
		return "", map[string]any{"code": -32603, "message": err.Error()}
	}
	return hexutil.Encode(packed), nil
}
