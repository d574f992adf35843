package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"energon/pkg/config"
	"energon/pkg/guard"
	"energon/pkg/models"
	"energon/pkg/rpc"
	"energon/pkg/store"
	"energon/pkg/wallet"
	"energon/pkg/watcher"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

var (
	controller = common.HexToAddress("0x3333333333333333333333333333333333333333")
	txHash     = common.HexToHash("0x01")
)

type fakeReader struct {
	height int64
	secs   int64
}

func (f fakeReader) ReadProtocol(_ context.Context, snap *models.ChainSnapshot) {
	c := controller
	snap.Controller = &c
	snap.EnergonHeight = big.NewInt(f.height)
	snap.SecondsUntilNext = big.NewInt(f.secs)
}

type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Address() common.Address { return common.Address{} }

func (m *MockSigner) Send(ctx context.Context, req wallet.TxRequest) (common.Hash, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockSigner) WaitConfirmed(ctx context.Context, hash common.Hash) (models.TxOutcome, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(models.TxOutcome), args.Error(1)
}

func newWatcher() *watcher.Watcher {
	return watcher.NewWatcher(config.Default(), watcher.Options{})
}

func newCron(reader ProtocolReader, signer wallet.Signer) *CronTicker {
	g := guard.New(store.NewMemory(nil), CronGuardConfig(guard.ConfigFrom(config.Default().Guard)), nil, nil)
	return NewCronTicker(secret, reader, g, signer, nil)
}

func cronRequest(t *testing.T, s *Server, header string) (*httptest.ResponseRecorder, cronResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/cron/tick", nil)
	if header != "" {
		req.Header.Set(SecretHeader, header)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	var resp cronResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return rr, resp
}

func TestHandleStatus(t *testing.T) {
	s := NewServer(newWatcher(), nil, nil)

	req, _ := http.NewRequest("GET", "/api/status", nil)
	rr := httptest.NewRecorder()

	s.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Contains(t, resp, "view")
	assert.Contains(t, resp, "plasma")
	view := resp["view"].(map[string]interface{})
	assert.Equal(t, "DISCONNECTED", view["mode"])
}

func TestHandleWS(t *testing.T) {
	s := NewServer(newWatcher(), nil, nil)
	server := httptest.NewServer(s.mux)
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	assert.NoError(t, err)
	defer func() { _ = ws.Close() }()

	// Read initial state
	var msg map[string]interface{}
	err = ws.ReadJSON(&msg)
	assert.NoError(t, err)
	assert.Equal(t, "initial", msg["type"])
	assert.Contains(t, msg["data"], "view")
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(newWatcher(), nil, nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "energon_watcher_poll_duration_seconds")
}

func TestCron_NotConfigured(t *testing.T) {
	assert.Nil(t, NewCronTicker("", fakeReader{}, nil, nil, nil))
	s := NewServer(newWatcher(), nil, nil)
	rr, resp := cronRequest(t, s, secret)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.False(t, resp.OK)
}

func TestCron_Table(t *testing.T) {
	tests := []struct {
		name   string
		header string
		reader fakeReader
		setup  func(*MockSigner)
		code   int
		check  func(*testing.T, cronResponse)
	}{
		{
			name:   "Missing secret",
			reader: fakeReader{height: 5},
			code:   http.StatusUnauthorized,
		},
		{
			name:   "Wrong secret",
			header: "nope",
			reader: fakeReader{height: 5},
			code:   http.StatusUnauthorized,
		},
		{
			name:   "Not due",
			header: secret,
			reader: fakeReader{height: 5, secs: 30},
			code:   http.StatusConflict,
			check: func(t *testing.T, r cronResponse) {
				assert.Equal(t, string(guard.ReasonNotDue), r.Reason)
				assert.Equal(t, "5", r.EnergonHeight)
			},
		},
		{
			name:   "Confirmed",
			header: secret,
			reader: fakeReader{height: 5},
			setup: func(m *MockSigner) {
				m.On("Send", mock.Anything, wallet.TxRequest{To: controller, Data: rpc.TickCalldata()}).Return(txHash, nil).Once()
				m.On("WaitConfirmed", mock.Anything, txHash).Return(models.TxOutcome{Hash: txHash, BlockNumber: 321}, nil).Once()
			},
			code: http.StatusOK,
			check: func(t *testing.T, r cronResponse) {
				assert.True(t, r.OK)
				assert.Equal(t, txHash.Hex(), r.Tx)
				assert.Equal(t, uint64(321), r.BlockNumber)
				assert.Equal(t, "5", r.EnergonHeight)
			},
		},
		{
			name:   "Send fails",
			header: secret,
			reader: fakeReader{height: 5},
			setup: func(m *MockSigner) {
				m.On("Send", mock.Anything, mock.Anything).
					Return(common.Hash{}, fmt.Errorf("%w: insufficient funds", models.ErrTransactionFailure)).Once()
			},
			code: http.StatusBadGateway,
			check: func(t *testing.T, r cronResponse) {
				assert.False(t, r.OK)
				assert.Contains(t, r.Error, "insufficient funds")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			signer := &MockSigner{}
			if tt.setup != nil {
				tt.setup(signer)
			}
			s := NewServer(newWatcher(), newCron(tt.reader, signer), nil)
			rr, resp := cronRequest(t, s, tt.header)
			assert.Equal(t, tt.code, rr.Code)
			if tt.check != nil {
				tt.check(t, resp)
			}
			signer.AssertExpectations(t)
		})
	}
}

func TestCron_IdempotentPerHeight(t *testing.T) {
	signer := &MockSigner{}
	signer.On("Send", mock.Anything, mock.Anything).Return(txHash, nil).Once()
	signer.On("WaitConfirmed", mock.Anything, txHash).Return(models.TxOutcome{Hash: txHash, BlockNumber: 1}, nil).Once()
	s := NewServer(newWatcher(), newCron(fakeReader{height: 8}, signer), nil)

	rr, _ := cronRequest(t, s, secret)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, resp := cronRequest(t, s, secret)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(guard.ReasonAlreadyTicked), resp.Reason)
	signer.AssertExpectations(t)
}

func TestCron_MethodNotAllowed(t *testing.T) {
	s := NewServer(newWatcher(), newCron(fakeReader{}, &MockSigner{}), nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/cron/tick", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
