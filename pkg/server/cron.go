package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"energon/pkg/guard"
	"energon/pkg/metrics"
	"energon/pkg/models"
	"energon/pkg/rpc"
	"energon/pkg/wallet"
)

// SecretHeader carries the shared secret on cron requests.
const SecretHeader = "X-Cron-Secret"

const cronTimeout = 2 * time.Minute

// ProtocolReader reads the protocol-level fields of a snapshot.
type ProtocolReader interface {
	ReadProtocol(ctx context.Context, snap *models.ChainSnapshot)
}

// CronTicker signs tickEnergon with a server-held key when called by an
// external scheduler.
type CronTicker struct {
	secret string
	reader ProtocolReader
	guard  *guard.TickGuard
	signer wallet.Signer
	clock  func() time.Time
	logger *slog.Logger
}

// NewCronTicker returns nil when the secret or the signer is missing.
func NewCronTicker(secret string, reader ProtocolReader, g *guard.TickGuard, signer wallet.Signer, logger *slog.Logger) *CronTicker {
	if secret == "" || signer == nil || reader == nil || g == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronTicker{secret: secret, reader: reader, guard: g, signer: signer, clock: time.Now, logger: logger}
}

// CronGuardConfig is the guard used server-side: a single execution context,
// so no shared lock.
func CronGuardConfig(c guard.Config) guard.Config {
	c.UseSharedLock = false
	return c
}

type cronResponse struct {
	OK            bool   `json:"ok"`
	Tx            string `json:"tx,omitempty"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
	EnergonHeight string `json:"energonHeight,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body cronResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (c *CronTicker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c == nil {
		writeJSON(w, http.StatusServiceUnavailable, cronResponse{Error: "cron tick not configured"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, cronResponse{Error: "method not allowed"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(c.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, cronResponse{Error: "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cronTimeout)
	defer cancel()

	snap := models.NewSnapshot(c.clock())
	c.reader.ReadProtocol(ctx, snap)
	op := guard.OpportunityFrom(snap)
	if snap.Controller == nil {
		writeJSON(w, http.StatusBadGateway, cronResponse{Error: "controller unknown"})
		return
	}
	controller := *snap.Controller

	outcome, d, err := c.guard.TryTick(ctx, op, func(ctx context.Context) (models.TxOutcome, error) {
		hash, err := c.signer.Send(ctx, wallet.TxRequest{To: controller, Data: rpc.TickCalldata()})
		if err != nil {
			return models.TxOutcome{}, err
		}
		c.logger.Info("cron tick submitted", "tx", hash.Hex(), "height", op.Height)
		return c.signer.WaitConfirmed(ctx, hash)
	})
	resp := cronResponse{}
	if op.Height != nil {
		resp.EnergonHeight = op.Height.String()
	}
	switch {
	case !d.Eligible:
		metrics.TickAttempts.WithLabelValues("cron", "rejected").Inc()
		resp.Reason = string(d.Reason)
		resp.Error = d.Status()
		writeJSON(w, http.StatusConflict, resp)
	case err != nil:
		metrics.TickAttempts.WithLabelValues("cron", "failed").Inc()
		c.logger.Warn("cron tick failed", "height", op.Height, "error", err)
		resp.Error = models.Status(err)
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		metrics.TickAttempts.WithLabelValues("cron", "confirmed").Inc()
		resp.OK = true
		resp.Tx = outcome.Hash.Hex()
		resp.BlockNumber = outcome.BlockNumber
		writeJSON(w, http.StatusOK, resp)
	}
}
