package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Pool owns the read-only RPC endpoints. One endpoint is sticky: it is dialed
// lazily on first use and kept until FailoverAfter consecutive transport
// failures, at which point the next endpoint in the list takes over.
type Pool struct {
	urls          []string
	limiter       *rate.Limiter
	failoverAfter int
	logger        *slog.Logger

	mu       sync.Mutex
	current  int
	client   *ethclient.Client
	failures int
}

// PoolOptions configures a Pool. Zero values disable rate limiting and failover.
type PoolOptions struct {
	RateLimit     float64
	Burst         int
	FailoverAfter int
	Logger        *slog.Logger
}

func NewPool(urls []string, opts PoolOptions) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		urls:          append([]string(nil), urls...),
		limiter:       limiter,
		failoverAfter: opts.FailoverAfter,
		logger:        logger,
	}, nil
}

// URLs returns the configured endpoints in order.
func (p *Pool) URLs() []string {
	return append([]string(nil), p.urls...)
}

// Current returns the URL of the sticky endpoint.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.current]
}

// Dial opens a new client against the endpoint at index i. The caller owns
// the returned client.
func (p *Pool) Dial(ctx context.Context, i int) (*ethclient.Client, error) {
	if i < 0 || i >= len(p.urls) {
		return nil, fmt.Errorf("endpoint index %d out of range", i)
	}
	client, err := ethclient.DialContext(ctx, p.urls[i])
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.urls[i], err)
	}
	return client, nil
}

func (p *Pool) sticky(ctx context.Context) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := ethclient.DialContext(ctx, p.urls[p.current])
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.urls[p.current], err)
	}
	p.client = client
	return client, nil
}

// Rotate drops the sticky client and moves to the next endpoint.
func (p *Pool) Rotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateLocked()
}

func (p *Pool) rotateLocked() {
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	from := p.urls[p.current]
	p.current = (p.current + 1) % len(p.urls)
	p.failures = 0
	p.logger.Warn("rotating rpc endpoint", "from", from, "to", p.urls[p.current])
}

func (p *Pool) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil || IsRevert(err) {
		p.failures = 0
		return
	}
	p.failures++
	if p.failoverAfter > 0 && p.failures >= p.failoverAfter && len(p.urls) > 1 {
		p.rotateLocked()
	}
}

// CallContract implements ethereum.ContractCaller against the sticky endpoint.
func (p *Pool) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	client, err := p.sticky(ctx)
	if err != nil {
		p.record(err)
		return nil, err
	}
	out, err := client.CallContract(ctx, msg, block)
	p.record(err)
	return out, err
}

// ChainID asks the sticky endpoint for its chain id.
func (p *Pool) ChainID(ctx context.Context) (*big.Int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	client, err := p.sticky(ctx)
	if err != nil {
		p.record(err)
		return nil, err
	}
	id, err := client.ChainID(ctx)
	p.record(err)
	return id, err
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}
