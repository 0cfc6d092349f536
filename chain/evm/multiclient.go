package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"

	"github.com/vestingops/allotctl/pkg/logger"
)

// Per endpoint defaults. Each call is attempted once per endpoint; failover to the next
// endpoint is what recovers from an unavailable node.
const (
	DefaultCallAttempts = 1
	DefaultCallDelay    = time.Second
	DefaultCallTimeout  = 10 * time.Second

	DefaultDialAttempts = 1
	DefaultDialDelay    = time.Second
	DefaultDialTimeout  = 10 * time.Second

	healthCheckTimeout = 2 * time.Second
)

// RetryConfig controls how often each RPC call and dial is attempted per endpoint.
type RetryConfig struct {
	Attempts     uint
	Delay        time.Duration
	Timeout      time.Duration
	DialAttempts uint
	DialDelay    time.Duration
	DialTimeout  time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     DefaultCallAttempts,
		Delay:        DefaultCallDelay,
		Timeout:      DefaultCallTimeout,
		DialAttempts: DefaultDialAttempts,
		DialDelay:    DefaultDialDelay,
		DialTimeout:  DefaultDialTimeout,
	}
}

// WithRetryConfig overrides the retry configuration of a MultiClient. Zero fields keep their
// defaults.
func WithRetryConfig(cfg RetryConfig) func(*MultiClient) {
	return func(mc *MultiClient) {
		def := &mc.retry
		if cfg.Attempts > 0 {
			def.Attempts = cfg.Attempts
		}
		if cfg.Delay > 0 {
			def.Delay = cfg.Delay
		}
		if cfg.Timeout > 0 {
			def.Timeout = cfg.Timeout
		}
		if cfg.DialAttempts > 0 {
			def.DialAttempts = cfg.DialAttempts
		}
		if cfg.DialDelay > 0 {
			def.DialDelay = cfg.DialDelay
		}
		if cfg.DialTimeout > 0 {
			def.DialTimeout = cfg.DialTimeout
		}
	}
}

var _ OnchainClient = (*MultiClient)(nil)

type endpoint struct {
	name   string
	client *ethclient.Client
}

// MultiClient is an OnchainClient over one or more endpoints of the same network, primary
// first. A call that fails on an endpoint is tried on the next one, and the endpoint that
// answered becomes the primary. Answers from the node itself (a revert, a missing receipt) are
// returned as they are.
type MultiClient struct {
	retry RetryConfig
	lggr  logger.Logger

	mu        sync.RWMutex
	endpoints []endpoint
}

// NewMultiClient dials every RPC and keeps the ones that answer eth_chainId with the chain id
// of the first healthy endpoint.
func NewMultiClient(lggr logger.Logger, rpcs []RPC, opts ...func(*MultiClient)) (*MultiClient, error) {
	if len(rpcs) == 0 {
		return nil, errors.New("no RPCs provided, need at least one")
	}

	mc := &MultiClient{
		retry: defaultRetryConfig(),
		lggr:  lggr.Named("MultiClient"),
	}
	for _, opt := range opts {
		opt(mc)
	}

	var chainID *big.Int
	for i, r := range rpcs {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rpc-%d", i)
		}

		client, err := mc.dial(r)
		if err != nil {
			mc.lggr.Warnw("Skipping RPC, dial failed", "rpc", r.Name, "err", err)
			continue
		}

		id, err := healthCheck(client)
		if err != nil {
			mc.lggr.Warnw("Skipping RPC, health check failed", "rpc", r.Name, "err", err)
			client.Close()

			continue
		}
		if chainID == nil {
			chainID = id
		} else if id.Cmp(chainID) != 0 {
			mc.lggr.Warnw("Skipping RPC, it serves another chain",
				"rpc", r.Name, "chainID", id.String(), "want", chainID.String(),
			)
			client.Close()

			continue
		}

		mc.endpoints = append(mc.endpoints, endpoint{name: r.Name, client: client})
	}

	if len(mc.endpoints) == 0 {
		return nil, errors.New("no valid RPC clients created")
	}

	return mc, nil
}

func (mc *MultiClient) dial(r RPC) (*ethclient.Client, error) {
	url, err := r.ToEndpoint()
	if err != nil {
		return nil, err
	}

	return retry.DoWithData(func() (*ethclient.Client, error) {
		ctx, cancel := context.WithTimeout(context.Background(), mc.retry.DialTimeout)
		defer cancel()

		return ethclient.DialContext(ctx, url)
	},
		retry.Attempts(mc.retry.DialAttempts),
		retry.Delay(mc.retry.DialDelay),
		retry.LastErrorOnly(true),
	)
}

func healthCheck(client *ethclient.Client) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}

	return id, nil
}

// Close closes every endpoint.
func (mc *MultiClient) Close() {
	for _, ep := range mc.snapshot() {
		ep.client.Close()
	}
}

func (mc *MultiClient) ChainID(ctx context.Context) (*big.Int, error) {
	return do(ctx, mc, "eth_chainId", func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.ChainID(ctx)
	})
}

func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return do(ctx, mc, "eth_call", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, block)
	})
}

func (mc *MultiClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return do(ctx, mc, "eth_estimateGas", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
}

func (mc *MultiClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return do(ctx, mc, "eth_gasPrice", func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

func (mc *MultiClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return do(ctx, mc, "eth_getTransactionCount", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.PendingNonceAt(ctx, account)
	})
}

// SendTransaction submits tx. Resubmitting the same signed transaction to a backup cannot
// create a second transaction.
func (mc *MultiClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := do(ctx, mc, "eth_sendRawTransaction", func(ctx context.Context, c *ethclient.Client) (struct{}, error) {
		return struct{}{}, c.SendTransaction(ctx, tx)
	})

	return err
}

func (mc *MultiClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return do(ctx, mc, "eth_getTransactionReceipt", func(ctx context.Context, c *ethclient.Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

// do runs call against each endpoint in turn until one answers.
func do[T any](
	ctx context.Context, mc *MultiClient, op string, call func(context.Context, *ethclient.Client) (T, error),
) (T, error) {
	var (
		zero    T
		errs    []error
		traceID = uuid.NewString()
	)

	endpoints := mc.snapshot()
	for i, ep := range endpoints {
		v, err := retry.DoWithData(func() (T, error) {
			callCtx, cancel := withDefaultTimeout(ctx, mc.retry.Timeout)
			defer cancel()

			v, err := call(callCtx, ep.client)
			if err != nil && isNodeAnswer(err) {
				return v, retry.Unrecoverable(err)
			}

			return v, err
		},
			retry.Context(ctx),
			retry.Attempts(mc.retry.Attempts),
			retry.Delay(mc.retry.Delay),
			retry.LastErrorOnly(true),
		)
		if err == nil {
			if i > 0 {
				mc.lggr.Infow("Backup RPC answered, promoting it", "trace", traceID, "op", op, "rpc", ep.name)
				mc.promote(ep)
			}

			return v, nil
		}
		if isNodeAnswer(err) || ctx.Err() != nil {
			return zero, err
		}

		mc.lggr.Debugw("RPC call failed", "trace", traceID, "op", op, "rpc", ep.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", ep.name, err))
	}

	if len(errs) == 1 {
		return zero, errs[0]
	}

	return zero, fmt.Errorf("%s failed on all %d endpoints: %w", op, len(errs), errors.Join(errs...))
}

// isNodeAnswer reports whether err is a definite answer of the node, which another endpoint of
// the same network would repeat.
func isNodeAnswer(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	data, derr := ErrorData(err)

	return derr == nil && data != ""
}

// withDefaultTimeout keeps the parent's deadline when it has one, otherwise it applies timeout.
func withDefaultTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok || timeout <= 0 {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}

// promote moves ep to the front. The endpoints it replaced keep their relative order behind it.
func (mc *MultiClient) promote(ep endpoint) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	reordered := []endpoint{ep}
	for _, e := range mc.endpoints {
		if e.client != ep.client {
			reordered = append(reordered, e)
		}
	}
	mc.endpoints = reordered
}

func (mc *MultiClient) snapshot() []endpoint {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return append([]endpoint(nil), mc.endpoints...)
}
