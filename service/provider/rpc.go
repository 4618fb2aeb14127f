package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/counterwallet/service/errs"
	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	rpcMethodNotFound = -32601

	// maxReceiptErrors is how many consecutive receipt lookups may fail before
	// WaitForReceipt gives up. Not-found responses do not count.
	maxReceiptErrors = 5
)

// RPCProvider implements Provider against a wallet-capable JSON-RPC endpoint
// (a node with unlocked accounts, or a signer proxy). Signing stays with the
// endpoint; no keys are held here.
type RPCProvider struct {
	rpc *rpc.Client
	eth *ethclient.Client

	feed            event.Feed
	receiptInterval time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an RPCProvider.
type Option func(*RPCProvider)

// WithReceiptInterval sets how often WaitForReceipt polls for a receipt.
func WithReceiptInterval(d time.Duration) Option {
	return func(p *RPCProvider) { p.receiptInterval = d }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *RPCProvider) { p.metrics = m }
}

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, logger *slog.Logger, opts ...Option) (*RPCProvider, error) {
	if url == "" {
		return nil, errs.ErrProviderUnavailable
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrProviderUnavailable, err)
	}
	return NewRPCProvider(client, logger, opts...), nil
}

// NewRPCProvider wraps an existing rpc client.
func NewRPCProvider(client *rpc.Client, logger *slog.Logger, opts ...Option) *RPCProvider {
	p := &RPCProvider{
		rpc:             client,
		eth:             ethclient.NewClient(client),
		receiptInterval: time.Second,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close closes the underlying connection.
func (p *RPCProvider) Close() {
	p.rpc.Close()
}

// RequestAccounts implements Provider. Endpoints that do not know
// eth_requestAccounts are asked for eth_accounts instead.
func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	start := time.Now()
	var accounts []common.Address
	err := p.rpc.CallContext(ctx, &accounts, "eth_requestAccounts")
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcMethodNotFound {
		p.logger.DebugContext(ctx, "eth_requestAccounts unsupported, falling back to eth_accounts")
		err = p.rpc.CallContext(ctx, &accounts, "eth_accounts")
	}
	p.observe("eth_requestAccounts", start, err)
	if err != nil {
		return nil, p.translate(err)
	}
	return accounts, nil
}

// Accounts implements Provider.
func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	start := time.Now()
	var accounts []common.Address
	err := p.rpc.CallContext(ctx, &accounts, "eth_accounts")
	p.observe("eth_accounts", start, err)
	if err != nil {
		return nil, p.translate(err)
	}
	return accounts, nil
}

// ChainID implements Provider.
func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := p.eth.ChainID(ctx)
	p.observe("eth_chainId", start, err)
	if err != nil {
		return nil, p.translate(err)
	}
	return id, nil
}

// BalanceAt implements Provider.
func (p *RPCProvider) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	start := time.Now()
	balance, err := p.eth.BalanceAt(ctx, account, nil)
	p.observe("eth_getBalance", start, err)
	if err != nil {
		return nil, p.translate(err)
	}
	return balance, nil
}

// CallContract implements Provider.
func (p *RPCProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	start := time.Now()
	out, err := p.eth.CallContract(ctx, msg, nil)
	p.observe("eth_call", start, err)
	if err != nil {
		return nil, p.translate(err)
	}
	return out, nil
}

// SendTransaction implements Provider using eth_sendTransaction, so the
// endpoint fills in gas, nonce and signature.
func (p *RPCProvider) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	arg := map[string]interface{}{
		"from": msg.From,
		"data": hexutil.Bytes(msg.Data),
	}
	if msg.To != nil {
		arg["to"] = msg.To
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	if msg.Gas != 0 {
		arg["gas"] = hexutil.Uint64(msg.Gas)
	}

	start := time.Now()
	var hash common.Hash
	err := p.rpc.CallContext(ctx, &hash, "eth_sendTransaction", arg)
	p.observe("eth_sendTransaction", start, err)
	if err != nil {
		return common.Hash{}, p.translate(err)
	}

	p.logger.InfoContext(ctx, "transaction sent", "hash", hash.Hex(), "from", msg.From.Hex())
	return hash, nil
}

// WaitForReceipt implements Provider by polling eth_getTransactionReceipt.
// There is no internal deadline; the wait ends with the receipt, with ctx, or
// after repeated lookup failures.
func (p *RPCProvider) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(p.receiptInterval)
	defer ticker.Stop()

	failures := 0
	for {
		start := time.Now()
		receipt, err := p.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			p.observe("eth_getTransactionReceipt", start, nil)
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
			p.observe("eth_getTransactionReceipt", start, nil)
			failures = 0
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			p.observe("eth_getTransactionReceipt", start, err)
			failures++
			p.logger.WarnContext(ctx, "receipt lookup failed",
				"hash", hash.Hex(),
				"attempt", failures,
				"error", err,
			)
			if failures >= maxReceiptErrors {
				return nil, fmt.Errorf("failed to fetch receipt for %s: %w", hash.Hex(), p.translate(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeEvents implements Provider. Events are produced by Watch.
func (p *RPCProvider) SubscribeEvents(ch chan<- Event) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *RPCProvider) observe(method string, start time.Time, err error) {
	p.metrics.RecordProviderCall(method, time.Since(start).Seconds(), err)
}

// translate classifies JSON-RPC errors and marks transport failures as the
// provider being unavailable.
func (p *RPCProvider) translate(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return errs.FromRPC(err)
	}
	if code, _ := errs.Classify(err); code != "" {
		return errs.FromRPC(err)
	}
	return fmt.Errorf("%w: %v", errs.ErrProviderUnavailable, err)
}
