package provider

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Watch polls the endpoint for account and chain changes and publishes them
// to subscribers. A JSON-RPC endpoint has no push channel for these, so they
// are derived by diffing successive eth_accounts and eth_chainId results.
//
// When the endpoint stops answering, one disconnect event is published. On
// recovery the new state becomes the baseline without further events. Watch
// returns when ctx is done.
func (p *RPCProvider) Watch(ctx context.Context, interval time.Duration) error {
	w := &watcher{source: p, emit: func(ev Event) { p.feed.Send(ev) }, healthy: true}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "provider watcher started", "interval", interval)
	for {
		w.step(ctx)

		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "provider watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type stateSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type watcher struct {
	source stateSource
	emit   func(Event)

	baselined bool
	healthy   bool
	accounts  []common.Address
	chainID   *big.Int
}

func (w *watcher) step(ctx context.Context) {
	accounts, err := w.source.Accounts(ctx)
	if err != nil {
		w.fail(ctx, err)
		return
	}
	chainID, err := w.source.ChainID(ctx)
	if err != nil {
		w.fail(ctx, err)
		return
	}

	if !w.baselined || !w.healthy {
		w.baselined = true
		w.healthy = true
		w.accounts = accounts
		w.chainID = chainID
		return
	}

	if !sameAccounts(w.accounts, accounts) {
		w.emit(AccountsChanged(accounts...))
	}
	if w.chainID == nil || chainID.Cmp(w.chainID) != 0 {
		w.emit(ChainChanged(hexutil.EncodeBig(chainID)))
	}
	w.accounts = accounts
	w.chainID = chainID
}

func (w *watcher) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if w.baselined && w.healthy {
		w.emit(Disconnected(err))
	}
	w.healthy = false
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
