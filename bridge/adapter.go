package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// Handle is the minimum every wallet exposes.
type Handle interface {
	Connect(ctx context.Context) (types.Account, error)
	Disconnect(ctx context.Context) error
	Account(ctx context.Context) (types.Account, error)
}

// ConnectionChecker is implemented by wallets that answer whether they are connected with a query.
type ConnectionChecker interface {
	IsConnected(ctx context.Context) (bool, error)
}

// ConnectionFlag is implemented by wallets that expose their connection as a plain flag.
type ConnectionFlag interface {
	Connected() bool
}

// NetworkGetter is implemented by wallets that report the network they are on.
type NetworkGetter interface {
	Network(ctx context.Context) (string, error)
}

// BalanceGetter is implemented by wallets with a direct balance query.
type BalanceGetter interface {
	Balance(ctx context.Context) (string, error)
}

// ResourceLister is implemented by wallets that list the resources of an account.
type ResourceLister interface {
	AccountResources(ctx context.Context, address string) ([]types.AccountResource, error)
}

// LegacyBalancer is implemented by older wallets reporting the balance to a callback with an HTTP like status.
type LegacyBalancer interface {
	AccountBalance(cb func(status int, balance string))
}

// TransactionSigner is implemented by wallets able to sign and submit transactions.
type TransactionSigner interface {
	GenerateTransaction(ctx context.Context, payload types.TransactionPayload) (types.UserTransactionRequest, error)
	SignAndSubmitTransaction(ctx context.Context, txn types.UserTransactionRequest) (string, error)
}

// Balance strategies, in order of preference.
const (
	BalanceDirect    = "direct"
	BalanceResources = "resources"
	BalanceLegacy    = "legacy"
	BalanceNone      = "none"
)

// adapter fixes, once per handle, how the bridge talks to it.
type adapter struct {
	h Handle
	// probe reports whether the wallet is connected. async is false for flag shaped wallets, which are read on the
	// loop.
	probe    func(ctx context.Context) (bool, error)
	async    bool
	network  func(ctx context.Context) (string, error)
	balance  func(ctx context.Context, address string) (string, error)
	strategy string
	// byAddress is set when the balance depends on the account queried.
	byAddress bool
	signer    TransactionSigner
}

// newAdapter probes the capabilities of h.
func newAdapter(h Handle) *adapter {
	a := &adapter{h: h, strategy: BalanceNone}

	switch c := h.(type) {
	case ConnectionChecker:
		a.probe, a.async = c.IsConnected, true
	case ConnectionFlag:
		a.probe = func(context.Context) (bool, error) { return c.Connected(), nil }
	}

	if n, ok := h.(NetworkGetter); ok {
		a.network = n.Network
	}

	if s, ok := h.(TransactionSigner); ok {
		a.signer = s
	}

	switch b := h.(type) {
	case BalanceGetter:
		a.strategy = BalanceDirect
		a.balance = func(ctx context.Context, _ string) (string, error) {
			v, err := b.Balance(ctx)
			if err != nil {
				return "", err
			}

			return normalise(v)
		}
	case ResourceLister:
		a.strategy, a.byAddress = BalanceResources, true
		a.balance = func(ctx context.Context, address string) (string, error) {
			if address == "" {
				return "", errNoAccount
			}

			rs, err := b.AccountResources(ctx, address)
			if err != nil {
				return "", err
			}

			return coinValue(rs)
		}
	case LegacyBalancer:
		a.strategy = BalanceLegacy
		a.balance = func(ctx context.Context, _ string) (string, error) {
			return legacyBalance(ctx, b)
		}
	}

	return a
}

var errNoAccount = errors.New("no account to query the balance of")

// normalise validates a balance and returns its canonical form.
func normalise(v string) (string, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return "", fmt.Errorf("balance %q: %w", v, err)
	}

	return d.String(), nil
}

// coinValue returns the value of the test coin store in rs, or "0" when the account holds none.
func coinValue(rs []types.AccountResource) (string, error) {
	r, ok := types.Find(rs, types.CoinStoreType)
	if !ok {
		return "0", nil
	}

	var data struct {
		Coin *struct {
			Value json.Number `json:"value"`
		} `json:"coin"`
	}

	if err := json.Unmarshal(r.Data, &data); err != nil || data.Coin == nil {
		return "0", nil //nolint:nilerr // a store without coins holds nothing
	}

	return normalise(data.Coin.Value.String())
}

// legacyBalance waits for the callback of a legacy wallet. Only replies with status 200 carry a balance.
func legacyBalance(ctx context.Context, b LegacyBalancer) (string, error) {
	type reply struct {
		status  int
		balance string
	}

	ch := make(chan reply, 1)

	b.AccountBalance(func(status int, balance string) {
		select {
		case ch <- reply{status, balance}:
		default:
		}
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.status != http.StatusOK {
			return "", fmt.Errorf("legacy balance: status %d", r.status)
		}

		return normalise(r.balance)
	}
}
