// Package localwallet is a wallet backed by a local account and a node client. It dispatches its events on a
// bridge.Target the way a browser wallet does on its page.
package localwallet

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/bridge"
	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/account"
	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// ErrNotConnected is returned by queries made before Connect.
var ErrNotConnected = errors.New("wallet is not connected")

// Node is the part of the node API used by the wallet. *aptos.Client implements it.
type Node interface {
	GetAccountResources(ctx context.Context, address string) ([]types.AccountResource, error)
	GenerateTransaction(ctx context.Context, sender string, payload types.TransactionPayload,
		opts ...aptos.TxOption) (types.UserTransactionRequest, error)
	SignTransaction(ctx context.Context, s aptos.Signer, txn types.UserTransactionRequest) (
		types.SubmitTransactionRequest, error)
	SubmitTransaction(ctx context.Context, signed types.SubmitTransactionRequest) (types.PendingTransaction, error)
}

// Wallet holds one local account on one network.
type Wallet struct {
	acc     *account.Local
	node    Node
	network string
	target  *bridge.Target

	mu        sync.Mutex
	connected bool
}

// New returns a disconnected wallet of acc on network.
func New(acc *account.Local, node Node, network string, target *bridge.Target) *Wallet {
	return &Wallet{acc: acc, node: node, network: network, target: target}
}

// Locator returns a bridge.Locator always finding w.
func (w *Wallet) Locator() bridge.Locator {
	return func() bridge.Handle { return w }
}

// Announce dispatches bridge.EventInitialized.
func (w *Wallet) Announce() {
	w.target.Dispatch(bridge.Event{Name: bridge.EventInitialized})
}

func (w *Wallet) setConnected(c bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	was := w.connected
	w.connected = c

	return was != c
}

// Connect connects the wallet and dispatches bridge.EventConnected.
func (w *Wallet) Connect(_ context.Context) (types.Account, error) {
	if w.setConnected(true) {
		log.WithField("address", w.acc.Address()).Info("local wallet connected")
		w.target.Dispatch(bridge.Event{Name: bridge.EventConnected, Detail: w.acc.Public()})
	}

	return w.acc.Public(), nil
}

// Disconnect disconnects the wallet and dispatches bridge.EventDisconnected.
func (w *Wallet) Disconnect(_ context.Context) error {
	if w.setConnected(false) {
		log.WithField("address", w.acc.Address()).Info("local wallet disconnected")
		w.target.Dispatch(bridge.Event{Name: bridge.EventDisconnected})
	}

	return nil
}

// IsConnected reports whether Connect was called.
func (w *Wallet) IsConnected(_ context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.connected, nil
}

// Account returns the account of a connected wallet.
func (w *Wallet) Account(ctx context.Context) (types.Account, error) {
	if ok, _ := w.IsConnected(ctx); !ok {
		return types.Account{}, ErrNotConnected
	}

	return w.acc.Public(), nil
}

// Network returns the name of the network of the wallet.
func (w *Wallet) Network(_ context.Context) (string, error) {
	return w.network, nil
}

// AccountResources lists the resources of address.
func (w *Wallet) AccountResources(ctx context.Context, address string) ([]types.AccountResource, error) {
	return w.node.GetAccountResources(ctx, address)
}

// GenerateTransaction builds a transaction with payload sent by the wallet account.
func (w *Wallet) GenerateTransaction(ctx context.Context, payload types.TransactionPayload) (
	types.UserTransactionRequest, error,
) {
	if ok, _ := w.IsConnected(ctx); !ok {
		return types.UserTransactionRequest{}, ErrNotConnected
	}

	return w.node.GenerateTransaction(ctx, w.acc.Address(), payload)
}

// SignAndSubmitTransaction signs and submits txn, then dispatches bridge.EventTransaction with its hash. It does not
// wait for the transaction to be committed.
func (w *Wallet) SignAndSubmitTransaction(ctx context.Context, txn types.UserTransactionRequest) (string, error) {
	if ok, _ := w.IsConnected(ctx); !ok {
		return "", ErrNotConnected
	}

	signed, err := w.node.SignTransaction(ctx, w.acc, txn)
	if err != nil {
		return "", err
	}

	pt, err := w.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", err
	}

	w.target.Dispatch(bridge.Event{
		Name:   bridge.EventTransaction,
		Detail: bridge.TxDetail{ID: uuid.NewString(), Tx: pt.Hash},
	})

	return pt.Hash, nil
}
