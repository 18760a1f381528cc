// Package bridge mirrors the state of a wallet (connection, account, balance, network and the transactions it
// reports) into a State that consumers can read or subscribe to.
//
// Every change to the state goes through one ordered update channel consumed by Run: poll ticks, wallet events and
// the results of wallet queries. Queries run on their own goroutines and post their results back, so a slow wallet
// never blocks the loop. A failed query leaves the field it was filling unchanged.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/metrics"
)

// Default timings of the bridge.
const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultSettleDelay  = 200 * time.Millisecond
)

// Error codes.
var (
	ErrNoWallet    = errors.New("no wallet available")
	ErrUnsupported = errors.New("operation not supported by the wallet")
)

// TxRecord is a transaction reported by the wallet.
type TxRecord struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// State is the mirrored wallet state.
type State struct {
	Initialized bool          `json:"init"`
	Connected   bool          `json:"isConnected"`
	Account     types.Account `json:"account"`
	Balance     string        `json:"balance"`
	Network     string        `json:"network"`
	Txs         []TxRecord    `json:"txs"`
}

func (s State) clone() State {
	s.Txs = append([]TxRecord{}, s.Txs...)

	return s
}

// Locator returns the wallet currently available, or nil.
type Locator func() Handle

// Option configures a Bridge.
type Option func(*Bridge)

// WithPollInterval sets the interval of the poll loop.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.poll = d
	}
}

// WithSettleDelay sets how long to wait after a wallet connects before refreshing its state.
func WithSettleDelay(d time.Duration) Option {
	return func(b *Bridge) {
		b.settle = d
	}
}

// WithMetrics counts applied updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.m = m
	}
}

// update is a state transition applied on the loop.
type update struct {
	source string
	apply  func(ctx context.Context)
}

// Bridge keeps the state of one wallet.
type Bridge struct {
	locator Locator
	target  *Target
	poll    time.Duration
	settle  time.Duration
	m       *metrics.Metrics
	updates chan update

	// owned by the loop
	st       State
	inflight map[string]bool

	mu      sync.RWMutex // guards below
	a       *adapter
	snap    State
	subs    map[int]chan State
	nextSub int
}

// New returns a bridge to the wallet found by locator, listening to events on target. The wallet is looked up
// immediately and again whenever it dispatches EventInitialized or EventConnected.
func New(locator Locator, target *Target, opts ...Option) *Bridge {
	b := &Bridge{
		locator:  locator,
		target:   target,
		poll:     DefaultPollInterval,
		settle:   DefaultSettleDelay,
		updates:  make(chan update, 64),
		inflight: make(map[string]bool),
		subs:     make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.initWallet()
	b.publish()

	return b
}

// initWallet looks up the wallet and selects its adapter.
func (b *Bridge) initWallet() {
	h := b.locator()
	if h == nil {
		return
	}

	a := newAdapter(h)

	b.mu.Lock()
	b.a = a
	b.mu.Unlock()

	b.st.Initialized = true

	log.WithField("balance", a.strategy).Debug("bridge: wallet initialised")
}

func (b *Bridge) wallet() *adapter {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.a
}

// Connect asks the wallet to connect.
func (b *Bridge) Connect(ctx context.Context) (types.Account, error) {
	a := b.wallet()
	if a == nil {
		return types.Account{}, ErrNoWallet
	}

	return a.h.Connect(ctx)
}

// Disconnect asks the wallet to disconnect.
func (b *Bridge) Disconnect(ctx context.Context) error {
	a := b.wallet()
	if a == nil {
		return ErrNoWallet
	}

	return a.h.Disconnect(ctx)
}

// SignAndSubmit has the wallet build, sign and submit a transaction with payload and returns its hash.
func (b *Bridge) SignAndSubmit(ctx context.Context, payload types.TransactionPayload) (string, error) {
	a := b.wallet()
	if a == nil {
		return "", ErrNoWallet
	}

	if a.signer == nil {
		return "", ErrUnsupported
	}

	txn, err := a.signer.GenerateTransaction(ctx, payload)
	if err != nil {
		return "", err
	}

	return a.signer.SignAndSubmitTransaction(ctx, txn)
}

// Snapshot returns the current state.
func (b *Bridge) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.snap.clone()
}

// Subscribe returns a channel receiving the state after every change, starting with the current one. Slow
// subscribers only see the latest state. The returned func unsubscribes and closes the channel.
func (b *Bridge) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	ch <- b.snap.clone()
	b.mu.Unlock()

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// publish copies the loop state to the snapshot and subscribers.
func (b *Bridge) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snap = b.st.clone()

	for _, ch := range b.subs {
		s := b.st.clone()
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// post queues an update unless ctx is done.
func (b *Bridge) post(ctx context.Context, u update) {
	select {
	case b.updates <- u:
	case <-ctx.Done():
	}
}

// Run listens to wallet events and polls the wallet until ctx is done. Listeners registered on the target are
// removed before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	ids := make(map[string]ListenerID, len(Events))
	for _, name := range Events {
		name := name
		ids[name] = b.target.AddEventListener(name, func(e Event) {
			b.post(ctx, update{source: name, apply: func(ctx context.Context) { b.handleEvent(ctx, e) }})
		})
	}

	defer func() {
		for name, id := range ids {
			b.target.RemoveEventListener(name, id)
		}
	}()

	t := time.NewTimer(b.poll)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b.tick(ctx)
			b.applied("poll")
			t.Reset(b.poll)
		case u := <-b.updates:
			u.apply(ctx)
			b.applied(u.source)
		}
	}
}

func (b *Bridge) applied(source string) {
	b.m.ObserveBridge(source)
	b.publish()
}

// tick fills the missing fields of a connected wallet, or checks whether it got connected.
func (b *Bridge) tick(ctx context.Context) {
	a := b.wallet()
	if a == nil {
		b.initWallet()

		if a = b.wallet(); a == nil {
			return
		}
	}

	if b.st.Connected {
		if b.st.Account.Empty() {
			b.queryAccount(ctx, a)
		}

		if b.st.Network == "" {
			b.queryNetwork(ctx, a)
		}

		if b.st.Balance == "" {
			b.queryBalance(ctx, a)
		}

		return
	}

	if a.probe == nil {
		return
	}

	if !a.async {
		ok, _ := a.probe(ctx)
		b.setConnected(ctx, ok)

		return
	}

	query(ctx, b, "connected", a.probe, func(ctx context.Context, ok bool) { b.setConnected(ctx, ok) })
}

// setConnected records the connection and refreshes the wallet state once it settles.
func (b *Bridge) setConnected(ctx context.Context, ok bool) {
	was := b.st.Connected
	b.st.Connected = ok

	if ok && !was {
		b.settleRefresh(ctx)
	}
}

func (b *Bridge) settleRefresh(ctx context.Context) {
	time.AfterFunc(b.settle, func() {
		b.post(ctx, update{source: "settle", apply: func(ctx context.Context) {
			b.initWallet()

			if a := b.wallet(); a != nil {
				b.queryAccount(ctx, a)
				b.queryNetwork(ctx, a)
				b.queryBalance(ctx, a)
			}
		}})
	})
}

func (b *Bridge) handleEvent(ctx context.Context, e Event) {
	log.WithField("event", e.Name).Debug("bridge: event")

	switch e.Name {
	case EventInitialized:
		b.initWallet()
	case EventConnected:
		b.st.Connected = true
		b.settleRefresh(ctx)
	case EventDisconnected:
		b.st.Connected = false
		b.st.Account = types.Account{}
	case EventChangeAccount:
		if a := b.wallet(); a != nil {
			b.queryAccount(ctx, a)
		}
	case EventChangeBalance:
		if a := b.wallet(); a != nil {
			b.queryBalance(ctx, a)
		}
	case EventChangeNetwork:
		if a := b.wallet(); a != nil {
			b.queryNetwork(ctx, a)
		}
	case EventTransaction:
		switch d := e.Detail.(type) {
		case TxDetail:
			b.st.Txs = append(b.st.Txs, TxRecord{ID: d.ID, Hash: d.Tx})
		case *TxDetail:
			if d != nil {
				b.st.Txs = append(b.st.Txs, TxRecord{ID: d.ID, Hash: d.Tx})
			}
		}
	}
}

// queryAccount fetches the account, then its balance.
func (b *Bridge) queryAccount(ctx context.Context, a *adapter) {
	query(ctx, b, "account", a.h.Account, func(ctx context.Context, acc types.Account) {
		if acc.Address != b.st.Account.Address {
			b.st.Balance = ""
		}

		b.st.Account = acc
		b.queryBalance(ctx, a)
	})
}

func (b *Bridge) queryNetwork(ctx context.Context, a *adapter) {
	if a.network == nil {
		return
	}

	query(ctx, b, "network", a.network, func(_ context.Context, n string) { b.st.Network = n })
}

func (b *Bridge) queryBalance(ctx context.Context, a *adapter) {
	if a.balance == nil {
		return
	}

	address := b.st.Account.Address

	query(ctx, b, "balance", func(ctx context.Context) (string, error) { return a.balance(ctx, address) },
		func(_ context.Context, v string) {
			if !a.byAddress || address == b.st.Account.Address {
				b.st.Balance = v
			}
		})
}

// query runs fn off the loop and applies its result on the loop. Only one query of each kind is in flight.
func query[T any](ctx context.Context, b *Bridge, kind string, fn func(context.Context) (T, error),
	apply func(context.Context, T),
) {
	if b.inflight[kind] {
		return
	}

	b.inflight[kind] = true

	go func() {
		v, err := fn(ctx)

		b.post(ctx, update{source: kind, apply: func(ctx context.Context) {
			b.inflight[kind] = false

			if err != nil {
				log.WithError(err).WithField("query", kind).Debug("bridge: query failed")

				return
			}

			apply(ctx, v)
		}})
	}()
}
