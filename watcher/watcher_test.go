package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/msg/memory"
	"github.com/tarancss/aptosweb3/lib/store"
)

const net = "devnet"

// memDB is an in memory store.
type memDB struct {
	l    sync.Mutex
	accs map[string]bool
	hold map[string]store.Holdings
}

func newMemDB(addrs ...string) *memDB {
	db := &memDB{accs: make(map[string]bool), hold: make(map[string]store.Holdings)}
	for _, a := range addrs {
		db.accs[a] = true
	}

	return db
}

func (m *memDB) AddAccount(a store.Account, _ string) ([]byte, error) {
	m.l.Lock()
	defer m.l.Unlock()

	m.accs[a.Addr] = true

	return []byte(a.Addr), nil
}

func (m *memDB) RemoveAccount(a store.Account, _ string) error {
	m.l.Lock()
	defer m.l.Unlock()

	if !m.accs[a.Addr] {
		return store.ErrAccountNotFound
	}

	delete(m.accs, a.Addr)

	return nil
}

func (m *memDB) GetAccounts([]string) ([]store.WatchedAccounts, error) {
	m.l.Lock()
	defer m.l.Unlock()

	wa := store.WatchedAccounts{Net: net}
	for a := range m.accs {
		wa.Accounts = append(wa.Accounts, store.Account{Addr: a})
	}

	return []store.WatchedAccounts{wa}, nil
}

func (m *memDB) LoadHoldings(string) ([]store.Holdings, error) {
	m.l.Lock()
	defer m.l.Unlock()

	if len(m.hold) == 0 {
		return nil, store.ErrDataNotFound
	}

	hs := make([]store.Holdings, 0, len(m.hold))
	for _, h := range m.hold {
		hs = append(hs, h)
	}

	return hs, nil
}

func (m *memDB) SaveHoldings(h store.Holdings) error {
	m.l.Lock()
	defer m.l.Unlock()

	m.hold[h.Address] = h

	return nil
}

func (m *memDB) DeleteHoldings(_, address string) error {
	m.l.Lock()
	defer m.l.Unlock()

	delete(m.hold, address)

	return nil
}

func (m *memDB) holdings(address string) (store.Holdings, bool) {
	m.l.Lock()
	defer m.l.Unlock()

	h, ok := m.hold[address]

	return h, ok
}

func (m *memDB) watched(address string) bool {
	m.l.Lock()
	defer m.l.Unlock()

	return m.accs[address]
}

// reader serves the tokens set for each address.
type reader struct {
	l      sync.Mutex
	tokens map[string][]types.TokenID
}

func (r *reader) set(address string, ids ...types.TokenID) {
	r.l.Lock()
	defer r.l.Unlock()

	r.tokens[address] = ids
}

func (r *reader) GetTokenIDs(_ context.Context, address string) ([]types.TokenID, error) {
	r.l.Lock()
	defer r.l.Unlock()

	ids, ok := r.tokens[address]
	if !ok {
		return nil, assert.AnError
	}

	return ids, nil
}

func tok(name string) types.TokenID {
	return types.TokenID{Creator: "0xc", Collection: "cats", Name: name}
}

// holdings consumes the holdings events sent by the watcher.
func holdings(t *testing.T, mb msg.MsgBroker) <-chan msg.HoldingsEvent {
	t.Helper()

	mut := new(sync.Mutex)
	mut.Lock()

	ch, _, err := mb.GetHoldings(net, mut)
	require.NoError(t, err)

	out := make(chan msg.HoldingsEvent, 16)

	go func() {
		for h := range ch {
			out <- h

			mut.Unlock()
		}
	}()

	return out
}

func next(t *testing.T, ch <-chan msg.HoldingsEvent) msg.HoldingsEvent {
	t.Helper()

	select {
	case h := <-ch:
		return h
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no holdings event")
	}

	return msg.HoldingsEvent{}
}

func TestWatch(t *testing.T) {
	db := newMemDB("0x1")
	mb := memory.New()
	r := &reader{tokens: map[string][]types.TokenID{"0x1": {tok("a")}}}

	w := New(db, mb, map[string]Network{net: {Reader: r, Poll: 5 * time.Millisecond}}, nil)
	events := holdings(t, mb)
	done := w.Watch()

	// first reconciliation is always reported
	h := next(t, events)
	assert.Equal(t, "0x1", h.Address)
	assert.Equal(t, []types.TokenID{tok("a")}, h.Tokens)
	assert.Equal(t, []types.TokenID{tok("a")}, h.Added)

	saved, ok := db.holdings("0x1")
	require.True(t, ok)
	assert.Equal(t, []types.TokenID{tok("a")}, saved.Tokens)

	// a change is reported with its differences
	r.set("0x1", tok("b"))

	h = next(t, events)
	assert.Equal(t, []types.TokenID{tok("b")}, h.Added)
	assert.Equal(t, []types.TokenID{tok("a")}, h.Removed)

	// watch a new account through the broker
	r.set("0x2")
	require.NoError(t, mb.SendRequest(net, msg.WatchReq{Net: net, Type: msg.ACCOUNT, Obj: "0x2", Act: msg.WATCH}))

	h = next(t, events)
	assert.Equal(t, "0x2", h.Address)
	assert.Empty(t, h.Tokens)
	assert.True(t, db.watched("0x2"))

	// and stop watching it
	require.NoError(t, mb.SendRequest(net, msg.WatchReq{Net: net, Type: msg.ACCOUNT, Obj: "0x2", Act: msg.UNWATCH}))
	assert.Eventually(t, func() bool {
		_, held := db.holdings("0x2")

		return !db.watched("0x2") && !held
	}, 2*time.Second, 5*time.Millisecond)

	w.StopWatcher()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	require.NoError(t, mb.Close())
}

func TestRestart(t *testing.T) {
	db := newMemDB("0x1")
	require.NoError(t, db.SaveHoldings(store.Holdings{Net: net, Address: "0x1", Tokens: []types.TokenID{tok("a")}}))

	mb := memory.New()
	r := &reader{tokens: map[string][]types.TokenID{"0x1": {tok("a")}}}

	w := New(db, mb, map[string]Network{net: {Reader: r, Poll: 5 * time.Millisecond}}, nil)
	events := holdings(t, mb)
	done := w.Watch()

	// unchanged holdings loaded from DB are not reported again
	select {
	case h := <-events:
		t.Fatalf("unexpected event %+v", h)
	case <-time.After(50 * time.Millisecond):
	}

	// an exit request stops the network
	require.NoError(t, mb.SendRequest(net, msg.WatchReq{Net: net, Type: msg.EXIT}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}

	w.StopWatcher()
	require.NoError(t, mb.Close())
}

func TestHandleRequestValidation(t *testing.T) {
	db := newMemDB()
	w := New(db, memory.New(), map[string]Network{net: {Reader: &reader{}, Poll: time.Hour}}, nil)

	for _, req := range []msg.WatchReq{
		{Net: "other", Type: msg.ACCOUNT, Obj: "0x1", Act: msg.WATCH},
		{Net: net, Type: 7, Obj: "0x1", Act: msg.WATCH},
		{Net: net, Type: msg.ACCOUNT, Act: msg.WATCH},
		{Net: net, Type: msg.ACCOUNT, Obj: "0x1", Act: 9},
	} {
		w.handleRequest(net, nil, req) // a nil tracker panics if the request is not rejected
	}

	assert.False(t, db.watched("0x1"))
}
