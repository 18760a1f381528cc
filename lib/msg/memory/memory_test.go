package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/aptosweb3/lib/msg"
)

const net = "devnet"

func TestRequests(t *testing.T) {
	b := New()
	require.NoError(t, b.Setup(nil))

	// queued until a consumer exists
	require.NoError(t, b.SendRequest(net, msg.WatchReq{Net: net, Obj: "0x1", Act: msg.WATCH}))
	require.NoError(t, b.SendRequest(net, msg.WatchReq{Net: net, Obj: "0x2", Act: msg.UNWATCH}))

	mut := new(sync.Mutex)
	mut.Lock()

	reqs, errs, err := b.GetReqs(net, mut)
	require.NoError(t, err)

	r := <-reqs
	assert.Equal(t, "0x1", r.Obj)

	// the next request waits for the first one to be processed
	select {
	case r = <-reqs:
		t.Fatalf("unexpected request %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	mut.Unlock()

	r = <-reqs
	assert.Equal(t, "0x2", r.Obj)
	assert.Equal(t, msg.UNWATCH, r.Act)
	mut.Unlock()

	require.NoError(t, b.Close())

	_, ok := <-reqs
	assert.False(t, ok)

	_, ok = <-errs
	assert.False(t, ok)
	assert.ErrorIs(t, b.SendRequest(net, msg.WatchReq{}), ErrClosed)

	_, _, err = b.GetReqs(net, new(sync.Mutex))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHoldings(t *testing.T) {
	b := New()

	mut := new(sync.Mutex)
	mut.Lock()

	hold, _, err := b.GetHoldings(net, mut)
	require.NoError(t, err)

	require.NoError(t, b.SendHoldings(net, []msg.HoldingsEvent{{Net: net, Address: "0x1"}, {Net: net, Address: "0x2"}}))

	for _, addr := range []string{"0x1", "0x2"} {
		h := <-hold
		assert.Equal(t, addr, h.Address)
		mut.Unlock()
	}

	// other networks are kept apart
	require.NoError(t, b.SendHoldings("testnet", []msg.HoldingsEvent{{Net: "testnet"}}))

	select {
	case h := <-hold:
		t.Fatalf("unexpected holdings %+v", h)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, b.Close())
}

func TestWalletEventsFanOut(t *testing.T) {
	b := New()

	m1, m2 := new(sync.Mutex), new(sync.Mutex)
	m1.Lock()
	m2.Lock()

	c1, _, err := b.GetWalletEvents(net, m1)
	require.NoError(t, err)

	c2, _, err := b.GetWalletEvents(net, m2)
	require.NoError(t, err)

	require.NoError(t, b.SendWalletEvent(net, msg.WalletEvent{Net: net, Name: "changeNetwork"}))

	e := <-c1
	assert.Equal(t, "changeNetwork", e.Name)
	m1.Unlock()

	e = <-c2
	assert.Equal(t, "changeNetwork", e.Name)
	m2.Unlock()

	require.NoError(t, b.Close())
}
