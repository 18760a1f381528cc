// Package memory implements the message broker interface in process. It serves a wallet and a watcher running in
// the same binary, and tests.
package memory

import (
	"errors"
	"sync"

	"github.com/tarancss/aptosweb3/lib/msg"
)

// ErrClosed is returned once the broker is closed.
var ErrClosed = errors.New("broker is closed")

var _ msg.MsgBroker = (*Broker)(nil)

// Broker delivers messages to the consumers of each network. Messages sent before a consumer exists are queued.
type Broker struct {
	l      sync.Mutex
	closed bool
	reqs   map[string]*topic[msg.WatchReq]
	hold   map[string]*topic[msg.HoldingsEvent]
	wallet map[string]*topic[msg.WalletEvent]
}

// topic is an unbounded queue with at most one consumer per network, except wallet events which fan out.
type topic[T any] struct {
	l       sync.Mutex
	pending []T
	subs    []chan T
	fanout  bool
}

func (t *topic[T]) send(v T) {
	t.l.Lock()
	defer t.l.Unlock()

	if len(t.subs) == 0 {
		t.pending = append(t.pending, v)

		return
	}

	if !t.fanout {
		t.subs[0] <- v

		return
	}

	for _, s := range t.subs {
		s <- v
	}
}

// subscribe returns a buffered channel fed with the pending messages first.
func (t *topic[T]) subscribe() chan T {
	t.l.Lock()
	defer t.l.Unlock()

	ch := make(chan T, 1024)
	for _, v := range t.pending {
		ch <- v
	}

	t.pending = nil
	t.subs = append(t.subs, ch)

	return ch
}

func (t *topic[T]) close() {
	t.l.Lock()
	defer t.l.Unlock()

	for _, s := range t.subs {
		close(s)
	}

	t.subs = nil
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		reqs:   make(map[string]*topic[msg.WatchReq]),
		hold:   make(map[string]*topic[msg.HoldingsEvent]),
		wallet: make(map[string]*topic[msg.WalletEvent]),
	}
}

func get[T any](b *Broker, m map[string]*topic[T], net string, fanout bool) (*topic[T], error) {
	b.l.Lock()
	defer b.l.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	t, ok := m[net]
	if !ok {
		t = &topic[T]{fanout: fanout}
		m[net] = t
	}

	return t, nil
}

// consume forwards the messages of t to the returned channel waiting for mut to be unlocked after each of them.
func consume[T any](t *topic[T], mut *sync.Mutex) (<-chan T, <-chan error, error) {
	in := t.subscribe()
	out := make(chan T)
	errs := make(chan error)

	go func() {
		defer close(errs)
		defer close(out)

		for v := range in {
			out <- v

			mut.Lock() // wait for the consumer to finish processing the message
		}
	}()

	return out, errs, nil
}

// Setup does nothing, there is nothing to declare.
func (b *Broker) Setup(interface{}) error {
	return nil
}

// Close stops every consumer.
func (b *Broker) Close() error {
	b.l.Lock()
	b.closed = true
	b.l.Unlock()

	for _, t := range b.reqs {
		t.close()
	}

	for _, t := range b.hold {
		t.close()
	}

	for _, t := range b.wallet {
		t.close()
	}

	return nil
}

// SendRequest queues a watch request.
func (b *Broker) SendRequest(net string, r msg.WatchReq) error {
	t, err := get(b, b.reqs, net, false)
	if err != nil {
		return err
	}

	t.send(r)

	return nil
}

// GetReqs consumes the watch requests of net.
func (b *Broker) GetReqs(net string, mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	t, err := get(b, b.reqs, net, false)
	if err != nil {
		return nil, nil, err
	}

	return consume(t, mut)
}

// SendHoldings queues holdings events.
func (b *Broker) SendHoldings(net string, hs []msg.HoldingsEvent) error {
	t, err := get(b, b.hold, net, false)
	if err != nil {
		return err
	}

	for _, h := range hs {
		t.send(h)
	}

	return nil
}

// GetHoldings consumes the holdings events of net.
func (b *Broker) GetHoldings(net string, mut *sync.Mutex) (<-chan msg.HoldingsEvent, <-chan error, error) {
	t, err := get(b, b.hold, net, false)
	if err != nil {
		return nil, nil, err
	}

	return consume(t, mut)
}

// SendWalletEvent delivers a wallet event to every consumer of net.
func (b *Broker) SendWalletEvent(net string, e msg.WalletEvent) error {
	t, err := get(b, b.wallet, net, true)
	if err != nil {
		return err
	}

	t.send(e)

	return nil
}

// GetWalletEvents consumes the wallet events of net.
func (b *Broker) GetWalletEvents(net string, mut *sync.Mutex) (<-chan msg.WalletEvent, <-chan error, error) {
	t, err := get(b, b.wallet, net, true)
	if err != nil {
		return nil, nil, err
	}

	return consume(t, mut)
}
