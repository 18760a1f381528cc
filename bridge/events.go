package bridge

import (
	"sync"
)

// Events dispatched by wallets.
const (
	EventInitialized   = "aptos#initialized"
	EventConnected     = "aptos#connected"
	EventDisconnected  = "aptos#disconnected"
	EventChangeAccount = "aptos#changeAccount"
	EventChangeBalance = "aptos#changeBalance"
	EventChangeNetwork = "aptos#changeNetwork"
	EventTransaction   = "aptos#transaction"
)

// Events lists every event the bridge listens to.
var Events = []string{
	EventInitialized, EventConnected, EventDisconnected, EventChangeAccount, EventChangeBalance, EventChangeNetwork,
	EventTransaction,
}

// Event is a named event with an optional detail.
type Event struct {
	Name   string
	Detail interface{}
}

// TxDetail is the detail of an EventTransaction.
type TxDetail struct {
	ID string `json:"id"`
	Tx string `json:"tx"`
}

// Listener handles a dispatched event.
type Listener func(Event)

// ListenerID identifies a registered listener so it can be removed.
type ListenerID uint64

type entry struct {
	id ListenerID
	fn Listener
}

// Target is where wallets dispatch their events and where the bridge listens to them. The zero value is ready to use.
type Target struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[string][]entry
}

// NewTarget returns an empty event target.
func NewTarget() *Target {
	return &Target{}
}

// AddEventListener registers fn for events named name.
func (t *Target) AddEventListener(name string, fn Listener) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listeners == nil {
		t.listeners = make(map[string][]entry)
	}

	t.next++
	t.listeners[name] = append(t.listeners[name], entry{id: t.next, fn: fn})

	return t.next
}

// RemoveEventListener unregisters a listener of name. It returns false when it was not registered.
func (t *Target) RemoveEventListener(name string, id ListenerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	es := t.listeners[name]
	for i, e := range es {
		if e.id == id {
			t.listeners[name] = append(es[:i:i], es[i+1:]...)
			if len(t.listeners[name]) == 0 {
				delete(t.listeners, name)
			}

			return true
		}
	}

	return false
}

// ListenerCount returns the number of listeners of name, or of all events when name is empty.
func (t *Target) ListenerCount(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name != "" {
		return len(t.listeners[name])
	}

	n := 0
	for _, es := range t.listeners {
		n += len(es)
	}

	return n
}

// Dispatch calls the listeners of e in registration order on the calling goroutine.
func (t *Target) Dispatch(e Event) {
	t.mu.Lock()
	es := append([]entry(nil), t.listeners[e.Name]...)
	t.mu.Unlock()

	for _, l := range es {
		l.fn(e)
	}
}
