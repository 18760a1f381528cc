// Package wallet implements the wallet microservice.
//
// This microservice implements a RESTful API for clients to query and transfer Aptos NFT tokens on several networks,
// ask the watcher service to watch accounts, and follow the state of the wallet bridge.
package wallet

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tarancss/hd"

	"github.com/tarancss/aptosweb3/bridge"
	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/metrics"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/store"
	"github.com/tarancss/aptosweb3/lib/store/db"
	"github.com/tarancss/aptosweb3/token"
)

// Node is the part of the node API used by the wallet service. *aptos.Client implements it.
type Node interface {
	token.Node
	TableItem(ctx context.Context, handle, keyType, valueType string, key interface{}) (json.RawMessage, error)
	GetLedgerInfo(ctx context.Context) (types.LedgerInfo, error)
	NodeURL() string
}

var _ Node = (*aptos.Client)(nil)

// Network is a network served by the wallet. TxOptions are applied to every token transaction after MaxGas and
// Faucet is only reported to clients.
type Network struct {
	Node      Node
	MaxGas    uint64
	TxOptions []aptos.TxOption
	Faucet    string
}

// network holds the clients of a network.
type network struct {
	node   Node
	tokens *token.Client
	faucet string
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithBridge serves the state of b on the API. Wallet events received from the broker for network net are
// dispatched onto target.
func WithBridge(b *bridge.Bridge, target *bridge.Target, net string) Option {
	return func(w *Wallet) {
		w.br, w.target, w.brNet = b, target, net
	}
}

// WithMetrics records API metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Wallet) {
		w.m = m
	}
}

// Wallet contains the data necessary to deliver the service
type Wallet struct {
	db    store.DB // db connection
	nets  map[string]network
	hd    *hd.HdWallet // HD wallet
	mb    msg.MsgBroker
	m     *metrics.Metrics
	sc    chan struct{} // http server channel used for graceful shutdowns
	srv   servers
	br    *bridge.Bridge
	brNet string

	target *bridge.Target

	l    sync.RWMutex                            // guards hold
	hold map[string]map[string]msg.HoldingsEvent // last holdings event per network and address
}

// New returns a pointer to a new Wallet service
func New(dbConn store.DB, mb msg.MsgBroker, nets map[string]Network, hdw *hd.HdWallet, opts ...Option) *Wallet {
	w := &Wallet{
		db:   dbConn,
		mb:   mb,
		nets: make(map[string]network, len(nets)),
		hd:   hdw,
		sc:   make(chan struct{}),
		hold: make(map[string]map[string]msg.HoldingsEvent),
	}

	for name, n := range nets {
		w.nets[name] = network{node: n.Node, tokens: token.New(n.Node, n.MaxGas, n.TxOptions...), faucet: n.Faucet}
	}

	for _, o := range opts {
		o(w)
	}

	return w
}

// StopWallet shuts down the http servers implementing the RESTful API and closes gracefully the connections to
// message broker and database.
func (w *Wallet) StopWallet() {
	w.srv.shutdown()

	close(w.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if err := w.mb.Close(); err != nil {
		log.Printf("Error closing message broker:%v", err)
	}
	// close database
	if w.db != nil {
		err := db.Close(w.db)
		log.Printf("Disconnecting database, err:%v", err)
	}
}

// Holdings returns the last holdings event received for address on net.
func (w *Wallet) Holdings(net, address string) (msg.HoldingsEvent, bool) {
	w.l.RLock()
	defer w.l.RUnlock()

	h, ok := w.hold[net][address]

	return h, ok
}

// ManageEvents starts go routines to consume the message broker queues for the holdings events sent by the watcher
// service and the wallet events relayed by wallet services. Holdings events are kept so the API can serve them, wallet
// events for the bridge network are dispatched onto the bridge target.
func (w *Wallet) ManageEvents() error {
	for net := range w.nets {
		hmut := new(sync.Mutex)
		hmut.Lock()

		holdCh, holdErr, err := w.mb.GetHoldings(net, hmut)
		if err != nil {
			return err
		}

		wmut := new(sync.Mutex)
		wmut.Lock()

		eveCh, eveErr, err := w.mb.GetWalletEvents(net, wmut)
		if err != nil {
			return err
		}

		// launch holdings channel reader
		go func(netName string) {
			log.Printf("[%s] Start listening to holdings event channel", netName)

			for h := range holdCh {
				log.Printf("[%s] Received holdings of %s: %d tokens", netName, h.Address, len(h.Tokens))
				w.setHoldings(netName, h)
				hmut.Unlock()
			}

			log.Printf("[%s] Stop listening to holdings event channel", netName)
		}(net)

		// launch wallet event channel reader
		go func(netName string) {
			log.Printf("[%s] Start listening to wallet event channel", netName)

			for e := range eveCh {
				w.relay(netName, e)
				wmut.Unlock()
			}

			log.Printf("[%s] Stop listening to wallet event channel", netName)
		}(net)

		// launch error channel readers
		for _, errCh := range []<-chan error{holdErr, eveErr} {
			go func(netName string, errCh <-chan error) {
				for e := range errCh {
					log.Printf("[%s] Received error %+v", netName, e)
				}
			}(net, errCh)
		}
	}

	return nil
}

func (w *Wallet) setHoldings(net string, h msg.HoldingsEvent) {
	w.l.Lock()
	defer w.l.Unlock()

	if w.hold[net] == nil {
		w.hold[net] = make(map[string]msg.HoldingsEvent)
	}

	w.hold[net][h.Address] = h
}

// relay dispatches a wallet event received from the broker onto the bridge target. Only transaction and change
// notifications are relayed, connection events belong to the wallet that produced them.
func (w *Wallet) relay(net string, e msg.WalletEvent) {
	log.Printf("[%s] Received wallet event %s", net, e.Name)

	if w.target == nil || net != w.brNet {
		return
	}

	switch e.Name {
	case bridge.EventTransaction:
		var d bridge.TxDetail
		if err := json.Unmarshal(e.Detail, &d); err != nil {
			log.Printf("[%s] Bad transaction event detail %s: %v", net, e.Detail, err)

			return
		}

		w.target.Dispatch(bridge.Event{Name: e.Name, Detail: d})
	case bridge.EventChangeAccount, bridge.EventChangeBalance, bridge.EventChangeNetwork:
		w.target.Dispatch(bridge.Event{Name: e.Name, Detail: e.Detail})
	}
}

// publishTx relays a transaction committed by the wallet to every wallet service.
func (w *Wallet) publishTx(net, id, hash string) {
	detail, _ := json.Marshal(bridge.TxDetail{ID: id, Tx: hash})

	e := msg.WalletEvent{Net: net, Name: bridge.EventTransaction, Detail: detail}
	if err := w.mb.SendWalletEvent(net, e); err != nil {
		log.Printf("[%s] Error publishing transaction %s: %v", net, hash, err)
	}
}
