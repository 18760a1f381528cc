// Package watcher implements the holdings watcher microservice. The watcher periodically reconciles the tokens held
// by the watched accounts of each network and sends events when they change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/metrics"
	"github.com/tarancss/aptosweb3/lib/msg"
	"github.com/tarancss/aptosweb3/lib/store"
	"github.com/tarancss/aptosweb3/watcher/tracker"
)

// Reader returns the tokens held by an account. Implemented by token.Client.
type Reader interface {
	GetTokenIDs(ctx context.Context, address string) ([]types.TokenID, error)
}

// Network is a network the watcher reconciles.
type Network struct {
	Reader Reader
	Poll   time.Duration
}

// Watcher implements a watcher service.
type Watcher struct {
	db     store.DB
	mb     msg.MsgBroker
	nets   map[string]Network
	m      *metrics.Metrics
	ctx    context.Context
	cancel context.CancelFunc

	l   sync.Mutex // guards trk
	trk map[string]*tracker.Tracker
}

// New instantiates a new watcher service. m may be nil.
func New(db store.DB, mb msg.MsgBroker, nets map[string]Network, m *metrics.Metrics) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		db:     db,
		mb:     mb,
		nets:   nets,
		m:      m,
		ctx:    ctx,
		cancel: cancel,
		trk:    make(map[string]*tracker.Tracker),
	}
}

// tracker returns the tracker of net, nil when the network is not being watched.
func (w *Watcher) tracker(net string) *tracker.Tracker {
	w.l.Lock()
	defer w.l.Unlock()

	return w.trk[net]
}

// Watch starts a go routine for each network available. The watching of each network is controlled by a Tracker (see
// package watcher/tracker for details) holding the accounts being watched and their last known holdings. The watcher
// consumes wallet requests to watch new accounts. The returned channel receives a value once every network routine
// has returned.
func (w *Watcher) Watch() chan string {
	ret := make(chan string, 1)
	// channel to wait for network watchers
	c := make(chan string, len(w.nets))
	started := 0

	for net := range w.nets {
		// get watched accounts from DB
		accs, err := w.db.GetAccounts([]string{net})
		if err != nil {
			log.Printf("[%s] Cannot load watched accounts from DB, err:%v", net, err)

			continue
		}

		if len(accs) == 0 || len(accs[0].Accounts) == 0 {
			log.Printf("[%s] No watched accounts in DB.", net)
		}

		trk, err := tracker.New(net, accs, w.db)
		if err != nil {
			log.Printf("[%s] tracker.New failed:%v", net, err)

			continue
		}

		w.l.Lock()
		w.trk[net] = trk
		w.l.Unlock()
		// listen for wallet requests, pending requests in the broker queues are processed as soon as we start
		if err = w.ManageWatchRequests(net); err != nil {
			log.Printf("[%s] Cannot consume watch requests from broker, err:%v", net, err)

			continue
		}

		w.WatchNet(net, c)

		started++
	}
	// routine to wait for all networks to complete watching...
	go func() {
		for i := 1; i < started+1; i++ {
			log.Printf("Watch, channel %d/%d returned: %s", i, started, <-c)
		}
		ret <- "Done!"
	}()

	return ret
}

// StopWatcher will send termination signals to all network watcher go routines.
func (w *Watcher) StopWatcher() {
	w.l.Lock()
	for _, trk := range w.trk {
		trk.Stop()
	}
	w.l.Unlock()

	w.cancel()
}

// sleep waits for d or until the watcher is stopped.
func (w *Watcher) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-w.ctx.Done():
	}
}

// WatchNet starts a go routine reconciling the watched accounts of network 'net' every poll interval. When the
// routine ends it writes to 'ret' so the calling routine can control graceful termination.
func (w *Watcher) WatchNet(net string, ret chan string) {
	trk := w.tracker(net)
	n := w.nets[net]

	log.Printf("[%s] Watching %d accounts every %s...", net, len(trk.Addresses()), n.Poll)

	go func() {
		defer func() {
			ret <- "[" + net + "] Done!"
		}()

		for trk.Status() == tracker.WORK {
			w.reconcile(net, trk, n.Reader)

			w.sleep(n.Poll)
		}
	}()
}

// reconcile checks the holdings of every account watched on net, saves the changed ones to DB and sends the events.
func (w *Watcher) reconcile(net string, trk *tracker.Tracker, r Reader) {
	var hs []msg.HoldingsEvent

	for _, addr := range trk.Addresses() {
		if trk.Status() != tracker.WORK {
			return
		}

		ids, err := r.GetTokenIDs(w.ctx, addr)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[%s] Cannot get tokens of %s: %v", net, addr, err)
			}

			continue
		}

		added, removed, changed := trk.Update(addr, ids)
		if !changed {
			continue
		}

		// the account may have been unwatched since it was updated
		saved, err := trk.Save(addr, w.db.SaveHoldings)
		if !saved {
			continue
		}

		if err != nil {
			log.Printf("[%s] Error saving holdings of %s to DB, err:%v", net, addr, err)
		}

		hs = append(hs, msg.HoldingsEvent{Net: net, Address: addr, Tokens: ids, Added: added, Removed: removed})
	}

	accounts, tokens := trk.Counts()
	w.m.SetWatched(net, accounts, tokens)

	if len(hs) == 0 {
		return
	}

	w.m.ObserveHoldings(net, len(hs))

	err := w.mb.SendHoldings(net, hs)
	log.Printf("[%s] Sending %d holdings events err:%v", net, len(hs), err)
}

// ManageWatchRequests starts a go routine to receive and manage wallet requests for accounts to be watched on the
// network named 'net'.
func (w *Watcher) ManageWatchRequests(net string) error {
	mut := new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := w.mb.GetReqs(net, mut)
	if err != nil {
		return fmt.Errorf("watcher: cannot get requests: %w", err)
	}

	trk := w.tracker(net)

	// launch request channel reader
	go func() {
		log.Printf("[%s] Start listening to wallet request channel", net)

		for {
			select {
			case req, ok := <-reqCh:
				if !ok {
					log.Printf("[%s] Stop listening to wallet request channel", net)

					return
				}

				log.Printf("[%s] Received request %+v", net, req)

				w.handleRequest(net, trk, req)

				mut.Unlock()
			case e, ok := <-errCh:
				if !ok {
					return
				}

				log.Printf("[%s] Received error %+v", net, e)
			}
		}
	}()

	return nil
}

// handleRequest applies a watch request to the tracker and DB.
func (w *Watcher) handleRequest(net string, trk *tracker.Tracker, req msg.WatchReq) {
	// validate request
	if req.Net != net || (req.Type != msg.ACCOUNT && req.Type != msg.EXIT) ||
		(req.Type == msg.ACCOUNT && (len(req.Obj) == 0 || (req.Act != msg.WATCH && req.Act != msg.UNWATCH))) {
		log.Printf("[%s] Request has wrong net %s, wrong type %d, missing object %s or wrong action %d. Ignoring...",
			net, req.Net, req.Type, req.Obj, req.Act)

		return
	}

	if req.Type == msg.EXIT {
		log.Printf("[%s] Exit requested", net)
		trk.Stop()

		return
	}

	a := store.Account{Addr: req.Obj}

	if req.Act == msg.WATCH {
		// save it to DB
		if _, err := w.db.AddAccount(a, net); err != nil {
			log.Printf("[%s] Error adding watched account to DB %v", net, err)
		}
		// include it in the tracker
		if !trk.Add(req.Obj) {
			log.Printf("[%s] Account %s was already watched", net, req.Obj)
		}

		return
	}
	// delete from tracker
	if _, ok := trk.Del(req.Obj); !ok {
		log.Printf("[%s] Error deleting account %s from tracker. Not found. Ignoring...", net, req.Obj)
	}
	// delete from DB
	if err := w.db.RemoveAccount(a, net); err != nil {
		log.Printf("[%s] Error deleting watched account from DB %v", net, err)
	}

	if err := w.db.DeleteHoldings(net, req.Obj); err != nil {
		log.Printf("[%s] Error deleting holdings from DB %v", net, err)
	}
}
