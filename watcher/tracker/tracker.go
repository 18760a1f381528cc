// Package tracker keeps the state of the accounts watched on a network: the last set of tokens each of them was
// seen holding.
package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
	"github.com/tarancss/aptosweb3/lib/store"
)

// Status possible values, control whether a Tracker is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// entry is the last reconciled state of an account. known is false until the account has been reconciled once.
type entry struct {
	tokens []types.TokenID
	known  bool
}

// Tracker contains the watched accounts of a network.
type Tracker struct {
	l      sync.Mutex // guards everything below
	net    string
	status int
	m      map[string]entry
}

// New returns a Tracker for network net watching the accounts in accs. Holdings previously saved to db are loaded so
// unchanged accounts are not reported again after a restart.
func New(net string, accs []store.WatchedAccounts, db store.DB) (*Tracker, error) {
	t := &Tracker{net: net, status: WORK, m: make(map[string]entry)}

	for _, wa := range accs {
		if wa.Net != net {
			continue
		}

		for _, a := range wa.Accounts {
			t.m[a.Addr] = entry{}
		}
	}

	hs, err := db.LoadHoldings(net)
	if err != nil && !errors.Is(err, store.ErrDataNotFound) {
		return nil, err
	}

	for _, h := range hs {
		if _, ok := t.m[h.Address]; ok {
			t.m[h.Address] = entry{tokens: h.Tokens, known: true}
		}
	}

	log.Printf("[%s] tracker.New watching %d accounts, %d with holdings", net, len(t.m), len(hs))

	return t, nil
}

// Diff returns the tokens in next that are not in prev and the tokens in prev that are not in next, both in the
// order they appear in their slice.
func Diff(prev, next []types.TokenID) (added, removed []types.TokenID) {
	in := func(ids []types.TokenID) map[string]bool {
		s := make(map[string]bool, len(ids))
		for _, id := range ids {
			s[id.Key()] = true
		}

		return s
	}

	p, n := in(prev), in(next)

	for _, id := range next {
		if !p[id.Key()] {
			added = append(added, id)
		}
	}

	for _, id := range prev {
		if !n[id.Key()] {
			removed = append(removed, id)
		}
	}

	return added, removed
}

// Update records tokens as the set held by address. It returns the differences with the previous set and whether the
// holdings must be reported, which is the case when they changed or the account had never been reconciled. Untracked
// addresses are ignored.
func (t *Tracker) Update(address string, tokens []types.TokenID) (added, removed []types.TokenID, changed bool) {
	t.l.Lock()
	defer t.l.Unlock()

	e, ok := t.m[address]
	if !ok {
		return nil, nil, false
	}

	added, removed = Diff(e.tokens, tokens)
	changed = !e.known || len(added) > 0 || len(removed) > 0
	t.m[address] = entry{tokens: tokens, known: true}

	return added, removed, changed
}

// Save calls save with the holdings of address while the tracker is locked, so an account deleted meanwhile is never
// saved back. It returns false, without calling save, when address is not tracked.
func (t *Tracker) Save(address string, save func(store.Holdings) error) (bool, error) {
	t.l.Lock()
	defer t.l.Unlock()

	e, ok := t.m[address]
	if !ok {
		return false, nil
	}

	return true, save(store.Holdings{Net: t.net, Address: address, Tokens: e.tokens, Updated: time.Now().UTC()})
}

// Add starts watching address. It returns false if it was already watched.
func (t *Tracker) Add(address string) bool {
	t.l.Lock()
	defer t.l.Unlock()

	if _, ok := t.m[address]; ok {
		return false
	}

	t.m[address] = entry{}

	return true
}

// Del stops watching address returning the tokens it held and an ok flag.
func (t *Tracker) Del(address string) (tokens []types.TokenID, ok bool) {
	t.l.Lock()
	defer t.l.Unlock()

	e, ok := t.m[address]
	delete(t.m, address)

	return e.tokens, ok
}

// Addresses returns the watched addresses sorted.
func (t *Tracker) Addresses() []string {
	t.l.Lock()
	defer t.l.Unlock()

	as := make([]string, 0, len(t.m))
	for a := range t.m {
		as = append(as, a)
	}

	sort.Strings(as)

	return as
}

// Counts returns the number of watched accounts and the number of tokens they hold.
func (t *Tracker) Counts() (accounts, tokens int) {
	t.l.Lock()
	defer t.l.Unlock()

	for _, e := range t.m {
		tokens += len(e.tokens)
	}

	return len(t.m), tokens
}

// Stop sets status to STOP
func (t *Tracker) Stop() {
	t.l.Lock()
	t.status = STOP
	t.l.Unlock()
}

// Start sets status to WORK
func (t *Tracker) Start() {
	t.l.Lock()
	t.status = WORK
	t.l.Unlock()
}

// Status returns the current Tracker status
func (t *Tracker) Status() int {
	t.l.Lock()
	defer t.l.Unlock()

	return t.status
}
