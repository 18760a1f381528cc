// Package msg defines the interface for different message brokers.
//
// The wallet service sends watch requests to the watcher, which replies with holdings events whenever the tokens held
// by a watched account change. Wallet events (see package bridge) are relayed through the broker so that every
// wallet service instance mirrors them.
package msg

import (
	"encoding/json"
	"sync"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// Types of object for watch requests.
const (
	EXIT    = -1
	ACCOUNT = 0
)

// Actions to be applied to objects for watch requests.
const (
	WATCH   = 0
	UNWATCH = 1
)

// WatchReq defines the message that the wallet service publishes to the watcher to ask to watch an object.
type WatchReq struct {
	Net  string `json:"net"`
	Type int    `json:"type"` // type of object
	Obj  string `json:"obj"`
	Act  int    `json:"act"` // action to be applied
}

// HoldingsEvent is published by the watcher when the tokens held by a watched account change.
type HoldingsEvent struct {
	Net     string          `json:"net"`
	Address string          `json:"address"`
	Tokens  []types.TokenID `json:"tokens"`
	Added   []types.TokenID `json:"added,omitempty"`
	Removed []types.TokenID `json:"removed,omitempty"`
}

// WalletEvent is a wallet event relayed through the broker.
type WalletEvent struct {
	Net    string          `json:"net"`
	Name   string          `json:"name"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// MsgBroker is implemented by message brokers. Consumers push messages to the returned channel and wait for the
// given mutex to be unlocked before acknowledging them, so a message is only acknowledged once it has been dealt
// with.
type MsgBroker interface { //nolint:revive // stutters, kept for readability at call sites
	Setup(interface{}) error
	Close() error

	// methods for wallet service
	SendRequest(net string, r WatchReq) error
	GetHoldings(net string, mut *sync.Mutex) (<-chan HoldingsEvent, <-chan error, error)
	SendWalletEvent(net string, e WalletEvent) error
	GetWalletEvents(net string, mut *sync.Mutex) (<-chan WalletEvent, <-chan error, error)

	// methods for watcher service
	GetReqs(net string, mut *sync.Mutex) (<-chan WatchReq, <-chan error, error)
	SendHoldings(net string, hs []HoldingsEvent) error
}
