package store

import (
	"time"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// Account contains the fields of a watched account saved to DB.
type Account struct {
	ID   []byte `json:"id"`
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// WatchedAccounts contains the accounts watched on a network.
type WatchedAccounts struct {
	Net      string    `json:"net"`
	Accounts []Account `json:"accounts"`
}

// Holdings is the last reconciled set of tokens held by a watched account.
type Holdings struct {
	Net     string          `json:"net" bson:"net"`
	Address string          `json:"address" bson:"address"`
	Tokens  []types.TokenID `json:"tokens" bson:"tokens"`
	Updated time.Time       `json:"updated" bson:"updated"`
}
