// Package store defines the interface for database implementations to the wallet and watcher microservices.
package store

import (
	"errors"
)

// DB defines required methods for wallets and watchers
type DB interface {
	// methods for wallet service
	AddAccount(Account, string) ([]byte, error)
	RemoveAccount(Account, string) error
	GetAccounts([]string) ([]WatchedAccounts, error)
	// methods for watcher service
	LoadHoldings(string) ([]Holdings, error)
	SaveHoldings(Holdings) error
	DeleteHoldings(net, address string) error
}

// Errors returned
var (
	ErrAccountNotFound = errors.New("account was not found in store")
	ErrDataNotFound    = errors.New("data was not found in store")
)
