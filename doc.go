// Package aptosweb3 and its sub-packages implement the backend services to work with the NFT tokens of the Aptos
// network from a user's wallet.
/*
aptosweb3 provides you with two microservices and the libraries they share:

1) a wallet microservice (package wallet) that implements a RESTful API to query tokens and collections, send token
 transactions signed by a hierarchical deterministic wallet, request accounts to be watched and follow the state of
 the user's wallet through the wallet bridge.

2) a watcher microservice (package watcher) that periodically reconciles the tokens held by the watched accounts and
 sends an event whenever they change.

Architecture

The wallet and watcher services communicate via a message broker. The wallet channels requests to watch or unwatch
accounts to the broker. The watcher consumes the requests, reconciles the holdings of every watched account and sends
holdings events back to the broker. The broker also carries wallet events (transactions sent, account or network
changes) so every wallet instance can relay them to its bridge listeners. The message broker is implemented as a
product agnostic layer (package lib/msg) with an AMQP implementation and an in memory one for single process
deployments, and it is configured via a JSON or YAML config file at service startup.

Watched accounts and their last reconciled holdings are persisted through a database product agnostic layer (package
lib/store) with MongoDB and PostgreSQL implementations.

The Aptos REST client (package lib/aptos) gives access to account resources, event streams, table items and the
transaction lifecycle: generate, sign, submit and wait for finality. The token client (package token) builds on it the
token operations: create collections and tokens, offer, claim and cancel token offers and read token data and
balances. Reconciliation of the tokens held by an account replays the deposit and withdraw event streams of the
account's token store.

The wallet bridge (package bridge) follows a browser-style wallet through a single ordered stream of events and keeps
the observable state: connection, account, balance, network and the transactions signed through it. Subscribers are
notified of every state change. Package bridge/localwallet provides a wallet backed by the HD wallet of the service.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Wallet

The wallet microservice (package wallet) can be started running cmd/wallet/main.go. With the "memory" broker type the
watcher runs in the same process.

Watcher

The watcher microservice (package watcher) can be started running cmd/watcher/main.go. Wallet services send requests
for the watcher to start or stop watching accounts so that holdings changes can be reported to clients in real time.

*/
package aptosweb3
