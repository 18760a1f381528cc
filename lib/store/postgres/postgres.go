// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tarancss/aptosweb3/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS watched_accounts (
	net     TEXT NOT NULL,
	address TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	id      BYTEA NOT NULL,
	PRIMARY KEY (net, address)
);
CREATE TABLE IF NOT EXISTS holdings (
	net     TEXT NOT NULL,
	address TEXT NOT NULL,
	tokens  JSONB NOT NULL,
	updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (net, address)
);`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the tables if
// needed.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("cannot create tables: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// AddAccount saves an account if it is not already watched and returns its id.
func (p *Postgres) AddAccount(a store.Account, net string) ([]byte, error) {
	id := uuid.New()

	var stored []byte

	err := p.db.QueryRow(`INSERT INTO watched_accounts (net, address, name, id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (net, address) DO UPDATE SET net = EXCLUDED.net RETURNING id`,
		net, a.Addr, a.Name, id[:]).Scan(&stored)
	if err != nil {
		return nil, fmt.Errorf("could not insert account in db: %w", err)
	}

	return stored, nil
}

// RemoveAccount deletes an account from the database.
func (p *Postgres) RemoveAccount(a store.Account, net string) error {
	res, err := p.db.Exec(`DELETE FROM watched_accounts WHERE net = $1 AND address = $2`, net, a.Addr)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return store.ErrAccountNotFound
	}

	return nil
}

// GetAccounts returns the accounts watched on the networks indicated in the net slice, or on all networks when it is
// empty.
func (p *Postgres) GetAccounts(net []string) ([]store.WatchedAccounts, error) {
	var nets interface{}
	if len(net) > 0 {
		nets = pq.Array(net)
	}

	rows, err := p.db.Query(`SELECT net, address, name, id FROM watched_accounts
		WHERE $1::text[] IS NULL OR net = ANY($1::text[]) ORDER BY net, address`, nets)
	if err != nil {
		return nil, fmt.Errorf("error getting accounts: %w", err)
	}
	defer rows.Close()

	accs := []store.WatchedAccounts{}

	for rows.Next() {
		var (
			n string
			a store.Account
		)

		if err = rows.Scan(&n, &a.Addr, &a.Name, &a.ID); err != nil {
			return nil, err
		}

		if len(accs) == 0 || accs[len(accs)-1].Net != n {
			accs = append(accs, store.WatchedAccounts{Net: n})
		}

		accs[len(accs)-1].Accounts = append(accs[len(accs)-1].Accounts, a)
	}

	return accs, rows.Err()
}

// LoadHoldings loads from db the holdings of the accounts watched on net.
func (p *Postgres) LoadHoldings(net string) ([]store.Holdings, error) {
	rows, err := p.db.Query(`SELECT address, tokens, updated FROM holdings WHERE net = $1 ORDER BY address`, net)
	if err != nil {
		return nil, fmt.Errorf("[%s] error getting holdings: %w", net, err)
	}
	defer rows.Close()

	var hs []store.Holdings

	for rows.Next() {
		var (
			h      = store.Holdings{Net: net}
			tokens []byte
		)

		if err = rows.Scan(&h.Address, &tokens, &h.Updated); err != nil {
			return nil, err
		}

		if err = json.Unmarshal(tokens, &h.Tokens); err != nil {
			return nil, fmt.Errorf("[%s] holdings of %s: %w", net, h.Address, err)
		}

		hs = append(hs, h)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(hs) == 0 {
		return nil, store.ErrDataNotFound
	}

	return hs, nil
}

// SaveHoldings saves to db the holdings of an account.
func (p *Postgres) SaveHoldings(h store.Holdings) error {
	tokens, err := json.Marshal(h.Tokens)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`INSERT INTO holdings (net, address, tokens, updated) VALUES ($1, $2, $3, $4)
		ON CONFLICT (net, address) DO UPDATE SET tokens = EXCLUDED.tokens, updated = EXCLUDED.updated`,
		h.Net, h.Address, string(tokens), h.Updated)

	return err
}

// DeleteHoldings deletes from db the holdings of an account.
func (p *Postgres) DeleteHoldings(net, address string) error {
	_, err := p.db.Exec(`DELETE FROM holdings WHERE net = $1 AND address = $2`, net, address)

	return err
}
