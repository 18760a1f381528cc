// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/aptosweb3/lib/store"
)

// Databases holding watched accounts and holdings, one collection per network.
const (
	watchDB    = "watch"
	holdingsDB = "hold"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// MongoAccount implements a store account to MongoDB.
type MongoAccount struct {
	ID   primitive.ObjectID `json:"_id" bson:"_id"`
	Name string             `json:"name,omitempty" bson:"name,omitempty"`
	Addr string             `json:"address" bson:"address"`
}

// Account converts a MongoAccount to store.Account type.
func (a MongoAccount) Account() store.Account {
	return store.Account{ID: a.ID[:], Addr: a.Addr, Name: a.Name}
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// AddAccount saves an account if it is not already watched and returns its id.
func (m *Mongo) AddAccount(a store.Account, net string) ([]byte, error) {
	var ma MongoAccount

	col := m.c.Database(watchDB).Collection(net)

	// try and find it
	err := col.FindOne(context.Background(), bson.M{"address": a.Addr}).Decode(&ma)
	if errors.Is(err, mgo.ErrNoDocuments) { // if not found, do insert it!!
		res, errIns := col.InsertOne(context.Background(), bson.M{"name": a.Name, "address": a.Addr})
		if errIns != nil {
			return nil, fmt.Errorf("could not insert account in db: %w", errIns)
		}

		id, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return nil, fmt.Errorf("unexpected id %v", res.InsertedID)
		}

		return id[:], nil
	}

	if err != nil {
		return nil, fmt.Errorf("could not insert account in db: %w", err)
	}

	log.Printf("[%s] Account was already watched:%+v", net, ma)

	return hex.DecodeString(ma.ID.Hex())
}

// RemoveAccount deletes an account from the database.
func (m *Mongo) RemoveAccount(a store.Account, net string) error {
	res, err := m.c.Database(watchDB).Collection(net).DeleteOne(context.Background(), bson.M{"address": a.Addr})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrAccountNotFound
	}

	return err
}

// GetAccounts returns the accounts watched on the networks indicated in the net slice, or on all networks when it is
// empty.
func (m *Mongo) GetAccounts(net []string) ([]store.WatchedAccounts, error) {
	names, err := m.c.Database(watchDB).ListCollectionNames(context.Background(), bson.D{})
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB object: %w", err)
	}

	slices.Sort(names)

	accs := []store.WatchedAccounts{}

	for _, col := range names {
		if len(net) > 0 && !slices.Contains(net, col) {
			continue
		}

		wa := store.WatchedAccounts{Net: col}

		docs, err := m.c.Database(watchDB).Collection(col).Find(context.Background(), bson.M{})
		if err != nil {
			return nil, fmt.Errorf("[%s] error finding accounts: %w", col, err)
		}

		for docs.Next(context.Background()) {
			var a MongoAccount
			if err = bson.Unmarshal(docs.Current, &a); err == nil {
				wa.Accounts = append(wa.Accounts, a.Account())
			}
		}

		_ = docs.Close(context.Background())

		accs = append(accs, wa)
	}

	return accs, nil
}

// LoadHoldings loads from db the holdings of the accounts watched on net.
func (m *Mongo) LoadHoldings(net string) ([]store.Holdings, error) {
	cur, err := m.c.Database(holdingsDB).Collection(net).Find(context.Background(), bson.D{})
	if err != nil {
		return nil, fmt.Errorf("[%s] error finding holdings: %w", net, err)
	}

	var hs []store.Holdings
	if err = cur.All(context.Background(), &hs); err != nil {
		return nil, fmt.Errorf("[%s] error decoding holdings: %w", net, err)
	}

	if len(hs) == 0 {
		return nil, store.ErrDataNotFound
	}

	return hs, nil
}

// SaveHoldings saves to db the holdings of an account.
func (m *Mongo) SaveHoldings(h store.Holdings) (err error) {
	_, err = m.c.Database(holdingsDB).Collection(h.Net).UpdateOne(context.Background(),
		bson.D{{Key: "address", Value: h.Address}}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "net", Value: h.Net},
					{Key: "address", Value: h.Address},
					{Key: "tokens", Value: h.Tokens},
					{Key: "updated", Value: h.Updated},
				},
			},
		},
		options.Update().SetUpsert(true))

	return
}

// DeleteHoldings deletes from db the holdings of an account.
func (m *Mongo) DeleteHoldings(net, address string) (err error) {
	_, err = m.c.Database(holdingsDB).Collection(net).DeleteOne(context.Background(),
		bson.D{{Key: "address", Value: address}}, options.Delete())

	return
}
