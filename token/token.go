// Package token implements a client to create, transfer and query NFT collections and tokens of the Aptos token
// module, and to reconcile the tokens held by an account from its deposit and withdraw events.
package token

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// DefaultMaxGas is the maximum gas amount of token transactions.
const DefaultMaxGas = 4000

// Script functions of the token modules.
const (
	CreateCollectionScript = "0x1::token::create_unlimited_collection_script"
	CreateTokenScript      = "0x1::token::create_unlimited_token_script"
	OfferScript            = "0x1::token_transfers::offer_script"
	ClaimScript            = "0x1::token_transfers::claim_script"
	CancelOfferScript      = "0x1::token_transfers::cancel_offer_script"
)

// Event handle fields of the token store.
const (
	DepositEvents  = "deposit_events"
	WithdrawEvents = "withdraw_events"
)

// Node is the part of the node API used by the token client. *aptos.Client implements it.
type Node interface {
	GetAccountResources(ctx context.Context, address string) ([]types.AccountResource, error)
	GetAccountResource(ctx context.Context, address, resourceType string) (types.AccountResource, error)
	GetEventsByEventHandle(ctx context.Context, address, eventHandleStruct, field string) ([]types.Event, error)
	GetTableItem(ctx context.Context, handle string, req types.TableItemRequest, out interface{}) error
	GenerateTransaction(ctx context.Context, sender string, payload types.TransactionPayload,
		opts ...aptos.TxOption) (types.UserTransactionRequest, error)
	SignTransaction(ctx context.Context, s aptos.Signer, txn types.UserTransactionRequest) (
		types.SubmitTransactionRequest, error)
	SubmitTransaction(ctx context.Context, signed types.SubmitTransactionRequest) (types.PendingTransaction, error)
	WaitForTransaction(ctx context.Context, hash string) error
}

// Client creates, transfers and queries tokens.
type Client struct {
	node   Node
	maxGas uint64
	opts   []aptos.TxOption
}

// New returns a token client using node. maxGas of 0 means DefaultMaxGas. opts are applied to every transaction
// after the maximum gas.
func New(node Node, maxGas uint64, opts ...aptos.TxOption) *Client {
	if maxGas == 0 {
		maxGas = DefaultMaxGas
	}

	return &Client{node: node, maxGas: maxGas, opts: opts}
}

// SubmitTransactionHelper generates, signs and submits a transaction with payload, then waits for it to be committed.
// The hash is only returned once the transaction is final.
func (c *Client) SubmitTransactionHelper(ctx context.Context, s aptos.Signer, payload types.TransactionPayload) (
	string, error,
) {
	opts := append([]aptos.TxOption{aptos.WithMaxGas(c.maxGas)}, c.opts...)

	txn, err := c.node.GenerateTransaction(ctx, s.Address(), payload, opts...)
	if err != nil {
		return "", err
	}

	signed, err := c.node.SignTransaction(ctx, s, txn)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	pt, err := c.node.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit transaction: %w", err)
	}

	log.WithFields(log.Fields{"sender": s.Address(), "function": payload.Function, "hash": pt.Hash}).
		Debug("waiting for transaction")

	if err = c.node.WaitForTransaction(ctx, pt.Hash); err != nil {
		return "", err
	}

	return pt.Hash, nil
}

// hexStr encodes a string argument of a script function.
func hexStr(s string) string {
	return hex.EncodeToString([]byte(s))
}

// script returns a script function payload.
func script(function string, args ...interface{}) types.TransactionPayload {
	return types.TransactionPayload{
		Type:          types.ScriptFunctionPayload,
		Function:      function,
		TypeArguments: []string{},
		Arguments:     args,
	}
}

// CreateCollection creates a collection of unlimited size in the account of s.
func (c *Client) CreateCollection(ctx context.Context, s aptos.Signer, name, description, uri string) (string,
	error,
) {
	return c.SubmitTransactionHelper(ctx, s, script(CreateCollectionScript,
		hexStr(name), hexStr(description), hexStr(uri)))
}

// CreateToken creates a token of collection in the account of s.
func (c *Client) CreateToken(ctx context.Context, s aptos.Signer, collection, name, description string, supply uint64,
	uri string, royaltyPointsPerMillion uint64,
) (string, error) {
	return c.SubmitTransactionHelper(ctx, s, script(CreateTokenScript,
		hexStr(collection), hexStr(name), hexStr(description), true,
		strconv.FormatUint(supply, 10), hexStr(uri), strconv.FormatUint(royaltyPointsPerMillion, 10)))
}

// OfferToken offers amount units of a token held by s to receiver.
func (c *Client) OfferToken(ctx context.Context, s aptos.Signer, receiver, creator, collection, name string,
	amount uint64,
) (string, error) {
	return c.SubmitTransactionHelper(ctx, s, script(OfferScript,
		receiver, creator, hexStr(collection), hexStr(name), strconv.FormatUint(amount, 10)))
}

// ClaimToken claims a token offered by sender to s.
func (c *Client) ClaimToken(ctx context.Context, s aptos.Signer, sender, creator, collection, name string) (string,
	error,
) {
	return c.SubmitTransactionHelper(ctx, s, script(ClaimScript,
		sender, creator, hexStr(collection), hexStr(name)))
}

// CancelTokenOffer withdraws an offer from s to receiver that has not been claimed.
func (c *Client) CancelTokenOffer(ctx context.Context, s aptos.Signer, receiver, creator, collection, name string) (
	string, error,
) {
	return c.SubmitTransactionHelper(ctx, s, script(CancelOfferScript,
		receiver, creator, hexStr(collection), hexStr(name)))
}

// tableHandle extracts the handle of the table stored in field of resource r.
func tableHandle(r types.AccountResource, field string) (string, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return "", fmt.Errorf("%s: %w", r.Type, err)
	}

	var t struct {
		Handle string `json:"handle"`
	}

	if raw, ok := data[field]; ok && json.Unmarshal(raw, &t) == nil && t.Handle != "" {
		return t.Handle, nil
	}

	return "", fmt.Errorf("%s.%s: %w", r.Type, field, types.ErrNoHandle)
}

// GetCollectionData returns the collection of creator named name.
func (c *Client) GetCollectionData(ctx context.Context, creator, name string) (types.Collection, error) {
	var col types.Collection

	rs, err := c.node.GetAccountResources(ctx, creator)
	if err != nil {
		return col, err
	}

	r, ok := types.Find(rs, types.CollectionsType)
	if !ok {
		return col, fmt.Errorf("%s %s: %w", creator, types.CollectionsType, types.ErrNoResource)
	}

	handle, err := tableHandle(r, "collections")
	if err != nil {
		return col, err
	}

	err = c.node.GetTableItem(ctx, handle, types.TableItemRequest{
		KeyType:   types.StringType,
		ValueType: types.CollectionType,
		Key:       name,
	}, &col)

	return col, err
}

// GetTokenData returns the data of a token of creator.
func (c *Client) GetTokenData(ctx context.Context, creator, collection, name string) (types.TokenData, error) {
	var td types.TokenData

	r, err := c.node.GetAccountResource(ctx, creator, types.CollectionsType)
	if err != nil {
		return td, err
	}

	handle, err := tableHandle(r, "token_data")
	if err != nil {
		return td, err
	}

	err = c.node.GetTableItem(ctx, handle, types.TableItemRequest{
		KeyType:   types.TokenIDType,
		ValueType: types.TokenDataType,
		Key:       types.TokenID{Creator: creator, Collection: collection, Name: name},
	}, &td)

	return td, err
}

// GetTokenBalance returns the balance of a token held by its creator.
//
// Deprecated: use GetTokenBalanceForAccount.
func (c *Client) GetTokenBalance(ctx context.Context, creator, collection, name string) (types.Token, error) {
	return c.GetTokenBalanceForAccount(ctx, creator, types.TokenID{Creator: creator, Collection: collection,
		Name: name})
}

// GetTokenBalanceForAccount returns the balance of token id held by account.
func (c *Client) GetTokenBalanceForAccount(ctx context.Context, account string, id types.TokenID) (types.Token,
	error,
) {
	var tok types.Token

	r, err := c.node.GetAccountResource(ctx, account, types.TokenStoreType)
	if err != nil {
		return tok, err
	}

	handle, err := tableHandle(r, "tokens")
	if err != nil {
		return tok, err
	}

	err = c.node.GetTableItem(ctx, handle, types.TableItemRequest{
		KeyType:   types.TokenIDType,
		ValueType: types.TokenType,
		Key:       id,
	}, &tok)

	return tok, err
}

// GetTokenIDs returns the ids of the tokens held by address, including the ones it minted.
func (c *Client) GetTokenIDs(ctx context.Context, address string) ([]types.TokenID, error) {
	deposits, err := c.node.GetEventsByEventHandle(ctx, address, types.TokenStoreType, DepositEvents)
	if err != nil {
		return nil, fmt.Errorf("deposit events: %w", err)
	}

	withdraws, err := c.node.GetEventsByEventHandle(ctx, address, types.TokenStoreType, WithdrawEvents)
	if err != nil {
		return nil, fmt.Errorf("withdraw events: %w", err)
	}

	return HeldTokens(deposits, withdraws)
}

// GetTokens returns the data of the tokens held by address. The resources of each creator are fetched once.
func (c *Client) GetTokens(ctx context.Context, address string) ([]types.TokenData, error) {
	ids, err := c.GetTokenIDs(ctx, address)
	if err != nil {
		return nil, err
	}

	handles := make(map[string]string)
	tokens := make([]types.TokenData, 0, len(ids))

	for _, id := range ids {
		handle, ok := handles[id.Creator]
		if !ok {
			rs, err := c.node.GetAccountResources(ctx, id.Creator)
			if err != nil {
				return nil, err
			}

			r, found := types.Find(rs, types.CollectionsType)
			if !found {
				return nil, fmt.Errorf("%s %s: %w", id.Creator, types.CollectionsType, types.ErrNoResource)
			}

			if handle, err = tableHandle(r, "token_data"); err != nil {
				return nil, err
			}

			handles[id.Creator] = handle
		}

		var td types.TokenData
		if err = c.node.GetTableItem(ctx, handle, types.TableItemRequest{
			KeyType:   types.TokenIDType,
			ValueType: types.TokenDataType,
			Key:       id,
		}, &td); err != nil {
			return nil, err
		}

		tokens = append(tokens, td)
	}

	return tokens, nil
}
