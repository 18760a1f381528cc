// Package types common Aptos node types.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Account is the public part of an account exposed by a wallet.
type Account struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// Empty returns true when no account has been set.
func (a Account) Empty() bool {
	return a.Address == ""
}

// AccountData is the reply of GET /accounts/{address}.
type AccountData struct {
	SequenceNumber    string `json:"sequence_number"`
	AuthenticationKey string `json:"authentication_key"`
}

// AccountResource is a Move resource stored under an account. Data is kept raw as its shape depends on Type.
type AccountResource struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Find returns the resource of type t in rs.
func Find(rs []AccountResource, t string) (AccountResource, bool) {
	for _, r := range rs {
		if r.Type == t {
			return r, true
		}
	}

	return AccountResource{}, false
}

// TokenID identifies a token type within a collection.
type TokenID struct {
	Creator    string `json:"creator"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

// Key returns the serialised form of the id used to count events.
func (t TokenID) Key() string {
	b, _ := json.Marshal(t) // a struct of strings always marshals

	return string(b)
}

// Event is an entry of an account event stream.
type Event struct {
	Key            string          `json:"key"`
	SequenceNumber string          `json:"sequence_number"`
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
}

// TokenEventData is the data of token deposit and withdraw events.
type TokenEventData struct {
	ID     TokenID `json:"id"`
	Amount string  `json:"amount"`
}

// TokenData decodes the data of a token deposit or withdraw event.
func (e Event) TokenData() (TokenEventData, error) {
	var d TokenEventData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("event %s/%s: %w", e.Key, e.SequenceNumber, ErrEventData)
	}

	return d, nil
}

// TableItemRequest is the body of a table item lookup.
type TableItemRequest struct {
	KeyType   string      `json:"key_type"`
	ValueType string      `json:"value_type"`
	Key       interface{} `json:"key"`
}

// Collection is the value of the creator's collections table.
type Collection struct {
	Description string `json:"description"`
	Name        string `json:"name"`
	URI         string `json:"uri"`
	Count       string `json:"count"`
	Maximum     Option `json:"maximum"`
}

// TokenData is the value of the creator's token_data table.
type TokenData struct {
	Collection  string `json:"collection"`
	Description string `json:"description"`
	Name        string `json:"name"`
	Maximum     Option `json:"maximum"`
	Supply      string `json:"supply"`
	URI         string `json:"uri"`
}

// Token is the value of an owner's tokens table.
type Token struct {
	ID    TokenID `json:"id"`
	Value string  `json:"value"`
}

// Option is a Move option<u64>, encoded as a vector with zero or one element.
type Option struct {
	Vec []string `json:"vec"`
}

// TransactionPayload is the payload of a user transaction.
type TransactionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// UserTransactionRequest is an unsigned user transaction.
type UserTransactionRequest struct {
	Sender                  string             `json:"sender"`
	SequenceNumber          string             `json:"sequence_number"`
	MaxGasAmount            string             `json:"max_gas_amount"`
	GasUnitPrice            string             `json:"gas_unit_price"`
	GasCurrencyCode         string             `json:"gas_currency_code"`
	ExpirationTimestampSecs string             `json:"expiration_timestamp_secs"`
	Payload                 TransactionPayload `json:"payload"`
}

// TransactionSignature is an ed25519 signature over a signing message.
type TransactionSignature struct {
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// SubmitTransactionRequest is a signed user transaction.
type SubmitTransactionRequest struct {
	UserTransactionRequest
	Signature TransactionSignature `json:"signature"`
}

// PendingTransaction is the reply to a submission.
type PendingTransaction struct {
	Hash string `json:"hash"`
	SubmitTransactionRequest
}

// Transaction contains the fields common to all transaction kinds.
type Transaction struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Version  string `json:"version,omitempty"`
	Success  bool   `json:"success,omitempty"`
	VMStatus string `json:"vm_status,omitempty"`
}

// Pending returns true while the transaction has not been committed.
func (t Transaction) Pending() bool {
	return t.Type == PendingTransactionType
}

// LedgerInfo is the reply of GET /.
type LedgerInfo struct {
	ChainID         int    `json:"chain_id"`
	LedgerVersion   string `json:"ledger_version"`
	LedgerTimestamp string `json:"ledger_timestamp"`
}

// Well known Move types and transaction kinds.
const (
	CollectionsType        = "0x1::token::Collections"
	TokenStoreType         = "0x1::token::TokenStore"
	CoinStoreType          = "0x1::Coin::CoinStore<0x1::TestCoin::TestCoin>"
	StringType             = "0x1::string::String"
	TokenIDType            = "0x1::token::TokenId"
	TokenDataType          = "0x1::token::TokenData"
	TokenType              = "0x1::token::Token"
	CollectionType         = "0x1::token::Collection"
	ScriptFunctionPayload  = "script_function_payload"
	PendingTransactionType = "pending_transaction"
	Ed25519Signature       = "ed25519_signature"
)

// APIError is returned for any reply of the node that is not a success.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node replied status %d: %s", e.Status, e.Body)
}

// Is makes errors.Is(err, ErrNotFound) hold for 404 replies.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// Error codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrNoResource      = errors.New("resource not found in account")
	ErrEventData       = errors.New("malformed token event data")
	ErrNoHandle        = errors.New("resource does not contain a table handle")
	ErrFinalityTimeout = errors.New("timed out waiting for transaction")
)
