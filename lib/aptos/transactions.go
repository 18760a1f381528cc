package aptos

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// Signer signs transactions on behalf of an account.
type Signer interface {
	Address() string
	PublicKey() string // 0x prefixed hex
	Sign(message []byte) []byte
}

// TxOption overrides a default field of a generated transaction.
type TxOption func(*types.UserTransactionRequest)

// WithMaxGas sets the maximum gas amount.
func WithMaxGas(n uint64) TxOption {
	return func(r *types.UserTransactionRequest) {
		r.MaxGasAmount = strconv.FormatUint(n, 10)
	}
}

// WithGasUnitPrice sets the gas unit price.
func WithGasUnitPrice(n uint64) TxOption {
	return func(r *types.UserTransactionRequest) {
		r.GasUnitPrice = strconv.FormatUint(n, 10)
	}
}

// WithExpiration sets the expiration of the transaction from now.
func WithExpiration(d time.Duration) TxOption {
	return func(r *types.UserTransactionRequest) {
		r.ExpirationTimestampSecs = strconv.FormatInt(time.Now().Add(d).Unix(), 10)
	}
}

// GenerateTransaction builds an unsigned transaction for sender with its current sequence number.
func (c *Client) GenerateTransaction(ctx context.Context, sender string, payload types.TransactionPayload,
	opts ...TxOption,
) (types.UserTransactionRequest, error) {
	acc, err := c.GetAccount(ctx, sender)
	if err != nil {
		return types.UserTransactionRequest{}, fmt.Errorf("generate transaction: %w", err)
	}

	r := types.UserTransactionRequest{
		Sender:                  sender,
		SequenceNumber:          acc.SequenceNumber,
		MaxGasAmount:            strconv.Itoa(DefaultMaxGas),
		GasUnitPrice:            strconv.Itoa(DefaultGasUnitPrice),
		GasCurrencyCode:         DefaultGasCurrency,
		ExpirationTimestampSecs: strconv.FormatInt(time.Now().Add(DefaultExpiration).Unix(), 10),
		Payload:                 payload,
	}
	for _, opt := range opts {
		opt(&r)
	}

	return r, nil
}

// CreateSigningMessage asks the node for the bytes to be signed for txn.
func (c *Client) CreateSigningMessage(ctx context.Context, txn types.UserTransactionRequest) ([]byte, error) {
	var res struct {
		Message string `json:"message"`
	}

	if err := c.call(ctx, "signing_message", http.MethodPost, "/transactions/signing_message", txn, &res); err != nil {
		return nil, err
	}

	msg, err := hex.DecodeString(strings.TrimPrefix(res.Message, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing message: %w", err)
	}

	return msg, nil
}

// SignTransaction signs txn with s.
func (c *Client) SignTransaction(ctx context.Context, s Signer, txn types.UserTransactionRequest) (
	types.SubmitTransactionRequest, error,
) {
	msg, err := c.CreateSigningMessage(ctx, txn)
	if err != nil {
		return types.SubmitTransactionRequest{}, err
	}

	return types.SubmitTransactionRequest{
		UserTransactionRequest: txn,
		Signature: types.TransactionSignature{
			Type:      types.Ed25519Signature,
			PublicKey: s.PublicKey(),
			Signature: "0x" + hex.EncodeToString(s.Sign(msg)),
		},
	}, nil
}

// SubmitTransaction sends a signed transaction to the node.
func (c *Client) SubmitTransaction(ctx context.Context, signed types.SubmitTransactionRequest) (
	pt types.PendingTransaction, err error,
) {
	err = c.call(ctx, "submit_transaction", http.MethodPost, "/transactions", signed, &pt)

	return
}

// TransactionPending returns true while the node has not committed the transaction. A transaction unknown to the
// node is considered pending.
func (c *Client) TransactionPending(ctx context.Context, hash string) (bool, error) {
	tx, err := c.GetTransaction(ctx, hash)
	if errors.Is(err, types.ErrNotFound) {
		return true, nil
	}

	if err != nil {
		return false, err
	}

	return tx.Pending(), nil
}

// WaitForTransaction blocks until the transaction is committed. The wait is bounded by ctx and, when set, by the
// finality timeout of the client.
func (c *Client) WaitForTransaction(ctx context.Context, hash string) error {
	parent := ctx

	if c.finality > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.finality)
		defer cancel()
	}

	t := time.NewTicker(c.poll)
	defer t.Stop()

	for {
		pending, err := c.TransactionPending(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				break
			}

			return err
		}

		if !pending {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-t.C:
			continue
		}

		break
	}

	// only the finality timeout of the client is reported as such, not a deadline of the caller
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", hash, types.ErrFinalityTimeout)
	}

	return ctx.Err()
}
