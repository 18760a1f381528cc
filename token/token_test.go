package token

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/aptosweb3/lib/aptos"
	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// mockNode is an in-memory node recording the calls made by the token client.
type mockNode struct {
	resources map[string][]types.AccountResource
	events    map[string][]types.Event // address/field
	tables    map[string]interface{}   // handle/key
	calls     []string
	payload   types.TransactionPayload
	maxGas    string
	txn       types.UserTransactionRequest
	waitErr   error
}

func (m *mockNode) GetAccountResources(_ context.Context, address string) ([]types.AccountResource, error) {
	m.calls = append(m.calls, "resources:"+address)

	return m.resources[address], nil
}

func (m *mockNode) GetAccountResource(_ context.Context, address, t string) (types.AccountResource, error) {
	m.calls = append(m.calls, "resource:"+address)

	if r, ok := types.Find(m.resources[address], t); ok {
		return r, nil
	}

	return types.AccountResource{}, &types.APIError{Status: 404, Body: "resource not found"}
}

func (m *mockNode) GetEventsByEventHandle(_ context.Context, address, _, field string) ([]types.Event, error) {
	m.calls = append(m.calls, "events:"+field)

	return m.events[address+"/"+field], nil
}

func (m *mockNode) GetTableItem(_ context.Context, handle string, req types.TableItemRequest, out interface{}) error {
	k, _ := json.Marshal(req.Key)
	m.calls = append(m.calls, "table:"+handle)

	v, ok := m.tables[handle+"/"+string(k)]
	if !ok {
		return &types.APIError{Status: 404, Body: "table item not found"}
	}

	b, _ := json.Marshal(v)

	return json.Unmarshal(b, out)
}

func (m *mockNode) GenerateTransaction(_ context.Context, sender string, p types.TransactionPayload,
	opts ...aptos.TxOption,
) (types.UserTransactionRequest, error) {
	m.calls = append(m.calls, "generate")
	m.payload = p

	r := types.UserTransactionRequest{Sender: sender, Payload: p}
	for _, opt := range opts {
		opt(&r)
	}

	m.maxGas = r.MaxGasAmount
	m.txn = r

	return r, nil
}

func (m *mockNode) SignTransaction(_ context.Context, _ aptos.Signer, txn types.UserTransactionRequest) (
	types.SubmitTransactionRequest, error,
) {
	m.calls = append(m.calls, "sign")

	return types.SubmitTransactionRequest{UserTransactionRequest: txn}, nil
}

func (m *mockNode) SubmitTransaction(_ context.Context, _ types.SubmitTransactionRequest) (
	types.PendingTransaction, error,
) {
	m.calls = append(m.calls, "submit")

	return types.PendingTransaction{Hash: "0xhash"}, nil
}

func (m *mockNode) WaitForTransaction(_ context.Context, hash string) error {
	m.calls = append(m.calls, "wait:"+hash)

	return m.waitErr
}

type signer struct{}

func (signer) Address() string      { return "0xa" }
func (signer) PublicKey() string    { return "0x00" }
func (signer) Sign(_ []byte) []byte { return nil }

func collections(collectionsHandle, tokenDataHandle string) types.AccountResource {
	return types.AccountResource{
		Type: types.CollectionsType,
		Data: json.RawMessage(`{"collections":{"handle":"` + collectionsHandle + `"},"token_data":{"handle":"` +
			tokenDataHandle + `"},"create_collection_events":{"counter":"1"}}`),
	}
}

func key(v interface{}) string {
	b, _ := json.Marshal(v)

	return string(b)
}

func TestSubmitTransactionHelper(t *testing.T) {
	m := &mockNode{}
	c := New(m, 0)

	hash, err := c.CreateCollection(context.Background(), signer{}, "cats", "all cats", "https://cats")
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
	assert.Equal(t, []string{"generate", "sign", "submit", "wait:0xhash"}, m.calls)
	assert.Equal(t, "4000", m.maxGas)
	assert.Equal(t, CreateCollectionScript, m.payload.Function)
	assert.Equal(t, []interface{}{hex.EncodeToString([]byte("cats")), hex.EncodeToString([]byte("all cats")),
		hex.EncodeToString([]byte("https://cats"))}, m.payload.Arguments)

	// no hash before finality
	m = &mockNode{waitErr: errors.New("node gone")}
	hash, err = New(m, 0).ClaimToken(context.Background(), signer{}, "0xb", "0xa", "cats", "tom")
	assert.Error(t, err)
	assert.Empty(t, hash)
}

func TestTxOptions(t *testing.T) {
	m := &mockNode{}
	c := New(m, 0, aptos.WithGasUnitPrice(3), aptos.WithMaxGas(10), aptos.WithExpiration(time.Minute))

	_, err := c.CreateCollection(context.Background(), signer{}, "cats", "", "")
	require.NoError(t, err)

	// options given to the client win over its maximum gas
	assert.Equal(t, "10", m.txn.MaxGasAmount)
	assert.Equal(t, "3", m.txn.GasUnitPrice)

	exp, err := strconv.ParseInt(m.txn.ExpirationTimestampSecs, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Minute).Unix(), exp, 5)
}

func TestPayloads(t *testing.T) {
	ctx := context.Background()
	m := &mockNode{}
	c := New(m, 100)

	_, err := c.CreateToken(ctx, signer{}, "cats", "tom", "a cat", 1, "https://tom", 5)
	require.NoError(t, err)
	assert.Equal(t, CreateTokenScript, m.payload.Function)
	assert.Equal(t, []interface{}{hexStr("cats"), hexStr("tom"), hexStr("a cat"), true, "1", hexStr("https://tom"),
		"5"}, m.payload.Arguments)
	assert.Equal(t, "100", m.maxGas)

	_, err = c.OfferToken(ctx, signer{}, "0xb", "0xa", "cats", "tom", 1)
	require.NoError(t, err)
	assert.Equal(t, OfferScript, m.payload.Function)
	assert.Equal(t, []interface{}{"0xb", "0xa", hexStr("cats"), hexStr("tom"), "1"}, m.payload.Arguments)

	_, err = c.CancelTokenOffer(ctx, signer{}, "0xb", "0xa", "cats", "tom")
	require.NoError(t, err)
	assert.Equal(t, CancelOfferScript, m.payload.Function)
	assert.Equal(t, types.ScriptFunctionPayload, m.payload.Type)
	assert.Empty(t, m.payload.TypeArguments)
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	m := &mockNode{
		resources: map[string][]types.AccountResource{
			"0xa": {collections("0xc0", "0xd0")},
			"0xb": {{Type: types.TokenStoreType, Data: json.RawMessage(`{"tokens":{"handle":"0xe0"}}`)}},
		},
		tables: map[string]interface{}{
			"0xc0/" + key("cats"): types.Collection{Name: "cats", Count: "2"},
			"0xd0/" + key(tokA):   types.TokenData{Collection: "cats", Name: "tom", Supply: "1"},
			"0xe0/" + key(tokA):   types.Token{ID: tokA, Value: "1"},
		},
	}
	c := New(m, 0)

	col, err := c.GetCollectionData(ctx, "0xa", "cats")
	require.NoError(t, err)
	assert.Equal(t, "2", col.Count)

	td, err := c.GetTokenData(ctx, "0xa", "cats", "tom")
	require.NoError(t, err)
	assert.Equal(t, "tom", td.Name)

	tok, err := c.GetTokenBalanceForAccount(ctx, "0xb", tokA)
	require.NoError(t, err)
	assert.Equal(t, "1", tok.Value)

	_, err = c.GetTokenBalance(ctx, "0xa", "cats", "tom")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.GetCollectionData(ctx, "0xb", "cats")
	assert.ErrorIs(t, err, types.ErrNoResource)

	_, err = c.GetCollectionData(ctx, "0xa", "dogs")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetTokens(t *testing.T) {
	m := &mockNode{
		resources: map[string][]types.AccountResource{
			"0xa": {collections("0xc0", "0xd0")},
			"0xc": {collections("0xc1", "0xd1")},
		},
		events: map[string][]types.Event{
			"0xb/" + DepositEvents:  events(tokA, tokB, tokC, tokA),
			"0xb/" + WithdrawEvents: events(tokA),
		},
		tables: map[string]interface{}{
			"0xd0/" + key(tokA): types.TokenData{Name: "tom"},
			"0xd0/" + key(tokB): types.TokenData{Name: "felix"},
			"0xd1/" + key(tokC): types.TokenData{Name: "rex"},
		},
	}

	tokens, err := New(m, 0).GetTokens(context.Background(), "0xb")
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "tom", tokens[0].Name)
	assert.Equal(t, "felix", tokens[1].Name)
	assert.Equal(t, "rex", tokens[2].Name)

	// one resources lookup per creator
	var lookups []string

	for _, call := range m.calls {
		if len(call) > 10 && call[:10] == "resources:" {
			lookups = append(lookups, call)
		}
	}

	assert.Equal(t, []string{"resources:0xa", "resources:0xc"}, lookups)
}
