package token

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

var (
	tokA = types.TokenID{Creator: "0xa", Collection: "cats", Name: "tom"}
	tokB = types.TokenID{Creator: "0xa", Collection: "cats", Name: "felix"}
	tokC = types.TokenID{Creator: "0xc", Collection: "dogs", Name: "rex"}
)

// events returns one token event per id.
func events(ids ...types.TokenID) []types.Event {
	evs := make([]types.Event, len(ids))
	for i, id := range ids {
		data, _ := json.Marshal(types.TokenEventData{ID: id, Amount: "1"})
		evs[i] = types.Event{Key: "0x01", SequenceNumber: string(rune('0' + i)), Data: data}
	}

	return evs
}

func TestHeldTokens(t *testing.T) {
	cases := []struct {
		name      string
		deposits  []types.TokenID
		withdraws []types.TokenID
		held      []types.TokenID
	}{
		{"empty", nil, nil, []types.TokenID{}},
		{"single deposit", []types.TokenID{tokA}, nil, []types.TokenID{tokA}},
		{"deposit then withdraw", []types.TokenID{tokA}, []types.TokenID{tokA}, []types.TokenID{}},
		{"redeposit", []types.TokenID{tokA, tokA, tokB}, []types.TokenID{tokA}, []types.TokenID{tokA, tokB}},
		{"two deposits are not held", []types.TokenID{tokA, tokA}, nil, []types.TokenID{}},
		{"withdraw without deposit", []types.TokenID{tokB}, []types.TokenID{tokC}, []types.TokenID{tokB}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			held, err := HeldTokens(events(c.deposits...), events(c.withdraws...))
			require.NoError(t, err)
			assert.Equal(t, c.held, held)
		})
	}
}

func TestHeldTokensOrderInvariant(t *testing.T) {
	deposits := []types.TokenID{tokA, tokB, tokA, tokC, tokB, tokA, tokC}
	withdraws := []types.TokenID{tokA, tokB, tokC}

	want, err := HeldTokens(events(deposits...), events(withdraws...))
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42)) //nolint:gosec // shuffling test data

	for i := 0; i < 50; i++ {
		d := append([]types.TokenID(nil), deposits...)
		w := append([]types.TokenID(nil), withdraws...)
		r.Shuffle(len(d), func(i, j int) { d[i], d[j] = d[j], d[i] })
		r.Shuffle(len(w), func(i, j int) { w[i], w[j] = w[j], w[i] })

		got, err := HeldTokens(events(d...), events(w...))
		require.NoError(t, err)
		assert.ElementsMatch(t, want, got)
	}
}

func TestHeldTokensBadData(t *testing.T) {
	_, err := HeldTokens([]types.Event{{Key: "0x01", Data: json.RawMessage(`"oops"`)}}, nil)
	assert.ErrorIs(t, err, types.ErrEventData)

	_, err = HeldTokens(events(tokA), []types.Event{{Key: "0x02", Data: json.RawMessage(`[]`)}})
	assert.ErrorIs(t, err, types.ErrEventData)
}
