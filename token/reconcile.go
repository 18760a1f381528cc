package token

import (
	"github.com/tarancss/aptosweb3/lib/aptos/types"
)

// HeldTokens returns the ids of the tokens an account holds given its deposit and withdraw events. A token is held
// when it was deposited exactly once more than it was withdrawn. An id deposited twice and never withdrawn is not
// held: the rule counts events, not units, and is only meaningful for unit tokens.
//
// Membership does not depend on the order of either sequence. Ids are returned once, ordered by their first deposit.
func HeldTokens(deposits, withdraws []types.Event) ([]types.TokenID, error) {
	dep, order, err := count(deposits)
	if err != nil {
		return nil, err
	}

	wd, _, err := count(withdraws)
	if err != nil {
		return nil, err
	}

	held := make([]types.TokenID, 0, len(order))

	for _, id := range order {
		k := id.Key()
		if dep[k]-wd[k] == 1 {
			held = append(held, id)
		}
	}

	return held, nil
}

// count returns the number of events per token id and the distinct ids in order of appearance.
func count(evs []types.Event) (map[string]int, []types.TokenID, error) {
	m := make(map[string]int, len(evs))
	order := make([]types.TokenID, 0, len(evs))

	for _, e := range evs {
		d, err := e.TokenData()
		if err != nil {
			return nil, nil, err
		}

		k := d.ID.Key()
		if m[k] == 0 {
			order = append(order, d.ID)
		}
		m[k]++
	}

	return m, order, nil
}
