package walletindex

import (
	"context"
	"errors"
	"strings"

	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/plan"
)

// FetchFunc fetches a plan record from the ledger.
type FetchFunc func(ctx context.Context, planID uint64) (*plan.Record, error)

// Resolution is the outcome of reconciling a wallet's cached plan ids against
// the ledger.
type Resolution struct {
	// Record is the resolved plan, or nil if the candidate list is exhausted.
	Record *plan.Record

	// Evicted are ids the caller must drop from the wallet's cache: unknown
	// to the ledger, owned by someone else, or terminal.
	Evicted []uint64
}

// Resolve walks the cached candidate ids (most recent first) and returns the
// first record the ledger confirms as this wallet's live plan. Cached ids are
// untrusted hints: a wallet may have switched, or another device's plan may
// have been cached with stale ownership.
//
// Transport failures abort the walk without evicting anything; eviction on a
// flaky connection would throw away a perfectly good cache.
func Resolve(ctx context.Context, wallet string, ids []uint64, fetch FetchFunc) (*Resolution, error) {
	res := &Resolution{}

	for _, id := range ids {
		rec, err := fetch(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			res.Evicted = append(res.Evicted, id)
			continue
		}
		if err != nil {
			return nil, err
		}

		if !strings.EqualFold(rec.Owner, wallet) {
			res.Evicted = append(res.Evicted, id)
			continue
		}

		if rec.Terminal() {
			res.Evicted = append(res.Evicted, id)
			continue
		}

		res.Record = rec
		return res, nil
	}

	return res, nil
}
