// Package ledger defines the contract with the external collaborator that
// holds balances and plan records. The core never mutates plan state itself;
// it submits createPlan/payToday operations here and observes the records the
// ledger hands back.
package ledger

import (
	"context"

	"github.com/savelolabs/savelo/pkg/plan"
)

// CreateParams are the inputs to a create-plan operation. Amounts are in
// token base units; bounds validation happens before submission.
type CreateParams struct {
	Owner          string
	DailyAmount    uint64
	TotalDays      uint32
	PenaltyStake   uint64
	PenaltyPercent uint8
}

// CreateResult is the confirmed outcome of a create-plan operation.
type CreateResult struct {
	PlanID    uint64 `json:"plan_id"`
	Signature string `json:"signature"` // transaction signature / hash
}

// PayResult is the confirmed outcome of a pay-today operation.
type PayResult struct {
	Signature string `json:"signature"`
}

// Ledger is the external collaborator contract. Implementations are expected
// to block until the operation is confirmed or failed; the engine above this
// interface guarantees a single in-flight mutation per plan.
type Ledger interface {
	// CreatePlan stakes the penalty deposit and opens a new plan.
	CreatePlan(ctx context.Context, params CreateParams) (*CreateResult, error)

	// PayToday records one daily payment for the plan. Returns ErrNotActive
	// if the plan is terminal or not yet started.
	PayToday(ctx context.Context, planID uint64, amount uint64) (*PayResult, error)

	// GetPlan fetches the current plan record. Returns ErrNotFound if the id
	// does not exist.
	GetPlan(ctx context.Context, planID uint64) (*plan.Record, error)
}
