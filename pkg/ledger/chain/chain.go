// Package chain implements the ledger contract against the on-chain Savelo
// program. It is a thin client: all penalty, grace-period and reward rules
// live in the program; this package only encodes operations and decodes
// accounts.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/plan"
	"github.com/savelolabs/savelo/pkg/retry"
)

// RPC is the subset of the Solana RPC client the ledger uses. Satisfied by
// *rpc.Client; tests substitute a mock.
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
}

type Config struct {
	Logger    *slog.Logger
	RPC       RPC
	ProgramID solana.PublicKey

	// Wallet signs and pays for mutations. Read-only use may leave it zero,
	// in which case CreatePlan/PayToday fail.
	Wallet solana.PrivateKey

	Commitment solanarpc.CommitmentType
	Retry      retry.Config

	// ConfirmTimeout bounds how long a mutation waits for its signature to
	// be confirmed. Defaults to 60s.
	ConfirmTimeout time.Duration

	// ConfirmInterval is the signature-status polling interval. Defaults
	// to 500ms.
	ConfirmInterval time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	return nil
}

// Ledger talks to the Savelo program over Solana RPC.
type Ledger struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 500 * time.Millisecond
	}
	return &Ledger{log: cfg.Logger, cfg: cfg}, nil
}

func (l *Ledger) GetPlan(ctx context.Context, planID uint64) (*plan.Record, error) {
	addr, err := planAddress(l.cfg.ProgramID, planID)
	if err != nil {
		return nil, err
	}

	var out *solanarpc.GetAccountInfoResult
	err = retry.Do(ctx, l.cfg.Retry, func() error {
		var rpcErr error
		out, rpcErr = l.cfg.RPC.GetAccountInfoWithOpts(ctx, addr, &solanarpc.GetAccountInfoOpts{
			Commitment: l.cfg.Commitment,
		})
		return rpcErr
	})
	if errors.Is(err, solanarpc.ErrNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, &ledger.NetworkError{Op: "getPlan", Err: err}
	}
	if out.Value == nil {
		return nil, ledger.ErrNotFound
	}

	acc, err := decodePlanAccount(out.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("plan %d: %w", planID, err)
	}
	return acc.toRecord(planID), nil
}

func (l *Ledger) CreatePlan(ctx context.Context, params ledger.CreateParams) (*ledger.CreateResult, error) {
	if l.cfg.Wallet == nil {
		return nil, errors.New("no signing wallet configured")
	}
	signer := l.cfg.Wallet.PublicKey()
	if !strings.EqualFold(params.Owner, signer.String()) {
		return nil, ledger.NewValidationError("owner", "must match the configured wallet")
	}

	planID, err := l.nextPlanID(ctx)
	if err != nil {
		return nil, err
	}
	planAddr, err := planAddress(l.cfg.ProgramID, planID)
	if err != nil {
		return nil, err
	}
	counterAddr, err := counterAddress(l.cfg.ProgramID)
	if err != nil {
		return nil, err
	}

	data, err := encodeInstructionData(createPlanDiscriminator, createPlanArgs{
		DailyAmount:    params.DailyAmount,
		TotalDays:      params.TotalDays,
		PenaltyStake:   params.PenaltyStake,
		PenaltyPercent: params.PenaltyPercent,
	})
	if err != nil {
		return nil, err
	}

	ins := solana.NewInstruction(l.cfg.ProgramID, solana.AccountMetaSlice{
		solana.Meta(counterAddr).WRITE(),
		solana.Meta(planAddr).WRITE(),
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)

	sig, err := l.sendAndConfirm(ctx, ins)
	if err != nil {
		return nil, err
	}

	l.log.Info("create plan confirmed", "plan_id", planID, "signature", sig.String())
	return &ledger.CreateResult{PlanID: planID, Signature: sig.String()}, nil
}

func (l *Ledger) PayToday(ctx context.Context, planID uint64, amount uint64) (*ledger.PayResult, error) {
	if l.cfg.Wallet == nil {
		return nil, errors.New("no signing wallet configured")
	}
	signer := l.cfg.Wallet.PublicKey()

	planAddr, err := planAddress(l.cfg.ProgramID, planID)
	if err != nil {
		return nil, err
	}

	data, err := encodeInstructionData(payTodayDiscriminator, payTodayArgs{Amount: amount})
	if err != nil {
		return nil, err
	}

	ins := solana.NewInstruction(l.cfg.ProgramID, solana.AccountMetaSlice{
		solana.Meta(planAddr).WRITE(),
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data)

	sig, err := l.sendAndConfirm(ctx, ins)
	if err != nil {
		return nil, err
	}

	l.log.Info("pay today confirmed", "plan_id", planID, "signature", sig.String())
	return &ledger.PayResult{Signature: sig.String()}, nil
}

func (l *Ledger) nextPlanID(ctx context.Context) (uint64, error) {
	addr, err := counterAddress(l.cfg.ProgramID)
	if err != nil {
		return 0, err
	}

	var out *solanarpc.GetAccountInfoResult
	err = retry.Do(ctx, l.cfg.Retry, func() error {
		var rpcErr error
		out, rpcErr = l.cfg.RPC.GetAccountInfoWithOpts(ctx, addr, &solanarpc.GetAccountInfoOpts{
			Commitment: l.cfg.Commitment,
		})
		return rpcErr
	})
	if err != nil || out.Value == nil {
		return 0, &ledger.NetworkError{Op: "nextPlanID", Err: fmt.Errorf("program counter unavailable: %w", err)}
	}

	counter, err := decodeCounterAccount(out.Value.Data.GetBinary())
	if err != nil {
		return 0, err
	}
	return counter.NextPlanID, nil
}

func (l *Ledger) sendAndConfirm(ctx context.Context, ins solana.Instruction) (solana.Signature, error) {
	var blockhash *solanarpc.GetLatestBlockhashResult
	err := retry.Do(ctx, l.cfg.Retry, func() error {
		var rpcErr error
		blockhash, rpcErr = l.cfg.RPC.GetLatestBlockhash(ctx, l.cfg.Commitment)
		return rpcErr
	})
	if err != nil {
		return solana.Signature{}, &ledger.NetworkError{Op: "getLatestBlockhash", Err: err}
	}

	payer := l.cfg.Wallet.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ins},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &l.cfg.Wallet
		}
		return nil
	}); err != nil {
		// The wallet declining to produce a signature is the user saying no.
		return solana.Signature{}, fmt.Errorf("%w: %v", ledger.ErrRejected, err)
	}

	sig, err := l.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		PreflightCommitment: l.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, mapProgramError("sendTransaction", err)
	}

	if err := l.confirm(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// confirm polls signature statuses until the transaction is confirmed or the
// timeout elapses.
func (l *Ledger) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(l.cfg.ConfirmInterval)
	defer ticker.Stop()

	for {
		out, err := l.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return mapProgramError("transaction", fmt.Errorf("%v", status.Err))
			}
			switch status.ConfirmationStatus {
			case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		if err != nil {
			l.log.Debug("signature status poll failed", "signature", sig.String(), "error", err)
		}

		select {
		case <-ctx.Done():
			return &ledger.NetworkError{Op: "confirm", Err: fmt.Errorf("confirmation timed out: %w", ctx.Err())}
		case <-ticker.C:
		}
	}
}

// Anchor custom error codes the Savelo program raises.
const (
	programErrNotActive     = "0x1770" // 6000
	programErrInvalidAmount = "0x1771" // 6001
	programErrInvalidConfig = "0x1772" // 6002
)

// mapProgramError translates program and transport failures into the core's
// error taxonomy.
func mapProgramError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, programErrNotActive):
		return ledger.ErrNotActive
	case strings.Contains(msg, programErrInvalidAmount):
		return ledger.NewValidationError("amount", "rejected by the program")
	case strings.Contains(msg, programErrInvalidConfig):
		return ledger.NewValidationError("plan", "rejected by the program")
	default:
		return &ledger.NetworkError{Op: op, Err: err}
	}
}
