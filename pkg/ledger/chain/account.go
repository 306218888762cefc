package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/savelolabs/savelo/pkg/plan"
)

// Anchor-style 8-byte discriminators prefix every account and instruction.
var (
	planAccountDiscriminator    = accountDiscriminator("Plan")
	counterAccountDiscriminator = accountDiscriminator("Counter")

	createPlanDiscriminator = instructionDiscriminator("create_plan")
	payTodayDiscriminator   = instructionDiscriminator("pay_today")
)

func accountDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("account:" + name))
	return h[:8]
}

func instructionDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

// planAccount is the on-chain plan record layout.
type planAccount struct {
	Owner       solana.PublicKey
	DailyAmount uint64
	TotalDays   uint32
	StartTime   int64
	CurrentDay  uint32
	MissedDays  uint32
	IsActive    bool
	IsCompleted bool
	IsFailed    bool
}

// counterAccount holds the id the program will assign to the next plan.
type counterAccount struct {
	NextPlanID uint64
}

type createPlanArgs struct {
	DailyAmount    uint64
	TotalDays      uint32
	PenaltyStake   uint64
	PenaltyPercent uint8
}

type payTodayArgs struct {
	Amount uint64
}

func decodePlanAccount(data []byte) (*planAccount, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], planAccountDiscriminator) {
		return nil, fmt.Errorf("account is not a plan account")
	}
	var acc planAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acc); err != nil {
		return nil, fmt.Errorf("failed to decode plan account: %w", err)
	}
	return &acc, nil
}

func decodeCounterAccount(data []byte) (*counterAccount, error) {
	if len(data) < 8 || !bytes.Equal(data[:8], counterAccountDiscriminator) {
		return nil, fmt.Errorf("account is not a counter account")
	}
	var acc counterAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acc); err != nil {
		return nil, fmt.Errorf("failed to decode counter account: %w", err)
	}
	return &acc, nil
}

func encodeInstructionData(discriminator []byte, args any) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator)
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode instruction args: %w", err)
	}
	return buf.Bytes(), nil
}

// planAddress derives the plan PDA for a plan id.
func planAddress(programID solana.PublicKey, planID uint64) (solana.PublicKey, error) {
	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, planID)
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("plan"), idBytes}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive plan address: %w", err)
	}
	return addr, nil
}

// counterAddress derives the program's plan-counter PDA.
func counterAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("counter")}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive counter address: %w", err)
	}
	return addr, nil
}

// toRecord maps the on-chain layout to the core's record type.
func (acc *planAccount) toRecord(planID uint64) *plan.Record {
	return &plan.Record{
		ID:          planID,
		Owner:       acc.Owner.String(),
		DailyAmount: acc.DailyAmount,
		TotalDays:   acc.TotalDays,
		StartTime:   acc.StartTime,
		CurrentDay:  acc.CurrentDay,
		MissedDays:  acc.MissedDays,
		IsActive:    acc.IsActive,
		IsCompleted: acc.IsCompleted,
		IsFailed:    acc.IsFailed,
	}
}
