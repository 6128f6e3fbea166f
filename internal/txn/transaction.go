package txn

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

const (
	nativeDecimals = 18
	gweiDecimals   = 9
)

// Transaction is the canonical, display-unit view of a chain transaction.
// Values are copied on construction and never mutated afterwards.
type Transaction struct {
	Hash         string          `json:"hash"`
	From         string          `json:"from"`
	To           *string         `json:"to"`
	ValueNative  decimal.Decimal `json:"value"`
	GasPriceGwei decimal.Decimal `json:"gasPrice"`
	GasUsed      *uint64         `json:"gasUsed"`
	BlockNumber  uint64          `json:"blockNumber"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       Status          `json:"status"`
	RiskScore    float64         `json:"riskScore"`
}

// IsContractCreation reports whether the transaction has no destination.
func (t Transaction) IsContractCreation() bool {
	return t.To == nil
}

// ToAddress returns the destination or "" for contract creation.
func (t Transaction) ToAddress() string {
	if t.To == nil {
		return ""
	}
	return *t.To
}

// WithRiskScore returns a copy carrying the given score.
func (t Transaction) WithRiskScore(score float64) Transaction {
	t.RiskScore = score
	return t
}

// Raw is what the node hands us before normalization.
type Raw struct {
	Tx          *types.Transaction
	From        common.Address
	BlockNumber uint64
}

// Normalize converts raw node data into a Transaction. A nil receipt leaves
// the transaction pending with unknown gas used.
func Normalize(raw Raw, blockTime time.Time, receipt *types.Receipt) Transaction {
	tx := raw.Tx
	out := Transaction{
		Hash:         tx.Hash().Hex(),
		From:         strings.ToLower(raw.From.Hex()),
		ValueNative:  WeiToNative(tx.Value()),
		GasPriceGwei: WeiToGwei(tx.GasPrice()),
		BlockNumber:  raw.BlockNumber,
		Timestamp:    blockTime.UTC(),
		Status:       StatusPending,
	}
	if to := tx.To(); to != nil {
		addr := strings.ToLower(to.Hex())
		out.To = &addr
	}
	if receipt != nil {
		status := receipt.Status
		out.Status = ResolveStatus(&status)
		gasUsed := receipt.GasUsed
		out.GasUsed = &gasUsed
	}
	return out
}

// ResolveStatus maps a receipt status to a Status: 1 confirmed, 0 failed,
// nil pending.
func ResolveStatus(receiptStatus *uint64) Status {
	if receiptStatus == nil {
		return StatusPending
	}
	if *receiptStatus == types.ReceiptStatusSuccessful {
		return StatusConfirmed
	}
	return StatusFailed
}

// WeiToNative converts the smallest unit to whole native coins.
func WeiToNative(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals)
}

// WeiToGwei converts a wei gas price to gwei.
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -gweiDecimals)
}
