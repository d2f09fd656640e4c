package models

import (
	"time"
)

// StakeStatus stake position lifecycle
type StakeStatus string

const (
	StakeStatusActive    StakeStatus = "active"
	StakeStatusWithdrawn StakeStatus = "withdrawn"
)

// BridgeDepositStatus bridge settlement lifecycle
type BridgeDepositStatus string

const (
	BridgeDepositObserved  BridgeDepositStatus = "observed"
	BridgeDepositVerified  BridgeDepositStatus = "verified"
	BridgeDepositSubmitted BridgeDepositStatus = "submitted"
	BridgeDepositMinted    BridgeDepositStatus = "minted"
	BridgeDepositRecorded  BridgeDepositStatus = "recorded"
	BridgeDepositRejected  BridgeDepositStatus = "rejected"
)

// TradeSide market trade direction
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Scar is an immutable burn record. Append-only per actor; the earliest scar
// by timestamp is the capacity baseline and is never rewritten.
type Scar struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Actor     string    `json:"actor" gorm:"index:idx_scar_actor;not null"`
	Amount    uint64    `json:"amount" gorm:"not null"` // lamports burned
	Timestamp int64     `json:"timestamp" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// StakePosition is a locked principal. One active position per actor;
// StartTime is immutable once set.
type StakePosition struct {
	ID          uint64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Actor       string      `json:"actor" gorm:"index:idx_stake_actor;not null"`
	Principal   uint64      `json:"principal" gorm:"not null"`
	StartTime   int64       `json:"start_time" gorm:"not null"`
	Status      StakeStatus `json:"status" gorm:"not null;default:'active'"`
	WithdrawnAt *time.Time  `json:"withdrawn_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ParticipantAttribute holds per-actor accumulated signals that are not
// derivable from scar/stake history (listening resonance).
type ParticipantAttribute struct {
	Actor     string    `json:"actor" gorm:"primaryKey"`
	Resonance uint64    `json:"resonance" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WithdrawalLedgerEntry is immutable once written; the rate-limit windows are
// reconstructed from these by timestamp comparison, entries are never deleted.
type WithdrawalLedgerEntry struct {
	ID        string    `json:"id" gorm:"primaryKey"` // UUID
	Actor     string    `json:"actor" gorm:"index:idx_withdrawal_actor;not null"`
	Amount    uint64    `json:"amount" gorm:"not null"`    // lamports authorized
	BurnCost  uint64    `json:"burn_cost" gorm:"not null"` // token base units burned
	Timestamp int64     `json:"timestamp" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// WithdrawDayCounter is the durable global daily counter (single row, ID=1).
type WithdrawDayCounter struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	DayStart  int64     `json:"day_start" gorm:"not null"`
	Total     uint64    `json:"total" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActorWithdrawState is the durable per-actor cooldown state.
type ActorWithdrawState struct {
	Actor            string    `json:"actor" gorm:"primaryKey"`
	LastWithdrawalAt int64     `json:"last_withdrawal_at" gorm:"not null"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProcessedSignature is the durable idempotency set of the bridge relay.
// Rows are appended after confirmed destination submission and never rolled back.
type ProcessedSignature struct {
	Signature   string    `json:"signature" gorm:"primaryKey"`
	Actor       string    `json:"actor" gorm:"not null"`
	Amount      uint64    `json:"amount" gorm:"not null"` // lamports observed
	DestTxHash  string    `json:"dest_tx_hash"`
	ProcessedAt time.Time `json:"processed_at"`
}

// BridgeDeposit is the settlement record for one observed source event.
type BridgeDeposit struct {
	ID           uint64              `json:"id" gorm:"primaryKey;autoIncrement"`
	Signature    string              `json:"signature" gorm:"uniqueIndex:idx_bridge_signature;not null"`
	Actor        string              `json:"actor" gorm:"index:idx_bridge_actor;not null"`
	SourceAmount uint64              `json:"source_amount" gorm:"not null"` // lamports
	DestAmount   uint64              `json:"dest_amount"`                   // token base units
	DestTxHash   string              `json:"dest_tx_hash"`
	Status       BridgeDepositStatus `json:"status" gorm:"not null"`
	ObservedAt   int64               `json:"observed_at" gorm:"not null"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// DeadLetterEvent is a source event that exhausted its retries. Operator-visible;
// rows stay until manually resolved.
type DeadLetterEvent struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Signature string    `json:"signature" gorm:"uniqueIndex:idx_deadletter_signature;not null"`
	Actor     string    `json:"actor" gorm:"not null"`
	Amount    uint64    `json:"amount" gorm:"not null"`
	Attempts  int       `json:"attempts" gorm:"not null"`
	LastError string    `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// CurveStateRecord is the durable bonding curve state (single row, ID=1).
// TotalSupply moves only on confirmed trade settlement.
type CurveStateRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	TotalSupply uint64    `json:"total_supply" gorm:"not null"`
	Slope       uint64    `json:"slope" gorm:"not null"`
	BasePrice   uint64    `json:"base_price" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TradeRecord feeds the volatility monitor; one row per settled trade.
type TradeRecord struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Side      TradeSide `json:"side" gorm:"not null"`
	Amount    uint64    `json:"amount" gorm:"not null"` // token base units
	Cost      uint64    `json:"cost" gorm:"not null"`   // lamports
	Supply    uint64    `json:"supply" gorm:"not null"` // supply after settlement
	Price     uint64    `json:"price" gorm:"not null"`  // spot price after settlement, PriceScale fixed point
	Timestamp int64     `json:"timestamp" gorm:"index:idx_trade_ts;not null"`
	CreatedAt time.Time `json:"created_at"`
}
