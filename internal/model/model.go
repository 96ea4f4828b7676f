// Package model defines the domain and wire types shared by the replay
// engine, the verification service, the store and the HTTP API.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionType is the kind of a trade action.
type ActionType string

const (
	ActionBuy   ActionType = "buy"
	ActionSell  ActionType = "sell"
	ActionShort ActionType = "short"
	ActionCover ActionType = "cover"
)

// Valid reports whether t is one of the four action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionBuy, ActionSell, ActionShort, ActionCover:
		return true
	}
	return false
}

// TradeAction is one client-submitted instruction. It carries no price: the
// fill price always comes from the replayed market.
type TradeAction struct {
	Tick         uint32           `json:"tick"`
	Type         ActionType       `json:"type"`
	InstrumentID uint32           `json:"instrumentId"`
	Quantity     int64            `json:"quantity"`
	LimitPrice   *decimal.Decimal `json:"limitPrice,omitempty"`
}

// TradeLog is an immutable, ordered session log bound to a trusted seed.
type TradeLog struct {
	SeasonID string        `json:"seasonId"`
	UserID   string        `json:"userId"`
	Seed     string        `json:"-"`
	Actions  []TradeAction `json:"tradeLog"`
}

// Bind pins the submission's actions to the user and seed they are replayed
// under. The actions are copied, so later edits to s do not reach the log.
func (s Submission) Bind(userID, seed string) TradeLog {
	return TradeLog{
		SeasonID: s.SeasonID,
		UserID:   userID,
		Seed:     seed,
		Actions:  append([]TradeAction(nil), s.TradeLog...),
	}
}

// RejectionReason explains why an action was skipped during replay.
type RejectionReason string

const (
	RejectInsufficientCash     RejectionReason = "INSUFFICIENT_CASH"
	RejectInsufficientQuantity RejectionReason = "INSUFFICIENT_QUANTITY"
	RejectMarginShortfall      RejectionReason = "MARGIN_SHORTFALL"
	RejectUnknownInstrument    RejectionReason = "UNKNOWN_INSTRUMENT"
	RejectLimitNotMet          RejectionReason = "LIMIT_NOT_MET"
	RejectInvalidAction        RejectionReason = "INVALID_ACTION"
)

// RejectedAction is an action the replayed state could not honour.
type RejectedAction struct {
	Index  int             `json:"index"`
	Action TradeAction     `json:"action"`
	Reason RejectionReason `json:"reason"`
	Price  decimal.Decimal `json:"price"`
}

// Position is the holding in one instrument at the end of a replay. Long and
// short legs are tracked separately.
type Position struct {
	InstrumentID  uint32          `json:"instrumentId"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avgCost"`
	ShortQuantity int64           `json:"shortQuantity,omitempty"`
	ShortEntry    decimal.Decimal `json:"shortEntry,omitempty"`
	Collateral    decimal.Decimal `json:"collateral,omitempty"`
	MarkPrice     decimal.Decimal `json:"markPrice"`
}

// ReplayResult is the authoritative outcome of a session replay.
type ReplayResult struct {
	FinalCash       decimal.Decimal     `json:"finalCash"`
	FinalPortfolio  map[uint32]Position `json:"finalPortfolio"`
	PortfolioValue  decimal.Decimal     `json:"portfolioValue"`
	FinalProfitRate decimal.Decimal     `json:"finalProfitRate"`
	Score           decimal.Decimal     `json:"score"`
	FeesPaid        decimal.Decimal     `json:"feesPaid"`
	InterestPaid    decimal.Decimal     `json:"interestPaid"`
	DrawCount       uint64              `json:"drawCount"`
	TicksSimulated  uint32              `json:"ticksSimulated"`
	TotalTrades     int                 `json:"totalTrades"`
	WinRate         decimal.Decimal     `json:"winRate"`
	RejectedActions []RejectedAction    `json:"rejectedActions"`
}

// Season is a bounded competitive period.
type Season struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	StartsAt time.Time `json:"startsAt" db:"starts_at"`
	EndsAt   time.Time `json:"endsAt" db:"ends_at"`
}

// Ended reports whether the season is over at now.
func (s Season) Ended(now time.Time) bool {
	return !now.Before(s.EndsAt)
}

// SeedRecord is the server-issued seed for one (season, user).
type SeedRecord struct {
	SeasonID string    `json:"seasonId" db:"season_id"`
	UserID   string    `json:"userId" db:"user_id"`
	Seed     string    `json:"seed" db:"seed"`
	IssuedAt time.Time `json:"issuedAt" db:"issued_at"`
}

// LeaderboardEntry is a user's best verified result in a season.
type LeaderboardEntry struct {
	SeasonID       string          `json:"seasonId" db:"season_id"`
	UserID         string          `json:"userId" db:"user_id"`
	Score          decimal.Decimal `json:"score" db:"score"`
	ProfitRate     decimal.Decimal `json:"profitRate" db:"profit_rate"`
	PortfolioValue decimal.Decimal `json:"portfolioValue" db:"portfolio_value"`
	WinRate        decimal.Decimal `json:"winRate" db:"win_rate"`
	TotalTrades    int             `json:"totalTrades" db:"total_trades"`
	SubmissionID   string          `json:"submissionId" db:"submission_id"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// SnapshotEntry is one ranked row of a materialized leaderboard.
type SnapshotEntry struct {
	UserID         string          `json:"userId"`
	Score          decimal.Decimal `json:"score"`
	ProfitRate     decimal.Decimal `json:"profitRate"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	WinRate        decimal.Decimal `json:"winRate"`
	TotalTrades    int             `json:"totalTrades"`
	Rank           int64           `json:"rank"`
}

// Snapshot is the periodically materialized top-N view of a season.
type Snapshot struct {
	SeasonID          string          `json:"seasonId"`
	Entries           []SnapshotEntry `json:"entries"`
	TotalParticipants int64           `json:"totalParticipants"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Submission is the client payload for POST /submissions.
type Submission struct {
	SeasonID          string          `json:"seasonId"`
	TradeLog          []TradeAction   `json:"tradeLog"`
	EngineVersion     string          `json:"engineVersion"`
	LogicHash         string          `json:"logicHash,omitempty"`
	ClaimedScore      decimal.Decimal `json:"claimedScore"`
	ClaimedProfitRate decimal.Decimal `json:"claimedProfitRate"`
	DrawCount         *uint64         `json:"drawCount,omitempty"`
}

// VerificationResponse is returned for every submission, accepted or not.
type VerificationResponse struct {
	Success        bool             `json:"success"`
	SubmissionID   string           `json:"submissionId,omitempty"`
	Rank           *int64           `json:"rank,omitempty"`
	Score          *decimal.Decimal `json:"score,omitempty"`
	IsNewHighScore *bool            `json:"isNewHighScore,omitempty"`
	PortfolioValue *decimal.Decimal `json:"portfolioValue,omitempty"`
	ErrorCode      string           `json:"errorCode,omitempty"`
	Message        string           `json:"message,omitempty"`
	Retryable      bool             `json:"retryable,omitempty"`
}
