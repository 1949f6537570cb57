package store

import (
	"time"

	"github.com/shopspring/decimal"
)

type signalRow struct {
	ID             string `gorm:"primaryKey"`
	AgentID        string `gorm:"not null;uniqueIndex:idx_signals_slot,priority:1"`
	TokenSymbol    string `gorm:"not null;uniqueIndex:idx_signals_slot,priority:2"`
	Bucket         int64  `gorm:"not null;uniqueIndex:idx_signals_slot,priority:3"`
	Side           string `gorm:"not null"`
	SizeModel      string `gorm:"type:text;not null"`
	RiskModel      string `gorm:"type:text;not null"`
	Confidence     float64
	Reasoning      string
	RequestedVenue string `gorm:"not null"`
	ResolvedVenue  *string
	SourcePosts    string    `gorm:"type:text"`
	SourceResearch string    `gorm:"type:text"`
	Status         string    `gorm:"not null;index:idx_signals_status,priority:1"`
	FailureReason  string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index:idx_signals_status,priority:2"`
	FinalizedAt    *time.Time
}

func (signalRow) TableName() string { return "signals" }

type routingConfigRow struct {
	ID              uint    `gorm:"primaryKey"`
	AgentID         *string `gorm:"uniqueIndex"`
	VenuePriority   string  `gorm:"type:text;not null"`
	Strategy        string  `gorm:"not null"`
	FailoverEnabled bool
}

func (routingConfigRow) TableName() string { return "routing_configs" }

type routingDecisionRow struct {
	ID            string `gorm:"primaryKey"`
	SignalID      string `gorm:"index;not null"`
	AgentID       string
	TokenSymbol   string
	Checked       string `gorm:"type:text"`
	SelectedVenue string
	Reason        string `gorm:"type:text"`
	LatencyNS     int64
	CreatedAt     time.Time `gorm:"index"`
}

func (routingDecisionRow) TableName() string { return "routing_decisions" }

type agentRow struct {
	ID              string `gorm:"primaryKey"`
	Name            string
	Status          string
	SocialWeight    float64
	ResearchWeight  float64
	Venue           string
	ResearchSources string `gorm:"type:text;not null;default:'[]'"`
}

func (agentRow) TableName() string { return "agents" }

type deploymentRow struct {
	ID                 string `gorm:"primaryKey"`
	AgentID            string `gorm:"index;not null"`
	Status             string
	SubscriptionActive bool
	Handles            string `gorm:"type:text"`
}

func (deploymentRow) TableName() string { return "deployments" }

type positionRow struct {
	ID              string              `gorm:"primaryKey"`
	SignalID        string              `gorm:"not null;uniqueIndex:idx_positions_pair,priority:1"`
	DeploymentID    string              `gorm:"not null;uniqueIndex:idx_positions_pair,priority:2"`
	AgentID         string              `gorm:"not null"`
	Venue           string              `gorm:"not null;index:idx_positions_status,priority:2"`
	TokenSymbol     string              `gorm:"not null"`
	Side            string              `gorm:"not null"`
	Quantity        decimal.Decimal     `gorm:"type:numeric;not null"`
	EntryPrice      decimal.Decimal     `gorm:"type:numeric;not null"`
	StopLoss        decimal.NullDecimal `gorm:"type:numeric"`
	TakeProfit      decimal.NullDecimal `gorm:"type:numeric"`
	TrailingPercent float64
	TrailingActive  bool
	HighWater       decimal.Decimal     `gorm:"type:numeric"`
	LowWater        decimal.Decimal     `gorm:"type:numeric"`
	CurrentPrice    decimal.NullDecimal `gorm:"type:numeric"`
	LastPricedAt    *time.Time
	Status          string              `gorm:"not null;index:idx_positions_status,priority:1"`
	ExitPrice       decimal.NullDecimal `gorm:"type:numeric"`
	ExitReason      string
	RealizedPnL     decimal.NullDecimal `gorm:"type:numeric"`
	EntryTxRef      string
	ExitTxRef       string
	OpenedAt        time.Time `gorm:"not null"`
	ClosedAt        *time.Time
}

func (positionRow) TableName() string { return "positions" }

type executionAttemptRow struct {
	Seq          uint   `gorm:"primaryKey;autoIncrement"`
	ID           string `gorm:"uniqueIndex;not null"`
	SignalID     string `gorm:"index;not null"`
	DeploymentID string
	Venue        string
	Outcome      string
	FailureKind  string
	Reason       string `gorm:"type:text"`
	PositionID   string
	CreatedAt    time.Time
}

func (executionAttemptRow) TableName() string { return "execution_attempts" }

type socialPostRow struct {
	ID        string `gorm:"primaryKey"`
	AgentID   string `gorm:"index;not null"`
	Author    string
	Content   string    `gorm:"type:text"`
	PostedAt  time.Time `gorm:"index:idx_social_posts_unprocessed,priority:2"`
	Processed bool      `gorm:"index:idx_social_posts_unprocessed,priority:1"`
}

func (socialPostRow) TableName() string { return "social_posts" }

type socialPostTokenRow struct {
	PostID      string `gorm:"primaryKey"`
	TokenSymbol string `gorm:"primaryKey;index"`
}

func (socialPostTokenRow) TableName() string { return "social_post_tokens" }

type researchRow struct {
	ID          string `gorm:"primaryKey"`
	Source      string
	TokenSymbol string `gorm:"index:idx_research_token,priority:1;not null"`
	Signal      string
	Reasoning   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index:idx_research_token,priority:2"`
}

func (researchRow) TableName() string { return "research" }

func allModels() []interface{} {
	return []interface{}{
		&signalRow{}, &routingConfigRow{}, &routingDecisionRow{}, &agentRow{}, &deploymentRow{},
		&positionRow{}, &executionAttemptRow{}, &socialPostRow{}, &socialPostTokenRow{}, &researchRow{},
	}
}
