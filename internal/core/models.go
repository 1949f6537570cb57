package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueAny is the requested-venue sentinel for signals that may run on any configured venue.
const VenueAny = "MULTI"

// Side is the direction of a trade
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalStatus is the lifecycle state of a signal
type SignalStatus string

const (
	SignalPending  SignalStatus = "PENDING"
	SignalExecuted SignalStatus = "EXECUTED"
	SignalFailed   SignalStatus = "FAILED"
)

// Signal is a proposed trade produced by the generator
type Signal struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	TokenSymbol    string       `json:"token_symbol"`
	Side           Side         `json:"side"`
	Size           SizeModel    `json:"size_model"`
	Risk           RiskModel    `json:"risk_model"`
	Confidence     float64      `json:"confidence"`
	Reasoning      string       `json:"reasoning"`
	RequestedVenue string       `json:"requested_venue"`
	ResolvedVenue  string       `json:"resolved_venue,omitempty"`
	SourcePosts    []string     `json:"source_posts,omitempty"`
	SourceResearch []string     `json:"source_research,omitempty"`
	Bucket         int64        `json:"bucket"`
	Status         SignalStatus `json:"status"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	FinalizedAt    *time.Time   `json:"finalized_at,omitempty"`
}

// IsMultiVenue reports whether the signal needs venue resolution
func (s *Signal) IsMultiVenue() bool {
	return s.RequestedVenue == VenueAny
}

// EffectiveVenue returns the venue the signal trades on, or "" if it is still unresolved
func (s *Signal) EffectiveVenue() string {
	if s.ResolvedVenue != "" {
		return s.ResolvedVenue
	}
	if s.IsMultiVenue() {
		return ""
	}
	return s.RequestedVenue
}

// VenueCheck is one availability probe made during routing
type VenueCheck struct {
	Venue     string `json:"venue"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// RoutingDecision is the append-only audit record of one venue resolution
type RoutingDecision struct {
	ID            string        `json:"id"`
	SignalID      string        `json:"signal_id"`
	AgentID       string        `json:"agent_id"`
	TokenSymbol   string        `json:"token_symbol"`
	Checked       []VenueCheck  `json:"checked"`
	SelectedVenue string        `json:"selected_venue"`
	Reason        string        `json:"reason"`
	Latency       time.Duration `json:"latency"`
	CreatedAt     time.Time     `json:"created_at"`
}

// RoutingStrategy tags how the router walks the priority list
type RoutingStrategy string

const StrategyFirstAvailable RoutingStrategy = "FIRST_AVAILABLE"

// RoutingConfig is an ordered venue preference. AgentID is empty for the global row.
type RoutingConfig struct {
	AgentID         string          `json:"agent_id,omitempty"`
	VenuePriority   []string        `json:"venue_priority"`
	Strategy        RoutingStrategy `json:"strategy"`
	FailoverEnabled bool            `json:"failover_enabled"`
}

// SourceWeights balances the context sources when combining confidence
type SourceWeights struct {
	Social   float64 `json:"social"`
	Research float64 `json:"research"`
}

// AgentStatus is the lifecycle state of an agent
type AgentStatus string

const (
	AgentActive AgentStatus = "ACTIVE"
	AgentPaused AgentStatus = "PAUSED"
)

// Agent owns a signal stream. Venue is a concrete venue or VenueAny.
// ResearchSources names the research institutes whose items feed this agent;
// an agent with none takes no research context.
type Agent struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          AgentStatus   `json:"status"`
	Weights         SourceWeights `json:"weights"`
	Venue           string        `json:"venue"`
	ResearchSources []string      `json:"research_sources,omitempty"`
}

// DeploymentStatus is the state of a capital subscription
type DeploymentStatus string

const (
	DeploymentActive  DeploymentStatus = "ACTIVE"
	DeploymentPaused  DeploymentStatus = "PAUSED"
	DeploymentStopped DeploymentStatus = "STOPPED"
)

// Deployment subscribes one capital account to one agent
type Deployment struct {
	ID                 string            `json:"id"`
	AgentID            string            `json:"agent_id"`
	Status             DeploymentStatus  `json:"status"`
	SubscriptionActive bool              `json:"subscription_active"`
	Handles            map[string]string `json:"handles"`
}

// IsActive reports whether the deployment should receive trades
func (d *Deployment) IsActive() bool {
	return d.Status == DeploymentActive && d.SubscriptionActive
}

// Handle returns the execution handle for a venue
func (d *Deployment) Handle(venue string) (string, bool) {
	h, ok := d.Handles[venue]
	if !ok || h == "" {
		return "", false
	}
	return h, true
}

// PositionStatus is the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason explains why a position was closed
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
)

// Position is the trade opened for one (signal, deployment) pair
type Position struct {
	ID              string              `json:"id"`
	SignalID        string              `json:"signal_id"`
	DeploymentID    string              `json:"deployment_id"`
	AgentID         string              `json:"agent_id"`
	Venue           string              `json:"venue"`
	TokenSymbol     string              `json:"token_symbol"`
	Side            Side                `json:"side"`
	Quantity        decimal.Decimal     `json:"quantity"`
	EntryPrice      decimal.Decimal     `json:"entry_price"`
	StopLoss        decimal.NullDecimal `json:"stop_loss"`
	TakeProfit      decimal.NullDecimal `json:"take_profit"`
	TrailingPercent float64             `json:"trailing_percent"`
	TrailingActive  bool                `json:"trailing_active"`
	HighWater       decimal.Decimal     `json:"high_water"`
	LowWater        decimal.Decimal     `json:"low_water"`
	CurrentPrice    decimal.NullDecimal `json:"current_price"`
	LastPricedAt    *time.Time          `json:"last_priced_at,omitempty"`
	Status          PositionStatus      `json:"status"`
	ExitPrice       decimal.NullDecimal `json:"exit_price"`
	ExitReason      ExitReason          `json:"exit_reason,omitempty"`
	RealizedPnL     decimal.NullDecimal `json:"realized_pnl"`
	EntryTxRef      string              `json:"entry_tx_ref,omitempty"`
	ExitTxRef       string              `json:"exit_tx_ref,omitempty"`
	OpenedAt        time.Time           `json:"opened_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
}

// UnrealizedPnL returns the PnL of the position if it were closed at price
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// PositionMark is the per-tick observation written back by the monitor
type PositionMark struct {
	Price          decimal.Decimal
	HighWater      decimal.Decimal
	LowWater       decimal.Decimal
	TrailingActive bool
	At             time.Time
}

// PositionClose is the terminal update for a position
type PositionClose struct {
	ExitPrice   decimal.Decimal
	Reason      ExitReason
	RealizedPnL decimal.Decimal
	ExitTxRef   string
	At          time.Time
}

// AttemptOutcome is the result of one per-deployment execution
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "SUCCEEDED"
	AttemptFailed    AttemptOutcome = "FAILED"
	AttemptSkipped   AttemptOutcome = "SKIPPED"
)

// ExecutionAttempt records the outcome for one deployment of one signal
type ExecutionAttempt struct {
	ID           string         `json:"id"`
	SignalID     string         `json:"signal_id"`
	DeploymentID string         `json:"deployment_id"`
	Venue        string         `json:"venue"`
	Outcome      AttemptOutcome `json:"outcome"`
	FailureKind  string         `json:"failure_kind,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	PositionID   string         `json:"position_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SocialPost is a post attributed to an agent through its subscriptions
type SocialPost struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Tokens    []string  `json:"tokens"`
	PostedAt  time.Time `json:"posted_at"`
	Processed bool      `json:"processed"`
}

// ResearchSignal is the call made by a research item
type ResearchSignal string

const (
	ResearchBuy  ResearchSignal = "BUY"
	ResearchSell ResearchSignal = "SELL"
	ResearchHold ResearchSignal = "HOLD"
)

// ResearchItem is a third-party research call for a token
type ResearchItem struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	TokenSymbol string         `json:"token_symbol"`
	Signal      ResearchSignal `json:"signal"`
	Reasoning   string         `json:"reasoning"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ExternalMetrics is the per-token market/social snapshot used by the scorer
type ExternalMetrics struct {
	Symbol             string  `json:"symbol"`
	GalaxyScore        float64 `json:"galaxy_score"`
	AltRank            int     `json:"alt_rank"`
	SocialVolumeChange float64 `json:"social_volume_change"`
	Sentiment          float64 `json:"sentiment"`
	PriceChange24h     float64 `json:"price_change_24h"`
	Volatility         float64 `json:"volatility"`
	Price              float64 `json:"price"`
	Volume24h          float64 `json:"volume_24h"`
}

// MarketContext is the market view used to pick direction and risk. Sentiment is in [-1,1].
type MarketContext struct {
	TokenSymbol    string  `json:"token_symbol"`
	Price          float64 `json:"price"`
	PriceChange24h float64 `json:"price_change_24h"`
	Volume24h      float64 `json:"volume_24h"`
	Volatility     float64 `json:"volatility"`
	Sentiment      float64 `json:"sentiment"`
}

// Market is a tradable market listed by a venue
type Market struct {
	TokenSymbol string          `json:"token_symbol"`
	Active      bool            `json:"active"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	QtyDecimals int32           `json:"qty_decimals"`
}

// Availability is the answer to "can this venue trade this token now"
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// OrderRequest opens a position on a venue
type OrderRequest struct {
	ClientOrderID   string              `json:"client_order_id"`
	TokenSymbol     string              `json:"token_symbol"`
	Side            Side                `json:"side"`
	Quantity        decimal.Decimal     `json:"quantity"`
	StopLoss        decimal.NullDecimal `json:"stop_loss"`
	TakeProfit      decimal.NullDecimal `json:"take_profit"`
	TrailingPercent float64             `json:"trailing_percent,omitempty"`
}

// Fill is the venue's confirmation of an opening order
type Fill struct {
	FillPrice decimal.Decimal `json:"fill_price"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	TxRef     string          `json:"tx_ref"`
}

// CloseRequest closes a position on a venue
type CloseRequest struct {
	PositionID  string          `json:"position_id"`
	TokenSymbol string          `json:"token_symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// CloseResult is the venue's confirmation of a closing order
type CloseResult struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
	TxRef     string          `json:"tx_ref"`
}
