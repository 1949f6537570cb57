// Package core defines the domain model and ports of the signal trading pipeline
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IVenue is the narrow execution capability of one trading venue.
// CheckAvailability must only return an error for infrastructure failures;
// an unlisted token is reported as Availability{Available: false}.
type IVenue interface {
	Name() string
	CheckAvailability(ctx context.Context, token string) (Availability, error)
	ListMarkets(ctx context.Context) ([]Market, error)
	GetMarkPrice(ctx context.Context, token string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, handle string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, handle string, req OrderRequest) (*Fill, error)
	ClosePosition(ctx context.Context, handle string, req CloseRequest) (*CloseResult, error)
}

// IVenueRegistry resolves venue names to venues
type IVenueRegistry interface {
	Get(name string) (IVenue, error)
	Names() []string
}

// IMetricsProvider fetches external per-token metrics
type IMetricsProvider interface {
	GetExternalMetrics(ctx context.Context, token string) (*ExternalMetrics, error)
}

// IMarketContextProvider fetches the current market view of a token
type IMarketContextProvider interface {
	GetMarketContext(ctx context.Context, token string) (*MarketContext, error)
}

// SignalFilter narrows signal queries. Zero values mean "any".
type SignalFilter struct {
	Status  SignalStatus
	AgentID string
	Since   time.Time
	Limit   int
}

// PositionFilter narrows position queries. Zero values mean "any".
type PositionFilter struct {
	Status   PositionStatus
	Venue    string
	SignalID string
	Limit    int
}

// ISignalStore persists signals. All mutations are single-row conditional updates.
type ISignalStore interface {
	// CreateSignal returns ErrDuplicateSignal if the (agent, token, bucket) slot is taken
	CreateSignal(ctx context.Context, s *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	ListSignals(ctx context.Context, f SignalFilter) ([]*Signal, error)
	// SetResolvedVenue sets the venue only if none is set. It returns the stored winner
	// and whether this call was the one that set it.
	SetResolvedVenue(ctx context.Context, id, venue string) (string, bool, error)
	// FinalizeSignal moves a PENDING signal to a terminal status; false if it was not PENDING
	FinalizeSignal(ctx context.Context, id string, status SignalStatus, reason string) (bool, error)
}

// IRoutingStore holds routing configuration and the routing audit log
type IRoutingStore interface {
	// GetRoutingConfig returns the agent row, else the global row, else ErrNotFound
	GetRoutingConfig(ctx context.Context, agentID string) (*RoutingConfig, error)
	AppendRoutingDecision(ctx context.Context, d *RoutingDecision) error
	ListRoutingDecisions(ctx context.Context, since time.Time, limit int) ([]*RoutingDecision, error)
}

// IAgentStore reads agents
type IAgentStore interface {
	GetAgent(ctx context.Context, id string) (*Agent, error)
}

// IDeploymentStore reads deployments
type IDeploymentStore interface {
	ListActiveDeployments(ctx context.Context, agentID string) ([]*Deployment, error)
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
}

// IPositionStore persists positions
type IPositionStore interface {
	// CreatePosition returns ErrPositionExists if the (signal, deployment) pair already has one
	CreatePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	FindPosition(ctx context.Context, signalID, deploymentID string) (*Position, error)
	ListPositions(ctx context.Context, f PositionFilter) ([]*Position, error)
	UpdatePositionMark(ctx context.Context, id string, mark PositionMark) error
	// ClosePosition closes an OPEN position; false if it was already closed
	ClosePosition(ctx context.Context, id string, c PositionClose) (bool, error)
}

// IExecutionLog records per-deployment execution outcomes
type IExecutionLog interface {
	AppendExecutionAttempt(ctx context.Context, a *ExecutionAttempt) error
	ListExecutionAttempts(ctx context.Context, signalID string) ([]*ExecutionAttempt, error)
}

// IContextStore reads the social and research context feeding the generator
type IContextStore interface {
	ListUnprocessedPosts(ctx context.Context, limit int) ([]*SocialPost, error)
	ListRecentPosts(ctx context.Context, agentID, token string, since time.Time) ([]*SocialPost, error)
	MarkPostsProcessed(ctx context.Context, ids []string) error
	// ListResearch returns token research from the given sources only
	ListResearch(ctx context.Context, token string, sources []string, since time.Time) ([]*ResearchItem, error)
}

// ISeedStore writes the externally owned entities (agents, deployments, configs, context)
type ISeedStore interface {
	SaveAgent(ctx context.Context, a *Agent) error
	SaveDeployment(ctx context.Context, d *Deployment) error
	SaveRoutingConfig(ctx context.Context, c *RoutingConfig) error
	SavePost(ctx context.Context, p *SocialPost) error
	SaveResearch(ctx context.Context, r *ResearchItem) error
}

// IStore is the full persistence port
type IStore interface {
	ISignalStore
	IRoutingStore
	IAgentStore
	IDeploymentStore
	IPositionStore
	IExecutionLog
	IContextStore
	ISeedStore
	Close() error
}

// IHealthMonitor aggregates component health checks
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
