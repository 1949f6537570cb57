package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"
)

// MemoryStore is an in-process IStore for tests and dry runs
type MemoryStore struct {
	mu sync.RWMutex

	signals     map[string]*core.Signal
	signalSlots map[string]string
	configs     map[string]*core.RoutingConfig
	decisions   []*core.RoutingDecision
	agents      map[string]*core.Agent
	deployments map[string]*core.Deployment
	positions   map[string]*core.Position
	positionKey map[string]string
	attempts    []*core.ExecutionAttempt
	posts       map[string]*core.SocialPost
	research    map[string]*core.ResearchItem
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signals:     make(map[string]*core.Signal),
		signalSlots: make(map[string]string),
		configs:     make(map[string]*core.RoutingConfig),
		agents:      make(map[string]*core.Agent),
		deployments: make(map[string]*core.Deployment),
		positions:   make(map[string]*core.Position),
		positionKey: make(map[string]string),
		posts:       make(map[string]*core.SocialPost),
		research:    make(map[string]*core.ResearchItem),
	}
}

func slotKey(agentID, token string, bucket int64) string {
	return fmt.Sprintf("%s|%s|%d", agentID, token, bucket)
}

func pairKey(signalID, deploymentID string) string {
	return signalID + "|" + deploymentID
}

func (m *MemoryStore) CreateSignal(ctx context.Context, s *core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.TokenSymbol = normalizeToken(s.TokenSymbol)
	key := slotKey(s.AgentID, s.TokenSymbol, s.Bucket)
	if _, ok := m.signalSlots[key]; ok {
		return apperrors.ErrDuplicateSignal
	}
	s.ID = newID(s.ID)
	if s.Status == "" {
		s.Status = core.SignalPending
	}
	s.CreatedAt = nowIfZero(s.CreatedAt)

	m.signals[s.ID] = cloneSignal(s)
	m.signalSlots[key] = s.ID
	return nil
}

func (m *MemoryStore) GetSignal(ctx context.Context, id string) (*core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.signals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSignalNotFound, id)
	}
	return cloneSignal(s), nil
}

func (m *MemoryStore) ListSignals(ctx context.Context, f core.SignalFilter) ([]*core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.Signal, 0)
	for _, s := range m.signals {
		if matchSignal(s, f) {
			out = append(out, cloneSignal(s))
		}
	}
	sortSignals(out, f.Status == core.SignalPending)
	return limit(out, f.Limit), nil
}

func (m *MemoryStore) SetResolvedVenue(ctx context.Context, id, venue string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.signals[id]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", apperrors.ErrSignalNotFound, id)
	}
	if s.ResolvedVenue != "" {
		return s.ResolvedVenue, false, nil
	}
	s.ResolvedVenue = venue
	return venue, true, nil
}

func (m *MemoryStore) FinalizeSignal(ctx context.Context, id string, status core.SignalStatus, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.signals[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", apperrors.ErrSignalNotFound, id)
	}
	if s.Status != core.SignalPending {
		return false, nil
	}
	now := time.Now().UTC()
	s.Status = status
	s.FailureReason = reason
	s.FinalizedAt = &now
	return true, nil
}

func (m *MemoryStore) GetRoutingConfig(ctx context.Context, agentID string) (*core.RoutingConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if agentID != "" {
		if c, ok := m.configs[agentID]; ok {
			cp := *c
			cp.VenuePriority = cloneStrings(c.VenuePriority)
			return &cp, nil
		}
	}
	if c, ok := m.configs[""]; ok {
		cp := *c
		cp.VenuePriority = cloneStrings(c.VenuePriority)
		return &cp, nil
	}
	return nil, fmt.Errorf("routing config %w", apperrors.ErrNotFound)
}

func (m *MemoryStore) AppendRoutingDecision(ctx context.Context, d *core.RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.ID = newID(d.ID)
	d.CreatedAt = nowIfZero(d.CreatedAt)
	m.decisions = append(m.decisions, cloneDecision(d))
	return nil
}

func (m *MemoryStore) ListRoutingDecisions(ctx context.Context, since time.Time, n int) ([]*core.RoutingDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.RoutingDecision, 0)
	for i := len(m.decisions) - 1; i >= 0; i-- {
		d := m.decisions[i]
		if !since.IsZero() && d.CreatedAt.Before(since) {
			continue
		}
		out = append(out, cloneDecision(d))
	}
	return limit(out, n), nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	cp := *a
	cp.ResearchSources = slices.Clone(a.ResearchSources)
	return &cp, nil
}

func (m *MemoryStore) ListActiveDeployments(ctx context.Context, agentID string) ([]*core.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.Deployment, 0)
	for _, d := range m.deployments {
		if d.AgentID == agentID && d.IsActive() {
			out = append(out, cloneDeployment(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetDeployment(ctx context.Context, id string) (*core.Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deployments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeploymentNotFound, id)
	}
	return cloneDeployment(d), nil
}

func (m *MemoryStore) CreatePosition(ctx context.Context, p *core.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(p.SignalID, p.DeploymentID)
	if _, ok := m.positionKey[key]; ok {
		return apperrors.ErrPositionExists
	}
	p.ID = newID(p.ID)
	if p.Status == "" {
		p.Status = core.PositionOpen
	}
	p.OpenedAt = nowIfZero(p.OpenedAt)

	cp := *p
	m.positions[p.ID] = &cp
	m.positionKey[key] = p.ID
	return nil
}

func (m *MemoryStore) GetPosition(ctx context.Context, id string) (*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) FindPosition(ctx context.Context, signalID, deploymentID string) (*core.Position, error) {
	m.mu.RLock()
	id, ok := m.positionKey[pairKey(signalID, deploymentID)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrPositionNotFound, signalID, deploymentID)
	}
	return m.GetPosition(ctx, id)
}

func (m *MemoryStore) ListPositions(ctx context.Context, f core.PositionFilter) ([]*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.Position, 0)
	for _, p := range m.positions {
		if matchPosition(p, f) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return limit(out, f.Limit), nil
}

func (m *MemoryStore) UpdatePositionMark(ctx context.Context, id string, mark core.PositionMark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
	}
	if p.Status != core.PositionOpen {
		return nil
	}
	at := nowIfZero(mark.At)
	p.CurrentPrice.Decimal = mark.Price
	p.CurrentPrice.Valid = true
	p.HighWater = mark.HighWater
	p.LowWater = mark.LowWater
	p.TrailingActive = mark.TrailingActive
	p.LastPricedAt = &at
	return nil
}

func (m *MemoryStore) ClosePosition(ctx context.Context, id string, c core.PositionClose) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
	}
	if p.Status != core.PositionOpen {
		return false, nil
	}
	at := nowIfZero(c.At)
	p.Status = core.PositionClosed
	p.ExitPrice.Decimal, p.ExitPrice.Valid = c.ExitPrice, true
	p.RealizedPnL.Decimal, p.RealizedPnL.Valid = c.RealizedPnL, true
	p.ExitReason = c.Reason
	p.ExitTxRef = c.ExitTxRef
	p.ClosedAt = &at
	return true, nil
}

func (m *MemoryStore) AppendExecutionAttempt(ctx context.Context, a *core.ExecutionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = newID(a.ID)
	a.CreatedAt = nowIfZero(a.CreatedAt)
	cp := *a
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *MemoryStore) ListExecutionAttempts(ctx context.Context, signalID string) ([]*core.ExecutionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.ExecutionAttempt, 0)
	for _, a := range m.attempts {
		if a.SignalID == signalID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUnprocessedPosts(ctx context.Context, n int) ([]*core.SocialPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.SocialPost, 0)
	for _, p := range m.posts {
		if !p.Processed {
			out = append(out, clonePost(p))
		}
	}
	sortPosts(out)
	return limit(out, n), nil
}

func (m *MemoryStore) ListRecentPosts(ctx context.Context, agentID, token string, since time.Time) ([]*core.SocialPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token = normalizeToken(token)
	out := make([]*core.SocialPost, 0)
	for _, p := range m.posts {
		if p.AgentID == agentID && hasToken(p.Tokens, token) && !p.PostedAt.Before(since) {
			out = append(out, clonePost(p))
		}
	}
	sortPosts(out)
	return out, nil
}

func (m *MemoryStore) MarkPostsProcessed(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if p, ok := m.posts[id]; ok {
			p.Processed = true
		}
	}
	return nil
}

func (m *MemoryStore) ListResearch(ctx context.Context, token string, sources []string, since time.Time) ([]*core.ResearchItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	token = normalizeToken(token)
	out := make([]*core.ResearchItem, 0)
	for _, r := range m.research {
		if r.TokenSymbol == token && !r.CreatedAt.Before(since) && slices.Contains(sources, r.Source) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SaveAgent(ctx context.Context, a *core.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = newID(a.ID)
	cp := *a
	cp.ResearchSources = slices.Clone(a.ResearchSources)
	m.agents[a.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveDeployment(ctx context.Context, d *core.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.ID = newID(d.ID)
	m.deployments[d.ID] = cloneDeployment(d)
	return nil
}

func (m *MemoryStore) SaveRoutingConfig(ctx context.Context, c *core.RoutingConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	cp.VenuePriority = cloneStrings(c.VenuePriority)
	m.configs[c.AgentID] = &cp
	return nil
}

func (m *MemoryStore) SavePost(ctx context.Context, p *core.SocialPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = newID(p.ID)
	p.Tokens = normalizeTokens(p.Tokens)
	p.PostedAt = nowIfZero(p.PostedAt)
	m.posts[p.ID] = clonePost(p)
	return nil
}

func (m *MemoryStore) SaveResearch(ctx context.Context, r *core.ResearchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = newID(r.ID)
	r.TokenSymbol = normalizeToken(r.TokenSymbol)
	r.CreatedAt = nowIfZero(r.CreatedAt)
	cp := *r
	m.research[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortPosts(out []*core.SocialPost) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
}
