// Package signalgen turns social and research context into venue-agnostic trade signals.
//
// A candidate is one (agent, token) pair. The generator scores the agent's recent posts
// and the token's research calls, combines them with the agent's source weights and,
// when the combined confidence clears the threshold, persists one PENDING signal per
// (agent, token, time bucket).
package signalgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/scoring"
	apperrors "signal_trader/pkg/errors"
)

// Store is the persistence the generator reads and writes
type Store interface {
	core.IAgentStore
	core.IContextStore
	core.ISignalStore
}

// Config tunes generation
type Config struct {
	ConfidenceThreshold float64
	BucketDuration      time.Duration
	Lookback            time.Duration
	BatchSize           int
	// DefaultSizePercent is used when external metrics cannot be fetched
	DefaultSizePercent float64
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		BucketDuration:      6 * time.Hour,
		Lookback:            24 * time.Hour,
		BatchSize:           100,
		DefaultSizePercent:  5,
	}
}

const (
	postWeight = 0.2

	baseStop = 0.03
	maxStop  = 0.10

	minConfidenceSize = 10.0
	maxConfidenceSize = 50.0
)

// OutcomeKind names what happened to a candidate
type OutcomeKind string

const (
	OutcomeEmitted        OutcomeKind = "emitted"
	OutcomeDuplicate      OutcomeKind = "duplicate"
	OutcomeBelowThreshold OutcomeKind = "below_threshold"
	OutcomeNotTradeable   OutcomeKind = "not_tradeable"
	OutcomeExcluded       OutcomeKind = "excluded"
)

// Candidate is one (agent, token) pair to evaluate
type Candidate struct {
	AgentID string
	Token   string
}

// Outcome is the observable result of evaluating a candidate
type Outcome struct {
	Kind          OutcomeKind  `json:"kind"`
	AgentID       string       `json:"agent_id"`
	Token         string       `json:"token"`
	SocialScore   float64      `json:"social_score"`
	ResearchScore float64      `json:"research_score"`
	Confidence    float64      `json:"confidence"`
	Reason        string       `json:"reason,omitempty"`
	Signal        *core.Signal `json:"signal,omitempty"`
}

// CandidateError is a candidate that could not be evaluated
type CandidateError struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
	Error   string `json:"error"`
}

// BatchReport summarizes one GenerateBatch run
type BatchReport struct {
	PostsRead int              `json:"posts_read"`
	Outcomes  []*Outcome       `json:"outcomes"`
	Errors    []CandidateError `json:"errors,omitempty"`
}

// Count returns the number of outcomes of one kind
func (r *BatchReport) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Generator is safe for concurrent use
type Generator struct {
	store   Store
	scorer  *scoring.Scorer
	metrics core.IMetricsProvider
	market  core.IMarketContextProvider
	events  events.Publisher
	logger  core.ILogger
	cfg     Config
	now     func() time.Time
}

// NewGenerator creates a generator. With a nil scorer or metrics provider the size falls back
// to the confidence curve; with a nil market provider direction comes from the research balance.
func NewGenerator(
	store Store,
	scorer *scoring.Scorer,
	metrics core.IMetricsProvider,
	market core.IMarketContextProvider,
	pub events.Publisher,
	cfg Config,
	logger core.ILogger,
) *Generator {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.BucketDuration <= 0 {
		cfg.BucketDuration = def.BucketDuration
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DefaultSizePercent <= 0 {
		cfg.DefaultSizePercent = def.DefaultSizePercent
	}
	return &Generator{
		store:   store,
		scorer:  scorer,
		metrics: metrics,
		market:  market,
		events:  events.OrNop(pub),
		logger:  logger.WithField("component", "signal_generator"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Bucket returns the dedup window index of t
func (g *Generator) Bucket(t time.Time) int64 {
	return t.Unix() / int64(g.cfg.BucketDuration/time.Second)
}

// Generate evaluates one candidate. A missing agent or a failed market lookup is an error;
// every other result, including a duplicate, is reported as an Outcome.
func (g *Generator) Generate(ctx context.Context, c Candidate) (*Outcome, error) {
	token := NormalizeToken(c.Token)
	out := &Outcome{AgentID: c.AgentID, Token: token}

	if IsStablecoin(token) {
		out.Kind = OutcomeExcluded
		out.Reason = "stablecoin"
		g.publish(ctx, out)
		return out, nil
	}

	agent, err := g.store.GetAgent(ctx, c.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", c.AgentID, err)
	}
	if agent.Status != core.AgentActive {
		out.Kind = OutcomeExcluded
		out.Reason = "agent " + strings.ToLower(string(agent.Status))
		g.publish(ctx, out)
		return out, nil
	}

	now := g.now()
	since := now.Add(-g.cfg.Lookback)
	posts, err := g.store.ListRecentPosts(ctx, agent.ID, token, since)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	research, err := g.store.ListResearch(ctx, token, agent.ResearchSources, since)
	if err != nil {
		return nil, fmt.Errorf("load research: %w", err)
	}

	out.SocialScore = g.socialScore(posts, now)
	out.ResearchScore = researchScore(research)
	w := normalizeWeights(agent.Weights)
	out.Confidence = out.SocialScore*w.Social + out.ResearchScore*w.Research

	logger := g.logger.WithFields(map[string]interface{}{"agent_id": agent.ID, "token": token})
	logger.Debug("Scored candidate",
		"social", out.SocialScore,
		"research", out.ResearchScore,
		"combined", out.Confidence)

	if out.Confidence < g.cfg.ConfidenceThreshold {
		out.Kind = OutcomeBelowThreshold
		out.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", out.Confidence, g.cfg.ConfidenceThreshold)
		g.publish(ctx, out)
		return out, nil
	}

	mc, err := g.marketContext(ctx, token, research)
	if err != nil {
		return nil, fmt.Errorf("market context for %s: %w", token, err)
	}

	side := core.SideShort
	if mc.Sentiment > 0 {
		side = core.SideLong
	}

	size, scoreNote, tradeable := g.size(ctx, logger, token, out.Confidence)
	if !tradeable {
		out.Kind = OutcomeNotTradeable
		out.Reason = scoreNote
		g.publish(ctx, out)
		return out, nil
	}

	stop := math.Min(baseStop*(1+mc.Volatility*10), maxStop)
	sig := &core.Signal{
		AgentID:        agent.ID,
		TokenSymbol:    token,
		Side:           side,
		Size:           core.PercentageOfBalance{Percent: size},
		Risk:           core.TrailingStop{Stop: stop, TakeProfit: 2 * stop},
		Confidence:     out.Confidence,
		Reasoning:      reasoningText(side, token, out.Confidence, len(posts), len(research), mc.Sentiment, scoreNote),
		RequestedVenue: requestedVenue(agent),
		SourcePosts:    postIDs(posts),
		SourceResearch: researchIDs(research),
		Bucket:         g.Bucket(now),
		Status:         core.SignalPending,
		CreatedAt:      now,
	}

	if err := g.store.CreateSignal(ctx, sig); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateSignal) {
			out.Kind = OutcomeDuplicate
			out.Reason = fmt.Sprintf("signal already emitted for bucket %d", sig.Bucket)
			g.publish(ctx, out)
			return out, nil
		}
		return nil, fmt.Errorf("persist signal: %w", err)
	}

	out.Kind = OutcomeEmitted
	out.Signal = sig
	logger.Info("Signal emitted",
		"signal_id", sig.ID,
		"side", side,
		"size_percent", size,
		"confidence", out.Confidence,
		"requested_venue", sig.RequestedVenue)
	g.publish(ctx, out)
	return out, nil
}

// GenerateBatch reads a bounded batch of unprocessed posts, evaluates each (agent, token)
// group once and marks the group's posts processed. A failing group is reported and
// does not stop the batch.
func (g *Generator) GenerateBatch(ctx context.Context) (*BatchReport, error) {
	posts, err := g.store.ListUnprocessedPosts(ctx, g.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed posts: %w", err)
	}

	report := &BatchReport{PostsRead: len(posts), Outcomes: make([]*Outcome, 0)}
	groups, order := groupPosts(posts)

	for _, c := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := g.Generate(ctx, c)
		if err != nil {
			g.logger.Warn("Candidate skipped", "agent_id", c.AgentID, "token", c.Token, "error", err)
			report.Errors = append(report.Errors, CandidateError{AgentID: c.AgentID, Token: c.Token, Error: err.Error()})
			// A missing agent will never resolve, so its posts are consumed too
			if !errors.Is(err, apperrors.ErrAgentNotFound) {
				continue
			}
		} else {
			report.Outcomes = append(report.Outcomes, outcome)
		}

		if err := g.store.MarkPostsProcessed(ctx, groups[c]); err != nil {
			g.logger.Error("Failed to mark posts processed", "agent_id", c.AgentID, "token", c.Token, "error", err)
		}
	}

	// Posts without a token carry no candidate
	var orphaned []string
	for _, p := range posts {
		if len(p.Tokens) == 0 {
			orphaned = append(orphaned, p.ID)
		}
	}
	if len(orphaned) > 0 {
		if err := g.store.MarkPostsProcessed(ctx, orphaned); err != nil {
			g.logger.Error("Failed to mark posts processed", "error", err)
		}
	}

	g.logger.Info("Generation batch complete",
		"posts", report.PostsRead,
		"emitted", report.Count(OutcomeEmitted),
		"errors", len(report.Errors))
	return report, nil
}

// socialScore weights each post in the lookback window by its freshness
func (g *Generator) socialScore(posts []*core.SocialPost, now time.Time) float64 {
	score := 0.0
	for _, p := range posts {
		age := now.Sub(p.PostedAt)
		if age < 0 {
			age = 0
		}
		if age > g.cfg.Lookback {
			continue
		}
		freshness := 1 - float64(age)/float64(g.cfg.Lookback)
		score += postWeight * (0.5 + 0.5*freshness)
	}
	return math.Min(score, 1)
}

func researchScore(items []*core.ResearchItem) float64 {
	if len(items) == 0 {
		return 0
	}
	buys := 0
	for _, r := range items {
		if r.Signal == core.ResearchBuy {
			buys++
		}
	}
	return float64(buys) / float64(len(items))
}

func normalizeWeights(w core.SourceWeights) core.SourceWeights {
	if w.Social < 0 {
		w.Social = 0
	}
	if w.Research < 0 {
		w.Research = 0
	}
	sum := w.Social + w.Research
	if sum == 0 {
		return core.SourceWeights{Social: 0.5, Research: 0.5}
	}
	return core.SourceWeights{Social: w.Social / sum, Research: w.Research / sum}
}

func (g *Generator) marketContext(ctx context.Context, token string, research []*core.ResearchItem) (*core.MarketContext, error) {
	if g.market != nil {
		return g.market.GetMarketContext(ctx, token)
	}
	return researchMarketContext(token, research), nil
}

// researchMarketContext derives direction from the balance of BUY and SELL calls
func researchMarketContext(token string, research []*core.ResearchItem) *core.MarketContext {
	mc := &core.MarketContext{TokenSymbol: token}
	if len(research) == 0 {
		return mc
	}
	balance := 0
	for _, r := range research {
		switch r.Signal {
		case core.ResearchBuy:
			balance++
		case core.ResearchSell:
			balance--
		}
	}
	mc.Sentiment = float64(balance) / float64(len(research))
	return mc
}

// size returns the position size percent, a note for the reasoning text and whether
// the candidate is tradeable at all
func (g *Generator) size(ctx context.Context, logger core.ILogger, token string, confidence float64) (float64, string, bool) {
	if g.scorer == nil || g.metrics == nil {
		return confidenceSize(confidence), "", true
	}

	m, err := g.metrics.GetExternalMetrics(ctx, token)
	if err != nil {
		logger.Warn("External metrics unavailable, using default size",
			"error", err,
			"size_percent", g.cfg.DefaultSizePercent)
		return g.cfg.DefaultSizePercent, "", true
	}

	contextual := confidence
	res := g.scorer.Score(*m, &contextual)
	if !res.Tradeable || res.PositionSizePercent <= 0 {
		return 0, fmt.Sprintf("metric score %.2f: %s", res.Score, res.Reasoning), false
	}
	return res.PositionSizePercent, res.Reasoning, true
}

// confidenceSize maps confidence 0.6..1.0 onto 10..50 percent
func confidenceSize(confidence float64) float64 {
	normalized := (confidence - 0.6) / 0.4
	size := math.Round(minConfidenceSize + normalized*(maxConfidenceSize-minConfidenceSize))
	return math.Max(minConfidenceSize, math.Min(size, maxConfidenceSize))
}

func requestedVenue(a *core.Agent) string {
	if a.Venue == "" {
		return core.VenueAny
	}
	return strings.ToUpper(a.Venue)
}

func reasoningText(side core.Side, token string, confidence float64, posts, research int, sentiment float64, note string) string {
	mood := "bearish"
	if sentiment > 0 {
		mood = "bullish"
	}
	text := fmt.Sprintf("%s signal for %s with %.0f%% confidence. Based on %d social posts and %d research signals. Market sentiment: %s.",
		side, token, confidence*100, posts, research, mood)
	if note != "" {
		text += " Metrics: " + note + "."
	}
	return text
}

func postIDs(posts []*core.SocialPost) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func researchIDs(items []*core.ResearchItem) []string {
	ids := make([]string, 0, len(items))
	for _, r := range items {
		ids = append(ids, r.ID)
	}
	return ids
}

// groupPosts buckets posts by (agent, token); candidates are returned in a stable order
func groupPosts(posts []*core.SocialPost) (map[Candidate][]string, []Candidate) {
	groups := make(map[Candidate][]string)
	var order []Candidate
	for _, p := range posts {
		for _, t := range p.Tokens {
			c := Candidate{AgentID: p.AgentID, Token: NormalizeToken(t)}
			if c.Token == "" {
				continue
			}
			if _, ok := groups[c]; !ok {
				order = append(order, c)
			}
			groups[c] = append(groups[c], p.ID)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].AgentID != order[j].AgentID {
			return order[i].AgentID < order[j].AgentID
		}
		return order[i].Token < order[j].Token
	})
	return groups, order
}

func (g *Generator) publish(ctx context.Context, o *Outcome) {
	e := events.Event{
		Type:    events.SignalSkipped,
		AgentID: o.AgentID,
		Token:   o.Token,
		Outcome: string(o.Kind),
		Reason:  o.Reason,
		Data:    map[string]interface{}{"confidence": o.Confidence},
	}
	if o.Kind == OutcomeEmitted {
		e.Type = events.SignalEmitted
	}
	if o.Signal != nil {
		e.SignalID = o.Signal.ID
		e.Data["side"] = string(o.Signal.Side)
		e.Data["size_percent"] = core.SizePercent(o.Signal.Size)
		e.Data["requested_venue"] = o.Signal.RequestedVenue
	}
	g.events.Publish(ctx, e)
}
