package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for PostgreSQL.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

// PostgresStore persists the pipeline in PostgreSQL through gorm
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the schema
func NewPostgresStore(opt PostgresOption) (*PostgresStore, error) {
	config := opt.Config
	if config == nil {
		config = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	}

	db, err := gorm.Open(postgres.Open(opt.dsn()), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, sentinel error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}

// Signals

func toSignalRow(sig *core.Signal) (*signalRow, error) {
	size, err := core.EncodeSizeModel(sig.Size)
	if err != nil {
		return nil, err
	}
	risk, err := core.EncodeRiskModel(sig.Risk)
	if err != nil {
		return nil, err
	}
	row := &signalRow{
		ID:             sig.ID,
		AgentID:        sig.AgentID,
		TokenSymbol:    sig.TokenSymbol,
		Bucket:         sig.Bucket,
		Side:           string(sig.Side),
		SizeModel:      string(size),
		RiskModel:      string(risk),
		Confidence:     sig.Confidence,
		Reasoning:      sig.Reasoning,
		RequestedVenue: sig.RequestedVenue,
		SourcePosts:    marshalStrings(sig.SourcePosts),
		SourceResearch: marshalStrings(sig.SourceResearch),
		Status:         string(sig.Status),
		FailureReason:  sig.FailureReason,
		CreatedAt:      sig.CreatedAt,
		FinalizedAt:    sig.FinalizedAt,
	}
	if sig.ResolvedVenue != "" {
		v := sig.ResolvedVenue
		row.ResolvedVenue = &v
	}
	return row, nil
}

func (r *signalRow) toCore() (*core.Signal, error) {
	size, err := core.DecodeSizeModel([]byte(r.SizeModel))
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", r.ID, err)
	}
	risk, err := core.DecodeRiskModel([]byte(r.RiskModel))
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", r.ID, err)
	}
	sig := &core.Signal{
		ID:             r.ID,
		AgentID:        r.AgentID,
		TokenSymbol:    r.TokenSymbol,
		Side:           core.Side(r.Side),
		Size:           size,
		Risk:           risk,
		Confidence:     r.Confidence,
		Reasoning:      r.Reasoning,
		RequestedVenue: r.RequestedVenue,
		SourcePosts:    unmarshalStrings(r.SourcePosts),
		SourceResearch: unmarshalStrings(r.SourceResearch),
		Bucket:         r.Bucket,
		Status:         core.SignalStatus(r.Status),
		FailureReason:  r.FailureReason,
		CreatedAt:      r.CreatedAt.UTC(),
		FinalizedAt:    r.FinalizedAt,
	}
	if r.ResolvedVenue != nil {
		sig.ResolvedVenue = *r.ResolvedVenue
	}
	return sig, nil
}

func (s *PostgresStore) CreateSignal(ctx context.Context, sig *core.Signal) error {
	sig.ID = newID(sig.ID)
	sig.TokenSymbol = normalizeToken(sig.TokenSymbol)
	if sig.Status == "" {
		sig.Status = core.SignalPending
	}
	sig.CreatedAt = nowIfZero(sig.CreatedAt)

	row, err := toSignalRow(sig)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert signal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrDuplicateSignal
	}
	return nil
}

func (s *PostgresStore) GetSignal(ctx context.Context, id string) (*core.Signal, error) {
	var row signalRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, apperrors.ErrSignalNotFound, id)
	}
	return row.toCore()
}

func (s *PostgresStore) ListSignals(ctx context.Context, f core.SignalFilter) ([]*core.Signal, error) {
	q := s.db.WithContext(ctx).Model(&signalRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.Status == core.SignalPending {
		q = q.Order("created_at ASC").Order("id ASC")
	} else {
		q = q.Order("created_at DESC").Order("id ASC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []signalRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	out := make([]*core.Signal, 0, len(rows))
	for i := range rows {
		sig, err := rows[i].toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (s *PostgresStore) SetResolvedVenue(ctx context.Context, id, venue string) (string, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&signalRow{}).
		Where("id = ? AND resolved_venue IS NULL", id).
		Update("resolved_venue", venue)
	if res.Error != nil {
		return "", false, fmt.Errorf("failed to set resolved venue: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return venue, true, nil
	}

	var row signalRow
	if err := db.Select("id", "resolved_venue").Where("id = ?", id).First(&row).Error; err != nil {
		return "", false, notFound(err, apperrors.ErrSignalNotFound, id)
	}
	if row.ResolvedVenue == nil {
		return "", false, nil
	}
	return *row.ResolvedVenue, false, nil
}

func (s *PostgresStore) FinalizeSignal(ctx context.Context, id string, status core.SignalStatus, reason string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&signalRow{}).
		Where("id = ? AND status = ?", id, string(core.SignalPending)).
		Updates(map[string]interface{}{
			"status":         string(status),
			"failure_reason": reason,
			"finalized_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to finalize signal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSignal(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Routing

func (s *PostgresStore) GetRoutingConfig(ctx context.Context, agentID string) (*core.RoutingConfig, error) {
	var row routingConfigRow
	err := s.db.WithContext(ctx).
		Where("agent_id = ? OR agent_id IS NULL", agentID).
		Order("agent_id IS NULL").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("routing config %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}
	cfg := &core.RoutingConfig{
		VenuePriority:   unmarshalStrings(row.VenuePriority),
		Strategy:        core.RoutingStrategy(row.Strategy),
		FailoverEnabled: row.FailoverEnabled,
	}
	if row.AgentID != nil {
		cfg.AgentID = *row.AgentID
	}
	return cfg, nil
}

func (s *PostgresStore) SaveRoutingConfig(ctx context.Context, c *core.RoutingConfig) error {
	strategy := c.Strategy
	if strategy == "" {
		strategy = core.StrategyFirstAvailable
	}
	row := &routingConfigRow{
		VenuePriority:   marshalStrings(c.VenuePriority),
		Strategy:        string(strategy),
		FailoverEnabled: c.FailoverEnabled,
	}
	if c.AgentID != "" {
		agent := c.AgentID
		row.AgentID = &agent
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("agent_id IS NULL")
		if row.AgentID != nil {
			del = tx.Where("agent_id = ?", *row.AgentID)
		}
		if err := del.Delete(&routingConfigRow{}).Error; err != nil {
			return fmt.Errorf("failed to replace routing config: %w", err)
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to insert routing config: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AppendRoutingDecision(ctx context.Context, d *core.RoutingDecision) error {
	checked, err := json.Marshal(d.Checked)
	if err != nil {
		return fmt.Errorf("failed to marshal venue checks: %w", err)
	}
	d.ID = newID(d.ID)
	d.CreatedAt = nowIfZero(d.CreatedAt)

	row := &routingDecisionRow{
		ID:            d.ID,
		SignalID:      d.SignalID,
		AgentID:       d.AgentID,
		TokenSymbol:   d.TokenSymbol,
		Checked:       string(checked),
		SelectedVenue: d.SelectedVenue,
		Reason:        d.Reason,
		LatencyNS:     int64(d.Latency),
		CreatedAt:     d.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert routing decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRoutingDecisions(ctx context.Context, since time.Time, n int) ([]*core.RoutingDecision, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if n > 0 {
		q = q.Limit(n)
	}

	var rows []routingDecisionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list routing decisions: %w", err)
	}
	out := make([]*core.RoutingDecision, 0, len(rows))
	for _, r := range rows {
		d := &core.RoutingDecision{
			ID:            r.ID,
			SignalID:      r.SignalID,
			AgentID:       r.AgentID,
			TokenSymbol:   r.TokenSymbol,
			SelectedVenue: r.SelectedVenue,
			Reason:        r.Reason,
			Latency:       time.Duration(r.LatencyNS),
			CreatedAt:     r.CreatedAt.UTC(),
		}
		if err := json.Unmarshal([]byte(r.Checked), &d.Checked); err != nil {
			return nil, fmt.Errorf("routing decision %s: %w", r.ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Agents and deployments

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, apperrors.ErrAgentNotFound, id)
	}
	a := &core.Agent{
		ID:      row.ID,
		Name:    row.Name,
		Status:  core.AgentStatus(row.Status),
		Weights: core.SourceWeights{Social: row.SocialWeight, Research: row.ResearchWeight},
		Venue:   row.Venue,
	}
	if row.ResearchSources != "" {
		if err := json.Unmarshal([]byte(row.ResearchSources), &a.ResearchSources); err != nil {
			return nil, fmt.Errorf("agent %s research sources: %w", id, err)
		}
	}
	return a, nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a *core.Agent) error {
	a.ID = newID(a.ID)
	sources, err := json.Marshal(nonNilStrings(a.ResearchSources))
	if err != nil {
		return err
	}
	row := &agentRow{
		ID:              a.ID,
		Name:            a.Name,
		Status:          string(a.Status),
		SocialWeight:    a.Weights.Social,
		ResearchWeight:  a.Weights.Research,
		Venue:           a.Venue,
		ResearchSources: string(sources),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (r *deploymentRow) toCore() (*core.Deployment, error) {
	d := &core.Deployment{
		ID:                 r.ID,
		AgentID:            r.AgentID,
		Status:             core.DeploymentStatus(r.Status),
		SubscriptionActive: r.SubscriptionActive,
		Handles:            make(map[string]string),
	}
	if r.Handles != "" {
		if err := json.Unmarshal([]byte(r.Handles), &d.Handles); err != nil {
			return nil, fmt.Errorf("deployment %s: %w", r.ID, err)
		}
	}
	return d, nil
}

func (s *PostgresStore) ListActiveDeployments(ctx context.Context, agentID string) ([]*core.Deployment, error) {
	var rows []deploymentRow
	if err := s.db.WithContext(ctx).
		Where("agent_id = ? AND status = ? AND subscription_active", agentID, string(core.DeploymentActive)).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	out := make([]*core.Deployment, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id string) (*core.Deployment, error) {
	var row deploymentRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, apperrors.ErrDeploymentNotFound, id)
	}
	return row.toCore()
}

func (s *PostgresStore) SaveDeployment(ctx context.Context, d *core.Deployment) error {
	handles := []byte("{}")
	if d.Handles != nil {
		var err error
		if handles, err = json.Marshal(d.Handles); err != nil {
			return fmt.Errorf("failed to marshal handles: %w", err)
		}
	}
	d.ID = newID(d.ID)
	row := &deploymentRow{
		ID:                 d.ID,
		AgentID:            d.AgentID,
		Status:             string(d.Status),
		SubscriptionActive: d.SubscriptionActive,
		Handles:            string(handles),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// Positions

func toPositionRow(p *core.Position) *positionRow {
	return &positionRow{
		ID:              p.ID,
		SignalID:        p.SignalID,
		DeploymentID:    p.DeploymentID,
		AgentID:         p.AgentID,
		Venue:           p.Venue,
		TokenSymbol:     p.TokenSymbol,
		Side:            string(p.Side),
		Quantity:        p.Quantity,
		EntryPrice:      p.EntryPrice,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		TrailingPercent: p.TrailingPercent,
		TrailingActive:  p.TrailingActive,
		HighWater:       p.HighWater,
		LowWater:        p.LowWater,
		CurrentPrice:    p.CurrentPrice,
		LastPricedAt:    p.LastPricedAt,
		Status:          string(p.Status),
		ExitPrice:       p.ExitPrice,
		ExitReason:      string(p.ExitReason),
		RealizedPnL:     p.RealizedPnL,
		EntryTxRef:      p.EntryTxRef,
		ExitTxRef:       p.ExitTxRef,
		OpenedAt:        p.OpenedAt,
		ClosedAt:        p.ClosedAt,
	}
}

func (r *positionRow) toCore() *core.Position {
	return &core.Position{
		ID:              r.ID,
		SignalID:        r.SignalID,
		DeploymentID:    r.DeploymentID,
		AgentID:         r.AgentID,
		Venue:           r.Venue,
		TokenSymbol:     r.TokenSymbol,
		Side:            core.Side(r.Side),
		Quantity:        r.Quantity,
		EntryPrice:      r.EntryPrice,
		StopLoss:        r.StopLoss,
		TakeProfit:      r.TakeProfit,
		TrailingPercent: r.TrailingPercent,
		TrailingActive:  r.TrailingActive,
		HighWater:       r.HighWater,
		LowWater:        r.LowWater,
		CurrentPrice:    r.CurrentPrice,
		LastPricedAt:    r.LastPricedAt,
		Status:          core.PositionStatus(r.Status),
		ExitPrice:       r.ExitPrice,
		ExitReason:      core.ExitReason(r.ExitReason),
		RealizedPnL:     r.RealizedPnL,
		EntryTxRef:      r.EntryTxRef,
		ExitTxRef:       r.ExitTxRef,
		OpenedAt:        r.OpenedAt.UTC(),
		ClosedAt:        r.ClosedAt,
	}
}

func (s *PostgresStore) CreatePosition(ctx context.Context, p *core.Position) error {
	p.ID = newID(p.ID)
	if p.Status == "" {
		p.Status = core.PositionOpen
	}
	p.OpenedAt = nowIfZero(p.OpenedAt)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(toPositionRow(p))
	if res.Error != nil {
		return fmt.Errorf("failed to insert position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrPositionExists
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*core.Position, error) {
	var row positionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, apperrors.ErrPositionNotFound, id)
	}
	return row.toCore(), nil
}

func (s *PostgresStore) FindPosition(ctx context.Context, signalID, deploymentID string) (*core.Position, error) {
	var row positionRow
	if err := s.db.WithContext(ctx).
		Where("signal_id = ? AND deployment_id = ?", signalID, deploymentID).
		First(&row).Error; err != nil {
		return nil, notFound(err, apperrors.ErrPositionNotFound, signalID+"/"+deploymentID)
	}
	return row.toCore(), nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, f core.PositionFilter) ([]*core.Position, error) {
	q := s.db.WithContext(ctx).Model(&positionRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Venue != "" {
		q = q.Where("venue = ?", f.Venue)
	}
	if f.SignalID != "" {
		q = q.Where("signal_id = ?", f.SignalID)
	}
	q = q.Order("opened_at ASC").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []positionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	out := make([]*core.Position, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toCore())
	}
	return out, nil
}

func (s *PostgresStore) UpdatePositionMark(ctx context.Context, id string, mark core.PositionMark) error {
	res := s.db.WithContext(ctx).Model(&positionRow{}).
		Where("id = ? AND status = ?", id, string(core.PositionOpen)).
		Updates(map[string]interface{}{
			"current_price":   decimal.NewNullDecimal(mark.Price),
			"high_water":      mark.HighWater,
			"low_water":       mark.LowWater,
			"trailing_active": mark.TrailingActive,
			"last_priced_at":  nowIfZero(mark.At),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update position mark: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ClosePosition(ctx context.Context, id string, c core.PositionClose) (bool, error) {
	res := s.db.WithContext(ctx).Model(&positionRow{}).
		Where("id = ? AND status = ?", id, string(core.PositionOpen)).
		Updates(map[string]interface{}{
			"status":       string(core.PositionClosed),
			"exit_price":   decimal.NewNullDecimal(c.ExitPrice),
			"exit_reason":  string(c.Reason),
			"realized_pnl": decimal.NewNullDecimal(c.RealizedPnL),
			"exit_tx_ref":  c.ExitTxRef,
			"closed_at":    nowIfZero(c.At),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to close position: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Execution log

func (s *PostgresStore) AppendExecutionAttempt(ctx context.Context, a *core.ExecutionAttempt) error {
	a.ID = newID(a.ID)
	a.CreatedAt = nowIfZero(a.CreatedAt)
	row := &executionAttemptRow{
		ID:           a.ID,
		SignalID:     a.SignalID,
		DeploymentID: a.DeploymentID,
		Venue:        a.Venue,
		Outcome:      string(a.Outcome),
		FailureKind:  a.FailureKind,
		Reason:       a.Reason,
		PositionID:   a.PositionID,
		CreatedAt:    a.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert execution attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExecutionAttempts(ctx context.Context, signalID string) ([]*core.ExecutionAttempt, error) {
	var rows []executionAttemptRow
	if err := s.db.WithContext(ctx).Where("signal_id = ?", signalID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list execution attempts: %w", err)
	}
	out := make([]*core.ExecutionAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, &core.ExecutionAttempt{
			ID:           r.ID,
			SignalID:     r.SignalID,
			DeploymentID: r.DeploymentID,
			Venue:        r.Venue,
			Outcome:      core.AttemptOutcome(r.Outcome),
			FailureKind:  r.FailureKind,
			Reason:       r.Reason,
			PositionID:   r.PositionID,
			CreatedAt:    r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// Context

func (s *PostgresStore) attachTokens(ctx context.Context, rows []socialPostRow) ([]*core.SocialPost, error) {
	out := make([]*core.SocialPost, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(rows))
	byID := make(map[string]*core.SocialPost, len(rows))
	for _, r := range rows {
		p := &core.SocialPost{
			ID:        r.ID,
			AgentID:   r.AgentID,
			Author:    r.Author,
			Content:   r.Content,
			PostedAt:  r.PostedAt.UTC(),
			Processed: r.Processed,
		}
		out = append(out, p)
		byID[r.ID] = p
		ids = append(ids, r.ID)
	}

	var tokens []socialPostTokenRow
	if err := s.db.WithContext(ctx).Where("post_id IN ?", ids).
		Order("post_id").Order("token_symbol").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("failed to list post tokens: %w", err)
	}
	for _, t := range tokens {
		if p, ok := byID[t.PostID]; ok {
			p.Tokens = append(p.Tokens, t.TokenSymbol)
		}
	}
	return out, nil
}

func (s *PostgresStore) ListUnprocessedPosts(ctx context.Context, n int) ([]*core.SocialPost, error) {
	q := s.db.WithContext(ctx).Where("processed = ?", false).Order("posted_at").Order("id")
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []socialPostRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return s.attachTokens(ctx, rows)
}

func (s *PostgresStore) ListRecentPosts(ctx context.Context, agentID, token string, since time.Time) ([]*core.SocialPost, error) {
	var rows []socialPostRow
	if err := s.db.WithContext(ctx).
		Joins("JOIN social_post_tokens t ON t.post_id = social_posts.id").
		Where("social_posts.agent_id = ? AND t.token_symbol = ? AND social_posts.posted_at >= ?",
			agentID, normalizeToken(token), since).
		Order("social_posts.posted_at").Order("social_posts.id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return s.attachTokens(ctx, rows)
}

func (s *PostgresStore) MarkPostsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&socialPostRow{}).
		Where("id IN ?", ids).Update("processed", true).Error; err != nil {
		return fmt.Errorf("failed to mark posts processed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SavePost(ctx context.Context, p *core.SocialPost) error {
	p.ID = newID(p.ID)
	p.Tokens = normalizeTokens(p.Tokens)
	p.PostedAt = nowIfZero(p.PostedAt)

	row := &socialPostRow{
		ID:        p.ID,
		AgentID:   p.AgentID,
		Author:    p.Author,
		Content:   p.Content,
		PostedAt:  p.PostedAt,
		Processed: p.Processed,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return fmt.Errorf("failed to save post: %w", err)
		}
		if err := tx.Where("post_id = ?", p.ID).Delete(&socialPostTokenRow{}).Error; err != nil {
			return fmt.Errorf("failed to reset post tokens: %w", err)
		}
		if len(p.Tokens) == 0 {
			return nil
		}
		tokens := make([]socialPostTokenRow, 0, len(p.Tokens))
		for _, t := range p.Tokens {
			tokens = append(tokens, socialPostTokenRow{PostID: p.ID, TokenSymbol: t})
		}
		if err := tx.Create(&tokens).Error; err != nil {
			return fmt.Errorf("failed to save post tokens: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListResearch(ctx context.Context, token string, sources []string, since time.Time) ([]*core.ResearchItem, error) {
	if len(sources) == 0 {
		return []*core.ResearchItem{}, nil
	}
	var rows []researchRow
	if err := s.db.WithContext(ctx).
		Where("token_symbol = ? AND created_at >= ? AND source IN ?", normalizeToken(token), since, sources).
		Order("created_at").Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list research: %w", err)
	}
	out := make([]*core.ResearchItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, &core.ResearchItem{
			ID:          r.ID,
			Source:      r.Source,
			TokenSymbol: r.TokenSymbol,
			Signal:      core.ResearchSignal(r.Signal),
			Reasoning:   r.Reasoning,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *PostgresStore) SaveResearch(ctx context.Context, r *core.ResearchItem) error {
	r.ID = newID(r.ID)
	r.TokenSymbol = normalizeToken(r.TokenSymbol)
	r.CreatedAt = nowIfZero(r.CreatedAt)
	row := &researchRow{
		ID:          r.ID,
		Source:      r.Source,
		TokenSymbol: r.TokenSymbol,
		Signal:      string(r.Signal),
		Reasoning:   r.Reasoning,
		CreatedAt:   r.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}
