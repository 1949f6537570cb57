package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal_trader/internal/core"
	apperrors "signal_trader/pkg/errors"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteStore persists the pipeline in a single SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Signals

const signalColumns = `id, agent_id, token_symbol, side, size_model, risk_model, confidence, reasoning,
	requested_venue, resolved_venue, source_posts, source_research, bucket, status, failure_reason,
	created_at, finalized_at`

func (s *SQLiteStore) CreateSignal(ctx context.Context, sig *core.Signal) error {
	sizeJSON, err := core.EncodeSizeModel(sig.Size)
	if err != nil {
		return err
	}
	riskJSON, err := core.EncodeRiskModel(sig.Risk)
	if err != nil {
		return err
	}

	sig.ID = newID(sig.ID)
	sig.TokenSymbol = normalizeToken(sig.TokenSymbol)
	if sig.Status == "" {
		sig.Status = core.SignalPending
	}
	sig.CreatedAt = nowIfZero(sig.CreatedAt)

	var resolved sql.NullString
	if sig.ResolvedVenue != "" {
		resolved = sql.NullString{String: sig.ResolvedVenue, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.AgentID, sig.TokenSymbol, string(sig.Side), string(sizeJSON), string(riskJSON),
		sig.Confidence, sig.Reasoning, sig.RequestedVenue, resolved,
		marshalStrings(sig.SourcePosts), marshalStrings(sig.SourceResearch), sig.Bucket,
		string(sig.Status), sig.FailureReason, toNanos(sig.CreatedAt), nullNanos(sig.FinalizedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrDuplicateSignal
		}
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

func scanSignal(row rowScanner) (*core.Signal, error) {
	var (
		sig                core.Signal
		side, status       string
		sizeJSON, riskJSON string
		resolved           sql.NullString
		posts, research    string
		createdAt          int64
		finalizedAt        sql.NullInt64
	)
	if err := row.Scan(&sig.ID, &sig.AgentID, &sig.TokenSymbol, &side, &sizeJSON, &riskJSON,
		&sig.Confidence, &sig.Reasoning, &sig.RequestedVenue, &resolved, &posts, &research,
		&sig.Bucket, &status, &sig.FailureReason, &createdAt, &finalizedAt); err != nil {
		return nil, err
	}

	size, err := core.DecodeSizeModel([]byte(sizeJSON))
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", sig.ID, err)
	}
	risk, err := core.DecodeRiskModel([]byte(riskJSON))
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", sig.ID, err)
	}

	sig.Side = core.Side(side)
	sig.Status = core.SignalStatus(status)
	sig.Size = size
	sig.Risk = risk
	sig.ResolvedVenue = resolved.String
	sig.SourcePosts = unmarshalStrings(posts)
	sig.SourceResearch = unmarshalStrings(research)
	sig.CreatedAt = fromNanos(createdAt)
	sig.FinalizedAt = timePtr(finalizedAt)
	return &sig, nil
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*core.Signal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSignalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}
	return sig, nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, f core.SignalFilter) ([]*core.Signal, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toNanos(f.Since))
	}

	query := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Status == core.SignalPending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id ASC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	out := make([]*core.Signal, 0)
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetResolvedVenue(ctx context.Context, id, venue string) (string, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET resolved_venue = ? WHERE id = ? AND resolved_venue IS NULL`, venue, id)
	if err != nil {
		return "", false, fmt.Errorf("failed to set resolved venue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to set resolved venue: %w", err)
	}
	if n == 1 {
		return venue, true, nil
	}

	var stored sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT resolved_venue FROM signals WHERE id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("%w: %s", apperrors.ErrSignalNotFound, id)
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read resolved venue: %w", err)
	}
	return stored.String, false, nil
}

func (s *SQLiteStore) FinalizeSignal(ctx context.Context, id string, status core.SignalStatus, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = ?, failure_reason = ?, finalized_at = ? WHERE id = ? AND status = ?`,
		string(status), reason, toNanos(time.Now()), id, string(core.SignalPending))
	if err != nil {
		return false, fmt.Errorf("failed to finalize signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetSignal(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Routing

func (s *SQLiteStore) GetRoutingConfig(ctx context.Context, agentID string) (*core.RoutingConfig, error) {
	var (
		agent    sql.NullString
		priority string
		strategy string
		failover int
	)
	err := s.db.QueryRowContext(ctx, `SELECT agent_id, venue_priority, strategy, failover_enabled
		FROM routing_configs WHERE agent_id = ? OR agent_id IS NULL
		ORDER BY agent_id IS NULL LIMIT 1`, agentID).Scan(&agent, &priority, &strategy, &failover)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("routing config %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}
	return &core.RoutingConfig{
		AgentID:         agent.String,
		VenuePriority:   unmarshalStrings(priority),
		Strategy:        core.RoutingStrategy(strategy),
		FailoverEnabled: failover != 0,
	}, nil
}

func (s *SQLiteStore) SaveRoutingConfig(ctx context.Context, c *core.RoutingConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var agent sql.NullString
	if c.AgentID != "" {
		agent = sql.NullString{String: c.AgentID, Valid: true}
		_, err = tx.ExecContext(ctx, `DELETE FROM routing_configs WHERE agent_id = ?`, c.AgentID)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM routing_configs WHERE agent_id IS NULL`)
	}
	if err != nil {
		return fmt.Errorf("failed to replace routing config: %w", err)
	}

	strategy := c.Strategy
	if strategy == "" {
		strategy = core.StrategyFirstAvailable
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO routing_configs (agent_id, venue_priority, strategy, failover_enabled)
		VALUES (?, ?, ?, ?)`, agent, marshalStrings(c.VenuePriority), string(strategy), boolInt(c.FailoverEnabled)); err != nil {
		return fmt.Errorf("failed to insert routing config: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendRoutingDecision(ctx context.Context, d *core.RoutingDecision) error {
	checked, err := json.Marshal(d.Checked)
	if err != nil {
		return fmt.Errorf("failed to marshal venue checks: %w", err)
	}
	d.ID = newID(d.ID)
	d.CreatedAt = nowIfZero(d.CreatedAt)

	_, err = s.db.ExecContext(ctx, `INSERT INTO routing_decisions
		(id, signal_id, agent_id, token_symbol, checked, selected_venue, reason, latency_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SignalID, d.AgentID, d.TokenSymbol, string(checked), d.SelectedVenue, d.Reason,
		int64(d.Latency), toNanos(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert routing decision: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRoutingDecisions(ctx context.Context, since time.Time, n int) ([]*core.RoutingDecision, error) {
	query := `SELECT id, signal_id, agent_id, token_symbol, checked, selected_venue, reason, latency_ns, created_at
		FROM routing_decisions WHERE created_at >= ? ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{toNanos(since)}
	if since.IsZero() {
		args[0] = int64(0)
	}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list routing decisions: %w", err)
	}
	defer rows.Close()

	out := make([]*core.RoutingDecision, 0)
	for rows.Next() {
		var (
			d         core.RoutingDecision
			checked   string
			latency   int64
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.SignalID, &d.AgentID, &d.TokenSymbol, &checked,
			&d.SelectedVenue, &d.Reason, &latency, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(checked), &d.Checked); err != nil {
			return nil, fmt.Errorf("routing decision %s: %w", d.ID, err)
		}
		d.Latency = time.Duration(latency)
		d.CreatedAt = fromNanos(createdAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Agents and deployments

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	var (
		a       core.Agent
		status  string
		sources string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, status, social_weight, research_weight, venue, research_sources
		FROM agents WHERE id = ?`, id).Scan(&a.ID, &a.Name, &status, &a.Weights.Social, &a.Weights.Research, &a.Venue, &sources)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent: %w", err)
	}
	a.Status = core.AgentStatus(status)
	if err := json.Unmarshal([]byte(sources), &a.ResearchSources); err != nil {
		return nil, fmt.Errorf("agent %s research sources: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, a *core.Agent) error {
	a.ID = newID(a.ID)
	sources, err := json.Marshal(nonNilStrings(a.ResearchSources))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents (id, name, status, social_weight, research_weight, venue, research_sources)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status,
			social_weight = excluded.social_weight, research_weight = excluded.research_weight, venue = excluded.venue,
			research_sources = excluded.research_sources`,
		a.ID, a.Name, string(a.Status), a.Weights.Social, a.Weights.Research, a.Venue, string(sources))
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func scanDeployment(row rowScanner) (*core.Deployment, error) {
	var (
		d       core.Deployment
		status  string
		active  int
		handles string
	)
	if err := row.Scan(&d.ID, &d.AgentID, &status, &active, &handles); err != nil {
		return nil, err
	}
	d.Status = core.DeploymentStatus(status)
	d.SubscriptionActive = active != 0
	d.Handles = make(map[string]string)
	if err := json.Unmarshal([]byte(handles), &d.Handles); err != nil {
		return nil, fmt.Errorf("deployment %s: %w", d.ID, err)
	}
	return &d, nil
}

func (s *SQLiteStore) ListActiveDeployments(ctx context.Context, agentID string) ([]*core.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, status, subscription_active, handles
		FROM deployments WHERE agent_id = ? AND status = ? AND subscription_active = 1 ORDER BY id`,
		agentID, string(core.DeploymentActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	out := make([]*core.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*core.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_id, status, subscription_active, handles
		FROM deployments WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) SaveDeployment(ctx context.Context, d *core.Deployment) error {
	handles, err := json.Marshal(d.Handles)
	if err != nil {
		return fmt.Errorf("failed to marshal handles: %w", err)
	}
	if d.Handles == nil {
		handles = []byte("{}")
	}
	d.ID = newID(d.ID)
	_, err = s.db.ExecContext(ctx, `INSERT INTO deployments (id, agent_id, status, subscription_active, handles)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agent_id = excluded.agent_id, status = excluded.status,
			subscription_active = excluded.subscription_active, handles = excluded.handles`,
		d.ID, d.AgentID, string(d.Status), boolInt(d.SubscriptionActive), string(handles))
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// Positions

const positionColumns = `id, signal_id, deployment_id, agent_id, venue, token_symbol, side, quantity, entry_price,
	stop_loss, take_profit, trailing_percent, trailing_active, high_water, low_water, current_price,
	last_priced_at, status, exit_price, exit_reason, realized_pnl, entry_tx_ref, exit_tx_ref, opened_at, closed_at`

func scanPosition(row rowScanner) (*core.Position, error) {
	var (
		p                    core.Position
		side, status, reason string
		trailingActive       int
		lastPriced, closedAt sql.NullInt64
		openedAt             int64
	)
	if err := row.Scan(&p.ID, &p.SignalID, &p.DeploymentID, &p.AgentID, &p.Venue, &p.TokenSymbol, &side,
		&p.Quantity, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.TrailingPercent, &trailingActive,
		&p.HighWater, &p.LowWater, &p.CurrentPrice, &lastPriced, &status, &p.ExitPrice, &reason,
		&p.RealizedPnL, &p.EntryTxRef, &p.ExitTxRef, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	p.Side = core.Side(side)
	p.Status = core.PositionStatus(status)
	p.ExitReason = core.ExitReason(reason)
	p.TrailingActive = trailingActive != 0
	p.LastPricedAt = timePtr(lastPriced)
	p.OpenedAt = fromNanos(openedAt)
	p.ClosedAt = timePtr(closedAt)
	return &p, nil
}

func (s *SQLiteStore) CreatePosition(ctx context.Context, p *core.Position) error {
	p.ID = newID(p.ID)
	if p.Status == "" {
		p.Status = core.PositionOpen
	}
	p.OpenedAt = nowIfZero(p.OpenedAt)

	_, err := s.db.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SignalID, p.DeploymentID, p.AgentID, p.Venue, p.TokenSymbol, string(p.Side),
		p.Quantity, p.EntryPrice, p.StopLoss, p.TakeProfit, p.TrailingPercent, boolInt(p.TrailingActive),
		p.HighWater, p.LowWater, p.CurrentPrice, nullNanos(p.LastPricedAt), string(p.Status),
		p.ExitPrice, string(p.ExitReason), p.RealizedPnL, p.EntryTxRef, p.ExitTxRef,
		toNanos(p.OpenedAt), nullNanos(p.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrPositionExists
		}
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*core.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPositionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindPosition(ctx context.Context, signalID, deploymentID string) (*core.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions
		WHERE signal_id = ? AND deployment_id = ?`, signalID, deploymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrPositionNotFound, signalID, deploymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, f core.PositionFilter) ([]*core.Position, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Venue != "" {
		where = append(where, "venue = ?")
		args = append(args, f.Venue)
	}
	if f.SignalID != "" {
		where = append(where, "signal_id = ?")
		args = append(args, f.SignalID)
	}

	query := `SELECT ` + positionColumns + ` FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY opened_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	out := make([]*core.Position, 0)
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdatePositionMark(ctx context.Context, id string, mark core.PositionMark) error {
	at := nowIfZero(mark.At)
	res, err := s.db.ExecContext(ctx, `UPDATE positions SET current_price = ?, high_water = ?, low_water = ?,
		trailing_active = ?, last_priced_at = ? WHERE id = ? AND status = ?`,
		mark.Price, mark.HighWater, mark.LowWater, boolInt(mark.TrailingActive), toNanos(at),
		id, string(core.PositionOpen))
	if err != nil {
		return fmt.Errorf("failed to update position mark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ClosePosition(ctx context.Context, id string, c core.PositionClose) (bool, error) {
	at := nowIfZero(c.At)
	res, err := s.db.ExecContext(ctx, `UPDATE positions SET status = ?, exit_price = ?, exit_reason = ?,
		realized_pnl = ?, exit_tx_ref = ?, closed_at = ? WHERE id = ? AND status = ?`,
		string(core.PositionClosed), decimal.NewNullDecimal(c.ExitPrice), string(c.Reason),
		decimal.NewNullDecimal(c.RealizedPnL), c.ExitTxRef, toNanos(at), id, string(core.PositionOpen))
	if err != nil {
		return false, fmt.Errorf("failed to close position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Execution log

func (s *SQLiteStore) AppendExecutionAttempt(ctx context.Context, a *core.ExecutionAttempt) error {
	a.ID = newID(a.ID)
	a.CreatedAt = nowIfZero(a.CreatedAt)
	_, err := s.db.ExecContext(ctx, `INSERT INTO execution_attempts
		(id, signal_id, deployment_id, venue, outcome, failure_kind, reason, position_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SignalID, a.DeploymentID, a.Venue, string(a.Outcome), a.FailureKind, a.Reason,
		a.PositionID, toNanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert execution attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExecutionAttempts(ctx context.Context, signalID string) ([]*core.ExecutionAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, signal_id, deployment_id, venue, outcome, failure_kind,
		reason, position_id, created_at FROM execution_attempts WHERE signal_id = ? ORDER BY created_at, rowid`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution attempts: %w", err)
	}
	defer rows.Close()

	out := make([]*core.ExecutionAttempt, 0)
	for rows.Next() {
		var (
			a         core.ExecutionAttempt
			outcome   string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.SignalID, &a.DeploymentID, &a.Venue, &outcome, &a.FailureKind,
			&a.Reason, &a.PositionID, &createdAt); err != nil {
			return nil, err
		}
		a.Outcome = core.AttemptOutcome(outcome)
		a.CreatedAt = fromNanos(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Context

func (s *SQLiteStore) queryPosts(ctx context.Context, query string, args ...interface{}) ([]*core.SocialPost, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	out := make([]*core.SocialPost, 0)
	byID := make(map[string]*core.SocialPost)
	for rows.Next() {
		var (
			p         core.SocialPost
			postedAt  int64
			processed int
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Author, &p.Content, &postedAt, &processed); err != nil {
			return nil, err
		}
		p.PostedAt = fromNanos(postedAt)
		p.Processed = processed != 0
		out = append(out, &p)
		byID[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(out)), ",")
	ids := make([]interface{}, 0, len(out))
	for _, p := range out {
		ids = append(ids, p.ID)
	}
	tokRows, err := s.db.QueryContext(ctx, `SELECT post_id, token_symbol FROM social_post_tokens
		WHERE post_id IN (`+placeholders+`) ORDER BY post_id, token_symbol`, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to list post tokens: %w", err)
	}
	defer tokRows.Close()
	for tokRows.Next() {
		var postID, token string
		if err := tokRows.Scan(&postID, &token); err != nil {
			return nil, err
		}
		if p, ok := byID[postID]; ok {
			p.Tokens = append(p.Tokens, token)
		}
	}
	return out, tokRows.Err()
}

func (s *SQLiteStore) ListUnprocessedPosts(ctx context.Context, n int) ([]*core.SocialPost, error) {
	query := `SELECT id, agent_id, author, content, posted_at, processed FROM social_posts
		WHERE processed = 0 ORDER BY posted_at, id`
	if n > 0 {
		return s.queryPosts(ctx, query+" LIMIT ?", n)
	}
	return s.queryPosts(ctx, query)
}

func (s *SQLiteStore) ListRecentPosts(ctx context.Context, agentID, token string, since time.Time) ([]*core.SocialPost, error) {
	return s.queryPosts(ctx, `SELECT p.id, p.agent_id, p.author, p.content, p.posted_at, p.processed
		FROM social_posts p JOIN social_post_tokens t ON t.post_id = p.id
		WHERE p.agent_id = ? AND t.token_symbol = ? AND p.posted_at >= ?
		ORDER BY p.posted_at, p.id`, agentID, normalizeToken(token), toNanos(since))
}

func (s *SQLiteStore) MarkPostsProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE social_posts SET processed = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark posts processed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SavePost(ctx context.Context, p *core.SocialPost) error {
	p.ID = newID(p.ID)
	p.Tokens = normalizeTokens(p.Tokens)
	p.PostedAt = nowIfZero(p.PostedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO social_posts (id, agent_id, author, content, posted_at, processed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agent_id = excluded.agent_id, author = excluded.author,
			content = excluded.content, posted_at = excluded.posted_at, processed = excluded.processed`,
		p.ID, p.AgentID, p.Author, p.Content, toNanos(p.PostedAt), boolInt(p.Processed)); err != nil {
		return fmt.Errorf("failed to save post: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM social_post_tokens WHERE post_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to reset post tokens: %w", err)
	}
	for _, token := range p.Tokens {
		if _, err := tx.ExecContext(ctx, `INSERT INTO social_post_tokens (post_id, token_symbol) VALUES (?, ?)`,
			p.ID, token); err != nil {
			return fmt.Errorf("failed to save post token: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListResearch(ctx context.Context, token string, sources []string, since time.Time) ([]*core.ResearchItem, error) {
	out := make([]*core.ResearchItem, 0)
	if len(sources) == 0 {
		return out, nil
	}
	args := []interface{}{normalizeToken(token), toNanos(since)}
	for _, src := range sources {
		args = append(args, src)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, token_symbol, signal, reasoning, created_at
		FROM research WHERE token_symbol = ? AND created_at >= ? AND source IN (`+placeholders+`)
		ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list research: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r         core.ResearchItem
			signal    string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.TokenSymbol, &signal, &r.Reasoning, &createdAt); err != nil {
			return nil, err
		}
		r.Signal = core.ResearchSignal(signal)
		r.CreatedAt = fromNanos(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveResearch(ctx context.Context, r *core.ResearchItem) error {
	r.ID = newID(r.ID)
	r.TokenSymbol = normalizeToken(r.TokenSymbol)
	r.CreatedAt = nowIfZero(r.CreatedAt)
	_, err := s.db.ExecContext(ctx, `INSERT INTO research (id, source, token_symbol, signal, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source = excluded.source, token_symbol = excluded.token_symbol,
			signal = excluded.signal, reasoning = excluded.reasoning, created_at = excluded.created_at`,
		r.ID, r.Source, r.TokenSymbol, string(r.Signal), r.Reasoning, toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save research: %w", err)
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
