package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/mock"
)

const paperYAML = `
storage:
  driver: memory
venues:
  ostium:
    type: paper
    paper:
      balance: ${BOOTSTRAP_TEST_BALANCE}
      markets:
        - token: ETH
          price: 2000
          qty_decimals: 3
  hyperliquid:
    type: paper
    paper:
      balance: 10000
executor:
  enabled: true
monitor:
  enabled: true
server:
  allowed_origins: ["*"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func buildPaperApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("BOOTSTRAP_TEST_BALANCE", "10000")
	cfg, err := config.ParseConfig([]byte(paperYAML))
	require.NoError(t, err)
	cfg.Server.Port = 0

	app, err := Build(context.Background(), cfg, mock.NewLogger())
	require.NoError(t, err)
	return app
}

func TestLoadConfig_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BOOTSTRAP_TEST_BALANCE=4321\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BOOTSTRAP_TEST_BALANCE") })

	cfg, err := LoadConfig(writeConfig(t, paperYAML), envFile)
	require.NoError(t, err)
	assert.Equal(t, 4321.0, cfg.Venues["OSTIUM"].Paper.Balance)

	// A missing env file is not an error
	_, err = LoadConfig(writeConfig(t, paperYAML), filepath.Join(dir, "absent.env"))
	assert.NoError(t, err)
}

func TestLoadConfig_PreFlight(t *testing.T) {
	t.Setenv("BOOTSTRAP_TEST_BALANCE", "100")

	_, err := LoadConfig(writeConfig(t, paperYAML+"scoring:\n  enabled: true\n  base_url: http://localhost:9000\n"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.api_key")

	sqlite := `
storage:
  driver: sqlite
  sqlite_path: /definitely/not/here/trader.db
venues:
  ostium:
    type: paper
routing:
  default_priority: [OSTIUM]
`
	_, err = LoadConfig(writeConfig(t, sqlite), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.sqlite_path")
}

func TestBuild_WiresPipeline(t *testing.T) {
	app := buildPaperApp(t)
	defer app.Shutdown()

	assert.Nil(t, app.Durable)
	assert.Same(t, app.Trades, app.Executor())
	assert.Nil(t, app.GRPC)
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, app.Venues.Names())

	// executor, monitor and reporter pollers; generation is disabled
	assert.Len(t, app.pollers, 3)
	assert.Equal(t, []string{"health_reporter", "pipeline", "position_monitor", "store", "trade_executor"}, app.Health.Components())
	assert.True(t, app.Health.IsHealthy())
	assert.Len(t, app.Runners(), 5)
}

func TestBuild_ExecutesAndMonitorsSignals(t *testing.T) {
	ctx := context.Background()
	app := buildPaperApp(t)
	defer app.Shutdown()

	require.NoError(t, app.Store.SaveAgent(ctx, &core.Agent{
		ID: "agent-1", Name: "agent-1", Status: core.AgentActive, Venue: "OSTIUM",
	}))
	require.NoError(t, app.Store.SaveDeployment(ctx, &core.Deployment{
		ID:                 "dep-a",
		AgentID:            "agent-1",
		Status:             core.DeploymentActive,
		SubscriptionActive: true,
		Handles:            map[string]string{"OSTIUM": "0xaaa"},
	}))
	sig := &core.Signal{
		AgentID:        "agent-1",
		TokenSymbol:    "ETH",
		Side:           core.SideLong,
		Size:           core.PercentageOfBalance{Percent: 5},
		Risk:           core.TrailingStop{Stop: 0.05, TakeProfit: 0.1},
		Confidence:     0.8,
		RequestedVenue: "OSTIUM",
		Bucket:         1,
	}
	require.NoError(t, app.Store.CreateSignal(ctx, sig))

	done, err := app.Executor().ExecutePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)

	positions, err := app.Store.ListPositions(ctx, core.PositionFilter{Status: core.PositionOpen})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "0.25", positions[0].Quantity.String())

	report, err := app.Monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Closed)

	health, err := app.Reporter.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Positions.Open["OSTIUM"])
}

func TestRunContext_ShutsDownOnCancel(t *testing.T) {
	app := buildPaperApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}
