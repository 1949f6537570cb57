package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"signal_trader/internal/events"
	"signal_trader/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	name    string
	sendErr error
	mu      sync.Mutex
	sent    []Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, a)
	if c.sendErr != nil {
		return c.sendErr
	}
	return ctx.Err()
}

func (c *recordingChannel) alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.sent...)
}

func TestDispatcher_FansOutToEveryChannel(t *testing.T) {
	d := NewDispatcher(mock.NewLogger())
	ok := &recordingChannel{name: "ok"}
	down := &recordingChannel{name: "down", sendErr: errors.New("channel down")}
	d.AddChannel(ok)
	d.AddChannel(down)
	assert.Equal(t, 2, d.ChannelCount())

	assert.True(t, d.Raise(context.Background(), Alert{Severity: Info, Title: "hello", Message: "m"}))
	d.Wait()

	require.Len(t, ok.alerts(), 1)
	assert.Equal(t, "hello", ok.alerts()[0].Title)
	assert.False(t, ok.alerts()[0].RaisedAt.IsZero())
	assert.Len(t, down.alerts(), 1)
}

func TestDispatcher_CancelledCallerStillDelivers(t *testing.T) {
	d := NewDispatcher(mock.NewLogger())
	ch := &recordingChannel{name: "mock"}
	d.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Raise(ctx, Alert{Severity: Warning, Title: "late"})
	d.Wait()

	assert.Len(t, ch.alerts(), 1)
}

func TestDispatcher_Cooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewDispatcher(mock.NewLogger(), WithCooldown(time.Minute))
	d.now = func() time.Time { return now }
	ch := &recordingChannel{name: "mock"}
	d.AddChannel(ch)
	ctx := context.Background()

	assert.True(t, d.Raise(ctx, Alert{Title: "venue down", Key: "venue:OSTIUM"}))
	assert.False(t, d.Raise(ctx, Alert{Title: "venue down", Key: "venue:OSTIUM"}))
	assert.True(t, d.Raise(ctx, Alert{Title: "venue down", Key: "venue:HYPERLIQUID"}))

	now = now.Add(61 * time.Second)
	assert.True(t, d.Raise(ctx, Alert{Title: "venue down", Key: "venue:OSTIUM"}))
	d.Wait()
	assert.Len(t, ch.alerts(), 3)

	// Without a key the title groups repeats
	assert.True(t, d.Raise(ctx, Alert{Title: "no key"}))
	assert.False(t, d.Raise(ctx, Alert{Title: "no key"}))
	d.Wait()
}

func TestEventSink_AlertsOnFailuresOnly(t *testing.T) {
	d := NewDispatcher(mock.NewLogger())
	ch := &recordingChannel{name: "mock"}
	d.AddChannel(ch)
	sink := NewEventSink(d)
	ctx := context.Background()

	sink.Handle(ctx, events.Event{Type: events.SignalFinalized, Outcome: "EXECUTED"})
	sink.Handle(ctx, events.Event{Type: events.RoutingDecided, Venue: "OSTIUM"})
	sink.Handle(ctx, events.Event{Type: events.SignalFinalized, Outcome: "FAILED", SignalID: "s1", Reason: "NoActiveDeployments: no active deployments"})
	sink.Handle(ctx, events.Event{Type: events.PositionCloseFailed, PositionID: "p1", Venue: "OSTIUM"})
	// Same position again is inside the cooldown
	sink.Handle(ctx, events.Event{Type: events.PositionCloseFailed, PositionID: "p1", Venue: "OSTIUM"})
	d.Wait()

	sent := ch.alerts()
	require.Len(t, sent, 2)
	titles := []string{sent[0].Title, sent[1].Title}
	assert.ElementsMatch(t, []string{"Signal failed", "Position close failed"}, titles)
}

func TestSlackChannel_Send(t *testing.T) {
	var body slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Alert{
		Severity: Error,
		Title:    "t",
		Message:  "m",
		Fields:   map[string]string{"venue": "OSTIUM", "token": "ETH"},
	})
	require.NoError(t, err)

	require.Len(t, body.Attachments, 1)
	att := body.Attachments[0]
	assert.Equal(t, "#ff0000", att.Color)
	assert.Equal(t, "[ERROR] t", att.Pretext)
	require.Len(t, att.Fields, 2)
	assert.Equal(t, "token", att.Fields[0].Title)
}

func TestTelegramChannel_Send(t *testing.T) {
	var path string
	var body telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch := newTelegramChannel(srv.URL, "token123", "42")
	err := ch.Send(context.Background(), Alert{Severity: Warning, Title: "t", Message: "m", Fields: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)

	assert.Equal(t, "/bottoken123/sendMessage", path)
	assert.Equal(t, "42", body.ChatID)
	assert.Equal(t, "*[WARNING] t*\n\nm\n\n- *a*: 1\n- *b*: 2", body.Text)
}

func TestChannels_NoopWithoutCredentials(t *testing.T) {
	assert.NoError(t, NewSlackChannel("").Send(context.Background(), Alert{}))
	assert.NoError(t, NewTelegramChannel("", "").Send(context.Background(), Alert{}))
}
