package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	httpclient "signal_trader/pkg/http"
)

var severityColor = map[Severity]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color   string       `json:"color"`
	Pretext string       `json:"pretext"`
	Text    string       `json:"text"`
	Fields  []slackField `json:"fields,omitempty"`
	TS      int64        `json:"ts"`
	Footer  string       `json:"footer"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts to an incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *httpclient.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     httpclient.NewClientWithOptions(webhookURL, 5*time.Second, nil, httpclient.Options{Name: "slack", MaxRetries: 2}),
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, a Alert) error {
	if s.webhookURL == "" {
		return nil
	}
	if _, err := s.client.Post(ctx, "", slackMessage{Attachments: []slackAttachment{toAttachment(a)}}); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func toAttachment(a Alert) slackAttachment {
	att := slackAttachment{
		Color:   severityColor[a.Severity],
		Pretext: fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		Text:    a.Message,
		TS:      a.RaisedAt.Unix(),
		Footer:  "signal_trader",
	}
	if att.Color == "" {
		att.Color = severityColor[Info]
	}
	for _, k := range sortedKeys(a.Fields) {
		att.Fields = append(att.Fields, slackField{Title: k, Value: a.Fields[k], Short: true})
	}
	return att
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
