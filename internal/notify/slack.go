package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/johndauphine/chxfer/internal/config"
)

const footer = "chxfer"

// Notifier sends notifications to a Slack-compatible webhook
type Notifier struct {
	config     *config.NotifyConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new notifier
func New(cfg *config.NotifyConfig) *Notifier {
	if cfg == nil {
		cfg = &config.NotifyConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// TransferStarted sends notification when a transfer starts
func (n *Notifier) TransferStarted(handle, direction, table, file string) error {
	if !n.IsEnabled() || !n.config.NotifyStart {
		return nil
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#439fe0", // blue
				Title: "Transfer Started",
				Fields: []SlackField{
					{Title: "Handle", Value: handle, Short: true},
					{Title: "Direction", Value: direction, Short: true},
					{Title: "Table", Value: table, Short: true},
					{Title: "File", Value: file, Short: true},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	})
}

// TransferCompleted sends notification when a transfer completes successfully
func (n *Notifier) TransferCompleted(s Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Transfer completed. Moved %s rows in %d batches. Throughput: %s rows/sec.",
		formatNumberWithCommas(s.Rows), s.Batches, formatNumberWithCommas(int64(throughput(s))))

	fields := summaryFields(s)
	if s.ParseErrors > 0 {
		fields = append(fields, SlackField{Title: "Skipped Rows", Value: formatNumberWithCommas(int64(s.ParseErrors)), Short: true})
	}
	color := "#36a64f" // green
	if s.ParseErrors > 0 {
		color = "#ffc107" // yellow
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	})
}

// TransferFailed sends notification when a transfer fails
func (n *Notifier) TransferFailed(s Summary, err error) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	fields := append(summaryFields(s), SlackField{Title: "Error", Value: errMsg, Short: false})
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color:     "#dc3545", // red
				Title:     "Transfer Failed",
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	})
}

// TransferCancelled sends notification when a transfer is cancelled
func (n *Notifier) TransferCancelled(s Summary) error {
	if !n.IsEnabled() {
		return nil
	}

	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Attachments: []SlackAttachment{
			{
				Color:     "#ffc107",
				Title:     "Transfer Cancelled",
				Fields:    summaryFields(s),
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	})
}

func summaryFields(s Summary) []SlackField {
	return []SlackField{
		{Title: "Handle", Value: s.Handle, Short: true},
		{Title: "Direction", Value: s.Direction, Short: true},
		{Title: "Table", Value: s.Table, Short: true},
		{Title: "File", Value: s.File, Short: true},
		{Title: "Started", Value: s.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
		{Title: "Duration", Value: formatDuration(s.Duration), Short: true},
		{Title: "Rows", Value: formatNumberWithCommas(s.Rows), Short: true},
	}
}

func throughput(s Summary) float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Rows) / s.Duration.Seconds()
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg, str = true, str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result []byte
	if neg {
		result = append(result, '-')
	}
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
