package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/darshan-rambhia/eldesmon/internal/model"
)

// NtfyProvider publishes notifications to an ntfy topic.
type NtfyProvider struct {
	url    string
	topic  string
	client *http.Client
}

// NewNtfy creates a new ntfy notification provider.
func NewNtfy(url, topic string) *NtfyProvider {
	return &NtfyProvider{
		url:    strings.TrimRight(url, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	endpoint := fmt.Sprintf("%s/%s", n.url, n.topic)
	body := ntfyBody(notif)

	return deliver(ctx, n.client, "ntfy", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Title", notif.Title)
		req.Header.Set("Priority", severityToNtfyPriority(notif.Severity))
		req.Header.Set("Tags", ntfyTags(notif))
		return req, nil
	})
}

func ntfyBody(n model.Notification) string {
	if n.Account == "" {
		return n.Message
	}
	return fmt.Sprintf("[%s] %s", n.Account, n.Message)
}

func severityToNtfyPriority(severity string) string {
	switch severity {
	case "critical":
		return "5"
	case "warning":
		return "3"
	case "info":
		return "2"
	default:
		return "3"
	}
}

func ntfyTags(n model.Notification) string {
	var tags []string
	switch n.Severity {
	case "critical":
		tags = append(tags, "rotating_light")
	case "warning":
		tags = append(tags, "warning")
	case "info":
		tags = append(tags, "information_source")
	}
	switch n.Metadata["armed"] {
	case "true":
		tags = append(tags, "lock")
	case "false":
		tags = append(tags, "unlock")
	}
	if strings.HasPrefix(n.AlertType, "temperature_") {
		tags = append(tags, "thermometer")
	}
	if n.AlertType != "" {
		tags = append(tags, n.AlertType)
	}
	if n.Resolved {
		tags = append(tags, "white_check_mark")
	}
	return strings.Join(tags, ",")
}
