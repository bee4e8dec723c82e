// Package notify delivers agent results to configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"panwatch/internal/httpclient"
	"panwatch/pkg/panwatch"
)

// ErrNoChannels is returned by Manager.Notify when nothing is configured.
var ErrNoChannels = errors.New("no notification channels configured")

// Message is one notification.
type Message struct {
	Title   string
	Content string
	Images  [][]byte
}

// Notifier delivers a message to its resolved channel set.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Channel is one delivery destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Manager fans a message out to every channel.
type Manager struct {
	channels []Channel
	logger   *slog.Logger
	timeout  time.Duration
}

// NewManager returns a manager over channels. timeout bounds each send.
func NewManager(logger *slog.Logger, timeout time.Duration, channels ...Channel) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{channels: channels, logger: logger, timeout: timeout}
}

// Len returns the number of channels.
func (m *Manager) Len() int { return len(m.channels) }

// Names lists channel names.
func (m *Manager) Names() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// Notify sends msg to every channel. It fails only when every channel fails.
func (m *Manager) Notify(ctx context.Context, msg Message) error {
	if len(m.channels) == 0 {
		return ErrNoChannels
	}
	var errs []error
	for _, ch := range m.channels {
		if err := m.send(ctx, ch, msg); err != nil {
			m.logger.Warn("notification failed", "channel", ch.Name(), "title", msg.Title, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		m.logger.Info("notification sent", "channel", ch.Name(), "title", msg.Title)
	}
	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) send(ctx context.Context, ch Channel, msg Message) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return ch.Send(ctx, msg)
}

// FromConfig builds channels for stored configurations. Unsupported or
// incomplete configurations are logged and skipped.
func FromConfig(logger *slog.Logger, client httpclient.Doer, configs []panwatch.NotifyChannel) []Channel {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Channel
	for _, cfg := range configs {
		ch, err := newChannel(client, cfg)
		if err != nil {
			logger.Warn("skip notify channel", "channel_id", cfg.ID, "type", cfg.Type, "err", err)
			continue
		}
		out = append(out, ch)
	}
	return out
}

func newChannel(client httpclient.Doer, cfg panwatch.NotifyChannel) (Channel, error) {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s#%d", cfg.Type, cfg.ID)
	}
	get := func(key string) string { return strings.TrimSpace(cfg.Config[key]) }
	switch strings.ToLower(cfg.Type) {
	case "webhook":
		if get("url") == "" {
			return nil, errors.New("webhook url is required")
		}
		return &Webhook{name: name, URL: get("url"), Client: client}, nil
	case "slack":
		if get("webhook_url") == "" {
			return nil, errors.New("slack webhook_url is required")
		}
		return &Slack{name: name, WebhookURL: get("webhook_url"), Client: client}, nil
	case "telegram":
		if get("bot_token") == "" || get("chat_id") == "" {
			return nil, errors.New("telegram bot_token and chat_id are required")
		}
		return &Telegram{name: name, BaseURL: get("api_base"), Token: get("bot_token"), ChatID: get("chat_id"), Client: client}, nil
	default:
		return nil, fmt.Errorf("unsupported channel type %q", cfg.Type)
	}
}
