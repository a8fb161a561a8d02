package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/memohai/modmail/internal/channel"
	"github.com/memohai/modmail/internal/metrics"
)

const (
	fallbackCategorySetting = "fallback_category_id"
	maxChannelNameLength    = 90
	maxProvisionAttempts    = 4
)

// provision creates the staff channel with the binding metadata already set.
// A full or forbidden category falls back to the overflow category and a rejected
// name is retried once as thread-<id>. A repeated error for the same parameters aborts.
func (m *Manager) provision(ctx context.Context, t *Thread, req CreateRequest) (channel.Channel, error) {
	recipient := t.Recipient(ctx)
	category := strings.TrimSpace(req.CategoryID)
	if category == "" {
		category = m.cfg.MainCategoryID
	}
	name := m.channelName(ctx, recipient)
	create := channel.ChannelCreate{
		Topic: FormatTopic(req.Title, t.id),
		Kind:  channel.ChannelKindText,
	}

	seen := map[string]struct{}{}
	var lastErr error
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		create.Name = name
		create.ParentID = category
		ch, err := m.transport.CreateChannel(ctx, m.cfg.GuildID, create)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		reason := provisionFailureReason(err)
		metrics.ProvisioningFailures.WithLabelValues(reason).Inc()
		key := reason + "|" + name + "|" + category
		if _, repeated := seen[key]; repeated {
			return channel.Channel{}, err
		}
		seen[key] = struct{}{}
		m.logger.Warn("create thread channel failed",
			t.logValue(),
			slog.String("reason", reason),
			slog.String("category", category),
			slog.Any("error", err),
		)

		switch reason {
		case "category_full", "forbidden":
			fallback, ferr := m.fallbackCategory(ctx)
			if ferr != nil {
				return channel.Channel{}, errors.Join(err, fmt.Errorf("fallback category: %w", ferr))
			}
			category = fallback
		case "name_rejected":
			sanitized := sanitizedChannelName(recipient.ID)
			if name == sanitized {
				return channel.Channel{}, err
			}
			name = sanitized
		default:
			return channel.Channel{}, err
		}
	}
	return channel.Channel{}, lastErr
}

func provisionFailureReason(err error) string {
	switch {
	case errors.Is(err, channel.ErrCategoryFull):
		return "category_full"
	case errors.Is(err, channel.ErrForbidden):
		return "forbidden"
	case errors.Is(err, channel.ErrNameRejected):
		return "name_rejected"
	default:
		return "other"
	}
}

// fallbackCategory returns the persisted overflow category, creating it when missing.
func (m *Manager) fallbackCategory(ctx context.Context) (string, error) {
	id, err := m.store.Setting(ctx, fallbackCategorySetting)
	if err != nil {
		m.logger.Warn("read fallback category failed", slog.Any("error", err))
	}
	if id != "" {
		ch, err := m.transport.GetChannel(ctx, id)
		if err == nil && ch.Kind == channel.ChannelKindCategory {
			return id, nil
		}
	}
	cat, err := m.transport.CreateChannel(ctx, m.cfg.GuildID, channel.ChannelCreate{
		Name: m.cfg.FallbackCategoryName,
		Kind: channel.ChannelKindCategory,
	})
	if err != nil {
		return "", err
	}
	if err := m.store.SetSetting(ctx, fallbackCategorySetting, cat.ID); err != nil {
		m.logger.Warn("persist fallback category failed", slog.String("category", cat.ID), slog.Any("error", err))
	}
	m.logger.Info("fallback category created", slog.String("category", cat.ID))
	return cat.ID, nil
}

// channelName derives a unique channel name from the recipient's username.
func (m *Manager) channelName(ctx context.Context, u channel.User) string {
	base := normalizeChannelName(u.Username)
	if base == "" {
		return sanitizedChannelName(u.ID)
	}
	taken := map[string]struct{}{}
	if channels, err := m.transport.GuildChannels(ctx, m.cfg.GuildID); err == nil {
		for _, ch := range channels {
			taken[ch.Name] = struct{}{}
		}
	}
	name := base
	for i := 1; ; i++ {
		if _, ok := taken[name]; !ok {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func normalizeChannelName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '.':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxChannelNameLength {
		name = name[:maxChannelNameLength]
	}
	return name
}

func sanitizedChannelName(recipientID string) string {
	return "thread-" + recipientID
}

func (m *Manager) reportProvisioningFailure(ctx context.Context, t *Thread, err error) {
	recipient := t.Recipient(ctx)
	m.postLog(ctx, channel.Embed{
		Title:       "Thread channel could not be created",
		Description: fmt.Sprintf("Creating a thread for %s failed: %s", recipient.Mention(), err.Error()),
		Color:       m.cfg.Colors.Error,
		Timestamp:   m.now(),
		Footer:      &channel.EmbedFooter{Text: "User ID: " + t.id},
	})
}
