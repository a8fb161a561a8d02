package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/modmail/internal/channel"
)

// plainMatchWindow bounds how far apart a plain recipient copy and its staff
// envelope may have been sent.
const plainMatchWindow = time.Minute

// Linked is a relayed message resolved on both surfaces. Secondary is empty for
// notes and when no counterpart was found.
type Linked struct {
	Primary   channel.Message
	Secondary []channel.Message
	Note      bool
}

// LinkOptions restricts which envelopes a reference may resolve to.
type LinkOptions struct {
	NoteAllowed bool
	NoteOnly    bool
}

// FindLinked resolves a relayed staff message and its recipient copy. An empty
// messageID selects the most recent eligible envelope in the thread channel.
// Matching the copy is best effort: the envelope's sender token, body and
// timestamp must agree.
func (t *Thread) FindLinked(ctx context.Context, messageID string, opts LinkOptions) (Linked, error) {
	m := t.manager
	staffID := t.ChannelID()
	if staffID == "" {
		return Linked{}, ErrThreadNotReady
	}
	messageID = strings.TrimSpace(messageID)
	if messageID != "" && !isDigits(messageID) {
		return Linked{}, fmt.Errorf("%w: message %q", ErrInvalidID, messageID)
	}
	if opts.NoteOnly {
		opts.NoteAllowed = true
	}

	var primary channel.Message
	if messageID != "" {
		msg, err := m.transport.FetchMessage(ctx, staffID, messageID)
		if errors.Is(err, channel.ErrNotFound) {
			return Linked{}, ErrLinkedMessageNotFound
		}
		if err != nil {
			return Linked{}, fmt.Errorf("fetch message: %w", err)
		}
		if !m.isEnvelope(msg) {
			return Linked{}, ErrLinkedMessageNotFound
		}
		e := msg.Embeds[0]
		note := IsNote(e)
		switch {
		case note && !opts.NoteAllowed:
			return Linked{}, ErrNoteNotAllowed
		case !note && opts.NoteOnly:
			return Linked{}, ErrNotANote
		case !note && e.Color != m.cfg.Colors.Staff:
			return Linked{}, ErrLinkedMessageNotFound
		}
		primary = msg
	} else {
		history, err := m.transport.History(ctx, staffID, m.cfg.HistoryLimit)
		if err != nil {
			return Linked{}, fmt.Errorf("read thread history: %w", err)
		}
		found := false
		for _, msg := range history {
			if m.eligible(msg, opts) {
				primary, found = msg, true
				break
			}
		}
		if !found {
			return Linked{}, ErrLinkedMessageNotFound
		}
	}

	linked := Linked{Primary: primary, Note: IsNote(primary.Embeds[0])}
	if linked.Note {
		return linked, nil
	}
	secondary, err := t.findCounterpart(ctx, primary)
	if err != nil {
		m.logger.Warn("counterpart lookup failed", t.logValue(), slog.Any("error", err))
	}
	if secondary != nil {
		linked.Secondary = append(linked.Secondary, *secondary)
	}
	return linked, nil
}

func (m *Manager) isEnvelope(msg channel.Message) bool {
	if msg.Author.ID != m.transport.Self().ID {
		return false
	}
	e, ok := msg.FirstEmbed()
	return ok && e.Author != nil && e.Author.URL != ""
}

func (m *Manager) eligible(msg channel.Message, opts LinkOptions) bool {
	if !m.isEnvelope(msg) {
		return false
	}
	e := msg.Embeds[0]
	if IsNote(e) {
		return opts.NoteAllowed
	}
	return !opts.NoteOnly && e.Color == m.cfg.Colors.Staff
}

// findCounterpart scans the recipient conversation for the copy of primary.
func (t *Thread) findCounterpart(ctx context.Context, primary channel.Message) (*channel.Message, error) {
	m := t.manager
	dm, err := m.transport.DirectChannel(ctx, t.id)
	if err != nil {
		return nil, err
	}
	history, err := m.transport.History(ctx, dm.ID, m.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	want := primary.Embeds[0]
	selfID := m.transport.Self().ID
	for i := range history {
		msg := history[i]
		if msg.Author.ID != selfID {
			continue
		}
		if e, ok := msg.FirstEmbed(); ok {
			if sameEnvelope(want, e) {
				return &msg, nil
			}
			continue
		}
		if _, body, ok := plainBody(msg.Content); ok && body == want.Description && near(msg.CreatedAt, primary.CreatedAt) {
			return &msg, nil
		}
	}
	return nil, nil
}

func sameEnvelope(a, b channel.Embed) bool {
	if a.Author == nil || b.Author == nil || b.Author.URL == "" {
		return false
	}
	tokenA, tokenB := correlationToken(a), correlationToken(b)
	if tokenA != "" || tokenB != "" {
		if tokenA != tokenB {
			return false
		}
	} else if a.Author.Name != b.Author.Name || a.Author.URL != b.Author.URL {
		return false
	}
	return a.Description == b.Description && a.Timestamp.Equal(b.Timestamp)
}

func near(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= plainMatchWindow
}

// Edit rewrites a relayed message on both surfaces. The thread channel copy keeps
// the previous body in an extra field.
func (t *Thread) Edit(ctx context.Context, messageID, text string) (Linked, error) {
	if strings.TrimSpace(text) == "" {
		return Linked{}, ErrEmptyMessage
	}
	m := t.manager
	linked, err := t.FindLinked(ctx, messageID, LinkOptions{NoteAllowed: true})
	if err != nil {
		return Linked{}, err
	}

	primary := linked.Primary
	e := primary.Embeds[0].Clone()
	former := e.Description
	e.Description = text
	e.Fields = append(e.Fields, channel.EmbedField{Name: EditedFieldName, Value: truncate(former, maxFieldValue)})
	embeds := append([]channel.Embed{e}, primary.Embeds[1:]...)
	updated, err := m.transport.EditMessage(ctx, primary.ChannelID, primary.ID, channel.OutboundMessage{Content: primary.Content, Embeds: embeds})
	if err != nil {
		return Linked{}, fmt.Errorf("edit thread channel message: %w", err)
	}
	linked.Primary = updated

	var errs []error
	for i, sec := range linked.Secondary {
		out := channel.OutboundMessage{Content: sec.Content}
		if se, ok := sec.FirstEmbed(); ok {
			se = se.Clone()
			se.Description = text
			out.Embeds = append([]channel.Embed{se}, sec.Embeds[1:]...)
		} else if prefix, _, ok := plainBody(sec.Content); ok {
			out.Content = prefix + text
		}
		edited, err := m.transport.EditMessage(ctx, sec.ChannelID, sec.ID, out)
		if err != nil {
			errs = append(errs, fmt.Errorf("edit recipient message: %w", err))
			continue
		}
		linked.Secondary[i] = edited
	}
	return linked, errors.Join(errs...)
}

// Delete removes a relayed message from both surfaces.
func (t *Thread) Delete(ctx context.Context, messageID string, opts LinkOptions) (Linked, error) {
	m := t.manager
	linked, err := t.FindLinked(ctx, messageID, opts)
	if err != nil {
		return Linked{}, err
	}
	if err := m.transport.DeleteMessage(ctx, linked.Primary.ChannelID, linked.Primary.ID); err != nil {
		return Linked{}, fmt.Errorf("delete thread channel message: %w", err)
	}
	var errs []error
	for _, sec := range linked.Secondary {
		if err := m.transport.DeleteMessage(ctx, sec.ChannelID, sec.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete recipient message: %w", err))
		}
	}
	return linked, errors.Join(errs...)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
