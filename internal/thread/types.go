// Package thread implements the support-thread relay engine: the registry of
// threads keyed by recipient, the per-thread lifecycle, message relay between
// the recipient's private conversation and the staff channel, message linking
// for edits and deletes, and delayed closure.
package thread

import (
	"context"
	"errors"
	"time"

	"github.com/memohai/modmail/internal/store"
)

var (
	// ErrEmptyMessage indicates a relay payload with no text, attachments or stickers.
	ErrEmptyMessage = errors.New("message has no content")
	// ErrInvalidID indicates a malformed recipient or message id.
	ErrInvalidID = errors.New("invalid id")
	// ErrLinkedMessageNotFound indicates no relayed message matched the reference.
	ErrLinkedMessageNotFound = errors.New("linked message not found")
	// ErrNoSharedContext indicates the recipient shares no server with the bot.
	ErrNoSharedContext = errors.New("recipient shares no servers with the bot")
	// ErrDeliveryFailed indicates the recipient copy of a reply could not be delivered.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrThreadCancelled indicates thread creation was declined or timed out.
	ErrThreadCancelled = errors.New("thread creation cancelled")
	// ErrProvisioningFailed indicates the staff channel could not be created.
	ErrProvisioningFailed = errors.New("thread channel provisioning failed")
	// ErrRegistryNotPopulated indicates traffic arrived before the registry was rebuilt.
	ErrRegistryNotPopulated = errors.New("thread registry not populated")
	// ErrThreadNotReady indicates the thread has no staff channel bound.
	ErrThreadNotReady = errors.New("thread is not ready")
	// ErrNoteNotAllowed indicates a note was targeted where only replies are accepted.
	ErrNoteNotAllowed = errors.New("target message is a note")
	// ErrNotANote indicates a reply was targeted where only notes are accepted.
	ErrNotANote = errors.New("target message is not a note")
)

// State is the lifecycle position of a thread.
type State int

const (
	StatePending State = iota
	StateReady
	StateClosing
	StateClosed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Store is the persistence the engine relies on for logs, settings and closures.
type Store interface {
	RecordOpen(ctx context.Context, log store.ThreadLog) (string, error)
	RecordClose(ctx context.Context, rec store.CloseRecord) error
	CountClosed(ctx context.Context, recipientID string) (int, error)
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	SaveClosure(ctx context.Context, c store.Closure) error
	DeleteClosure(ctx context.Context, recipientID, kind string) error
	ListClosures(ctx context.Context) ([]store.Closure, error)
}

// Fetcher downloads remote files for plain-mode re-uploads.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Colors frames envelopes by origin.
type Colors struct {
	Main      int
	Staff     int
	Recipient int
	Note      int
	Error     int
}

// Config holds engine settings.
type Config struct {
	GuildID        string
	MainCategoryID string
	LogChannelID   string
	// FallbackCategoryName names the overflow category created when the main one is unusable.
	FallbackCategoryName string

	// IdleTimeout auto-closes quiet threads. Zero disables it.
	IdleTimeout       time.Duration
	AutoCloseSilently bool
	AutoCloseResponse string

	ConfirmThreadCreation bool
	ConfirmTimeout        time.Duration
	ReadyTimeout          time.Duration
	HistoryLimit          int

	AnonUsername  string
	AnonAvatarURL string
	AnonTag       string
	StaffTag      string

	ThreadCreationTitle    string
	ThreadCreationResponse string
	ThreadCloseTitle       string
	ThreadCloseResponse    string
	ThreadCloseFooter      string

	// Mention is posted with the genesis message, e.g. a staff role mention.
	Mention       string
	ShowTimestamp bool
	Colors        Colors
}

const (
	DefaultReadyTimeout   = 25 * time.Second
	DefaultConfirmTimeout = 20 * time.Second
	DefaultHistoryLimit   = 100
)

func (c Config) withDefaults() Config {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.FallbackCategoryName == "" {
		c.FallbackCategoryName = "Fallback Modmail"
	}
	if c.AnonUsername == "" {
		c.AnonUsername = "Staff Team"
	}
	if c.AnonTag == "" {
		c.AnonTag = "Response"
	}
	if c.StaffTag == "" {
		c.StaffTag = "Staff"
	}
	if c.ThreadCreationTitle == "" {
		c.ThreadCreationTitle = "Thread Created"
	}
	if c.ThreadCreationResponse == "" {
		c.ThreadCreationResponse = "The staff team will get back to you as soon as possible."
	}
	if c.ThreadCloseTitle == "" {
		c.ThreadCloseTitle = "Thread Closed"
	}
	if c.ThreadCloseResponse == "" {
		c.ThreadCloseResponse = "This thread has been closed."
	}
	if c.ThreadCloseFooter == "" {
		c.ThreadCloseFooter = "Replying will create a new thread"
	}
	if c.AutoCloseResponse == "" {
		c.AutoCloseResponse = "This thread has been closed automatically due to inactivity."
	}
	if c.Colors == (Colors{}) {
		c.Colors = Colors{
			Main:      0x1E90FF,
			Staff:     0x2ECC71,
			Recipient: 0x808080,
			Note:      0xFEE75C,
			Error:     0xE74C3C,
		}
	}
	return c
}

type nopStore struct{}

func (nopStore) RecordOpen(context.Context, store.ThreadLog) (string, error) { return "", nil }
func (nopStore) RecordClose(context.Context, store.CloseRecord) error        { return nil }
func (nopStore) CountClosed(context.Context, string) (int, error)            { return 0, nil }
func (nopStore) Setting(context.Context, string) (string, error)             { return "", nil }
func (nopStore) SetSetting(context.Context, string, string) error            { return nil }
func (nopStore) SaveClosure(context.Context, store.Closure) error            { return nil }
func (nopStore) DeleteClosure(context.Context, string, string) error         { return nil }
func (nopStore) ListClosures(context.Context) ([]store.Closure, error)       { return nil, nil }
