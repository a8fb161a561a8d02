package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultStorePath      = "data/modmail.db"
	DefaultConfirmTimeout = "20s"
	DefaultReadyTimeout   = "25s"
	DefaultReconcileSpec  = "@every 10m"
	DefaultRetentionSpec  = "@daily"
	DefaultRetentionDays  = 90
	DefaultNATSPrefix     = "modmail"
	DefaultStickerMaxMB   = 25

	// TokenEnv overrides discord.token when set.
	TokenEnv = "DISCORD_TOKEN"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Discord  DiscordConfig  `toml:"discord"`
	Modmail  ModmailConfig  `toml:"modmail"`
	Store    StoreConfig    `toml:"store"`
	NATS     NATSConfig     `toml:"nats"`
	Schedule ScheduleConfig `toml:"schedule"`
	Sticker  StickerConfig  `toml:"sticker"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type DiscordConfig struct {
	Token          string `toml:"token" validate:"required"`
	GuildID        string `toml:"guild_id" validate:"required,numeric"`
	MainCategoryID string `toml:"main_category_id" validate:"omitempty,numeric"`
	LogChannelID   string `toml:"log_channel_id" validate:"omitempty,numeric"`
}

type ModmailConfig struct {
	ThreadAutoClose       string `toml:"thread_auto_close" validate:"duration"`
	AutoCloseSilently     bool   `toml:"auto_close_silently"`
	AutoCloseResponse     string `toml:"auto_close_response"`
	ConfirmThreadCreation bool   `toml:"confirm_thread_creation"`
	ConfirmTimeout        string `toml:"confirm_timeout" validate:"duration"`
	ReadyTimeout          string `toml:"ready_timeout" validate:"duration"`

	HistoryLimit          int    `toml:"history_limit" validate:"gte=0,lte=1000"`

	AnonUsername  string `toml:"anon_username"`
	AnonAvatarURL string `toml:"anon_avatar_url" validate:"omitempty,url"`
	AnonTag       string `toml:"anon_tag"`
	StaffTag      string `toml:"staff_tag"`

	ThreadCreationTitle    string `toml:"thread_creation_title"`
	ThreadCreationResponse string `toml:"thread_creation_response"`
	ThreadCloseTitle       string `toml:"thread_close_title"`
	ThreadCloseResponse    string `toml:"thread_close_response"`
	ThreadCloseFooter      string `toml:"thread_close_footer"`
	FallbackCategoryName   string `toml:"fallback_category_name"`
	Mention                string `toml:"mention"`
	ShowTimestamp          bool   `toml:"show_timestamp"`

	MainColor      int `toml:"main_color" validate:"gte=0,lte=16777215"`
	StaffColor     int `toml:"staff_color" validate:"gte=0,lte=16777215"`
	RecipientColor int `toml:"recipient_color" validate:"gte=0,lte=16777215"`
	NoteColor      int `toml:"note_color" validate:"gte=0,lte=16777215"`
	ErrorColor     int `toml:"error_color" validate:"gte=0,lte=16777215"`

	BlockedUsers    []string `toml:"blocked_users" validate:"dive,numeric"`
	BlockedResponse string   `toml:"blocked_response"`
}

type StoreConfig struct {
	Path string `toml:"path" validate:"required"`
}

type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	Token         string `toml:"token"`
}

// Enabled reports whether lifecycle events are mirrored to NATS.
func (c NATSConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type ScheduleConfig struct {
	Reconcile     string `toml:"reconcile"`
	Retention     string `toml:"retention"`
	RetentionDays int    `toml:"retention_days" validate:"gte=0"`
}

type StickerConfig struct {
	Renderer string `toml:"renderer"`
	MaxMB    int    `toml:"max_mb" validate:"gte=0"`
}

// MaxBytes returns the asset size cap in bytes.
func (c StickerConfig) MaxBytes() int64 {
	return int64(c.MaxMB) * 1024 * 1024
}

// IdleTimeout returns the auto-close duration. Zero disables it.
func (c ModmailConfig) IdleTimeout() time.Duration {
	return parseDuration(c.ThreadAutoClose)
}

func (c ModmailConfig) ConfirmTimeoutDuration() time.Duration {
	return parseDuration(c.ConfirmTimeout)
}

func (c ModmailConfig) ReadyTimeoutDuration() time.Duration {
	return parseDuration(c.ReadyTimeout)
}

// RetentionPeriod returns how long closed thread logs are kept. Zero keeps them forever.
func (c ScheduleConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Modmail: ModmailConfig{
			ThreadAutoClose: "0",
			ConfirmTimeout:  DefaultConfirmTimeout,
			ReadyTimeout:    DefaultReadyTimeout,
			MainColor:       0x1E90FF,
			StaffColor:      0x2ECC71,
			RecipientColor:  0x808080,
			NoteColor:       0xFEE75C,
			ErrorColor:      0xE74C3C,
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		NATS: NATSConfig{
			SubjectPrefix: DefaultNATSPrefix,
		},
		Schedule: ScheduleConfig{
			Reconcile:     DefaultReconcileSpec,
			Retention:     DefaultRetentionSpec,
			RetentionDays: DefaultRetentionDays,
		},
		Sticker: StickerConfig{
			MaxMB: DefaultStickerMaxMB,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		cfg.Discord.Token = token
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		raw := strings.TrimSpace(fl.Field().String())
		if raw == "" || raw == "0" {
			return true
		}
		d, err := time.ParseDuration(raw)
		return err == nil && d >= 0
	})
	return v
}

// Validate checks the configuration and reports every offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
