package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/contact"
)

// Config represents the global ~/.rcschat/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Identity       Identity `toml:"identity"`
	Chat           Chat     `toml:"chat"`
	IMDN           IMDN     `toml:"imdn"`
	MSRP           MSRP     `toml:"msrp"`
	API            API      `toml:"api"`
	Outbox         Outbox   `toml:"outbox"`
	History        History  `toml:"history"`
	Log            Log      `toml:"log"`
}

type Identity struct {
	PublicURI   string `toml:"public_uri"`
	DisplayName string `toml:"display_name"`
	// DeviceID keys the contribution-ID generator. It must stay stable for
	// the lifetime of the profile.
	DeviceID string `toml:"device_id"`
}

type Chat struct {
	RingingTimeout       Duration `toml:"ringing_timeout"`
	ResponseTimeout      Duration `toml:"response_timeout"`
	InactivityTimeout    Duration `toml:"inactivity_timeout"`
	ComposingTimeout     Duration `toml:"composing_timeout"`
	AutoAccept           bool     `toml:"auto_accept"`
	AutoAcceptGroup      bool     `toml:"auto_accept_group"`
	MaxParticipants      int      `toml:"max_participants"`
	ConferenceFactoryURI string   `toml:"conference_factory_uri"`
	ConferenceExpires    Duration `toml:"conference_expires"`
	BehindNAT            bool     `toml:"behind_nat"`
	Workers              int      `toml:"workers"`
}

type IMDN struct {
	DeliveryReports      bool `toml:"delivery_reports"`
	DisplayReports       bool `toml:"display_reports"`
	GroupDeliveryReports bool `toml:"group_delivery_reports"`
	GroupDisplayReports  bool `toml:"group_display_reports"`
}

type MSRP struct {
	LocalHost      string   `toml:"local_host"`
	Secured        bool     `toml:"secured"`
	ChunkSize      int      `toml:"chunk_size"`
	OpenTimeout    Duration `toml:"open_timeout"`
	MaxMessageSize int      `toml:"max_message_size"`
}

type API struct {
	ListenAddr string `toml:"listen_addr"`
}

type Outbox struct {
	PollInterval Duration `toml:"poll_interval"`
	// MaxAttempts bounds how often an entry waits for a session to be
	// established before it is marked failed.
	MaxAttempts int `toml:"max_attempts"`
}

type History struct {
	// Retention of journaled events; zero keeps them forever.
	Retention Duration `toml:"retention"`
}

type Log struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Duration is a time.Duration written as a string ("90s", "5m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys the file does not set.
func Default() *Config {
	s := chat.DefaultSettings()
	return &Config{
		Chat: Chat{
			RingingTimeout:    Duration{s.RingingTimeout},
			ResponseTimeout:   Duration{s.ResponseTimeout},
			InactivityTimeout: Duration{s.InactivityTimeout},
			ComposingTimeout:  Duration{s.ComposingTimeout},
			MaxParticipants:   s.MaxParticipants,
			ConferenceExpires: Duration{s.ConferenceExpires},
			Workers:           16,
		},
		IMDN: IMDN{
			DeliveryReports:      s.DeliveryReports,
			DisplayReports:       s.DisplayReports,
			GroupDeliveryReports: s.GroupDeliveryReports,
			GroupDisplayReports:  s.GroupDisplayReports,
		},
		MSRP: MSRP{
			LocalHost:      "127.0.0.1",
			ChunkSize:      2048,
			OpenTimeout:    Duration{10 * time.Second},
			MaxMessageSize: 1 << 20,
		},
		API:     API{ListenAddr: "127.0.0.1:7480"},
		Outbox:  Outbox{PollInterval: Duration{500 * time.Millisecond}, MaxAttempts: 20},
		History: History{Retention: Duration{30 * 24 * time.Hour}},
		Log:     Log{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load reads config from the given path on top of Default. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks what the daemon cannot start without.
func (c *Config) Validate() error {
	if _, ok := contact.Parse(c.Identity.PublicURI); !ok {
		return fmt.Errorf("config: identity.public_uri %q is not a tel or sip URI", c.Identity.PublicURI)
	}
	if c.Identity.DeviceID == "" {
		return errors.New("config: identity.device_id is required")
	}
	if c.Chat.MaxParticipants < 0 {
		return fmt.Errorf("config: chat.max_participants must not be negative")
	}
	if c.MSRP.MaxMessageSize < 0 {
		return fmt.Errorf("config: msrp.max_message_size must not be negative")
	}
	return nil
}

// Settings projects the file onto the chat engine settings.
func (c *Config) Settings() chat.Settings {
	return chat.Settings{
		RingingTimeout:       c.Chat.RingingTimeout.Duration,
		ResponseTimeout:      c.Chat.ResponseTimeout.Duration,
		InactivityTimeout:    c.Chat.InactivityTimeout.Duration,
		ComposingTimeout:     c.Chat.ComposingTimeout.Duration,
		AutoAccept:           c.Chat.AutoAccept,
		AutoAcceptGroup:      c.Chat.AutoAcceptGroup,
		MaxParticipants:      c.Chat.MaxParticipants,
		ConferenceFactoryURI: c.Chat.ConferenceFactoryURI,
		ConferenceExpires:    c.Chat.ConferenceExpires.Duration,
		DeliveryReports:      c.IMDN.DeliveryReports,
		DisplayReports:       c.IMDN.DisplayReports,
		GroupDeliveryReports: c.IMDN.GroupDeliveryReports,
		GroupDisplayReports:  c.IMDN.GroupDisplayReports,
		BehindNAT:            c.Chat.BehindNAT,
		Secured:              c.MSRP.Secured,
		DisplayName:          c.Identity.DisplayName,
	}
}
