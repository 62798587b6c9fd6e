package chat

import "time"

// Settings are the engine knobs read from configuration.
type Settings struct {
	RingingTimeout    time.Duration
	ResponseTimeout   time.Duration
	InactivityTimeout time.Duration
	ComposingTimeout  time.Duration

	AutoAccept      bool
	AutoAcceptGroup bool
	MaxParticipants int

	ConferenceFactoryURI string
	ConferenceExpires    time.Duration

	DeliveryReports      bool
	DisplayReports       bool
	GroupDeliveryReports bool
	GroupDisplayReports  bool

	// BehindNAT makes offers propose the active setup role.
	BehindNAT bool
	// Secured advertises TCP/TLS/MSRP.
	Secured     bool
	DisplayName string
}

// DefaultSettings returns the settings used when configuration is silent.
func DefaultSettings() Settings {
	return Settings{
		RingingTimeout:       60 * time.Second,
		ResponseTimeout:      90 * time.Second,
		InactivityTimeout:    5 * time.Minute,
		ComposingTimeout:     15 * time.Second,
		MaxParticipants:      100,
		ConferenceExpires:    time.Hour,
		DeliveryReports:      true,
		DisplayReports:       true,
		GroupDeliveryReports: true,
	}
}
