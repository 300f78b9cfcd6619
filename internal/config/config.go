package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root JSON configuration for the monitor. Fields are
// pointers so omitted keys fall back to the Get* defaults and partial
// config files stay safe.
type Config struct {
	// Zone identity
	ZoneName *string `json:"zone_name,omitempty"`

	// Detection params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	OverlapThreshold    *float64 `json:"overlap_threshold,omitempty"`

	// Violation policy: mode 1 flags any missing PPE item, mode 2 only
	// the items listed in required_ppe.
	ViolationMode *int     `json:"violation_mode,omitempty"`
	RequiredPPE   []string `json:"required_ppe,omitempty"`

	// Tracker params
	TrackerMaxDistance  *float64 `json:"tracker_max_distance,omitempty"`
	TrackerMemoryFrames *int     `json:"tracker_memory_frames,omitempty"`

	// Alert cooldowns, duration strings like "3s"
	AudioCooldown    *string `json:"audio_cooldown,omitempty"`
	EmailCooldown    *string `json:"email_cooldown,omitempty"`
	TelegramCooldown *string `json:"telegram_cooldown,omitempty"`

	// Alert dispatch pool
	AlertWorkers   *int `json:"alert_workers,omitempty"`
	AlertQueueSize *int `json:"alert_queue_size,omitempty"`

	// Email channel
	EmailSender    *string `json:"email_sender,omitempty"`
	EmailPassword  *string `json:"email_password,omitempty"`
	EmailRecipient *string `json:"email_recipient,omitempty"`
	SMTPHost       *string `json:"smtp_host,omitempty"`
	SMTPPort       *int    `json:"smtp_port,omitempty"`

	// Telegram channel
	TelegramToken  *string `json:"telegram_token,omitempty"`
	TelegramChatID *string `json:"telegram_chat_id,omitempty"`

	// Audio channel
	AudioPlayer *string `json:"audio_player,omitempty"`
	SoundPath   *string `json:"sound_path,omitempty"`

	// Storage paths
	DatabasePath *string `json:"database_path,omitempty"`
	ImagesDir    *string `json:"images_dir,omitempty"`
}

// EmptyConfig returns a Config with all fields nil, so every Get*
// accessor reports its default.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. The path must have a
// .json extension and the file must be under 1MB. Fields omitted from
// the JSON retain their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that configured values are in range. Unset fields
// are always valid.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.OverlapThreshold != nil {
		if *c.OverlapThreshold <= 0 || *c.OverlapThreshold >= 1 {
			return fmt.Errorf("overlap_threshold must be in (0, 1), got %f", *c.OverlapThreshold)
		}
	}

	if c.ViolationMode != nil {
		if *c.ViolationMode != 1 && *c.ViolationMode != 2 {
			return fmt.Errorf("violation_mode must be 1 or 2, got %d", *c.ViolationMode)
		}
	}

	if c.TrackerMaxDistance != nil {
		if *c.TrackerMaxDistance <= 0 {
			return fmt.Errorf("tracker_max_distance must be positive, got %f", *c.TrackerMaxDistance)
		}
	}

	if c.TrackerMemoryFrames != nil {
		if *c.TrackerMemoryFrames < 0 {
			return fmt.Errorf("tracker_memory_frames must be non-negative, got %d", *c.TrackerMemoryFrames)
		}
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"audio_cooldown", c.AudioCooldown},
		{"email_cooldown", c.EmailCooldown},
		{"telegram_cooldown", c.TelegramCooldown},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	if c.AlertWorkers != nil {
		if *c.AlertWorkers < 1 {
			return fmt.Errorf("alert_workers must be at least 1, got %d", *c.AlertWorkers)
		}
	}

	if c.AlertQueueSize != nil {
		if *c.AlertQueueSize < 1 {
			return fmt.Errorf("alert_queue_size must be at least 1, got %d", *c.AlertQueueSize)
		}
	}

	return nil
}

// GetZoneName returns the zone_name value or the default.
func (c *Config) GetZoneName() string {
	if c.ZoneName == nil || *c.ZoneName == "" {
		return "Default Zone"
	}
	return *c.ZoneName
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.25
	}
	return *c.ConfidenceThreshold
}

// GetOverlapThreshold returns the overlap_threshold value or the default.
func (c *Config) GetOverlapThreshold() float64 {
	if c.OverlapThreshold == nil {
		return 0.3
	}
	return *c.OverlapThreshold
}

// GetViolationMode returns the violation_mode value or the default.
func (c *Config) GetViolationMode() int {
	if c.ViolationMode == nil {
		return 1
	}
	return *c.ViolationMode
}

// GetRequiredPPE returns the required_ppe list or the default.
func (c *Config) GetRequiredPPE() []string {
	if len(c.RequiredPPE) == 0 {
		return []string{"helmet", "vest"}
	}
	return c.RequiredPPE
}

// GetTrackerMaxDistance returns the tracker_max_distance value or the default.
func (c *Config) GetTrackerMaxDistance() float64 {
	if c.TrackerMaxDistance == nil {
		return 50.0
	}
	return *c.TrackerMaxDistance
}

// GetTrackerMemoryFrames returns the tracker_memory_frames value or the default.
func (c *Config) GetTrackerMemoryFrames() int {
	if c.TrackerMemoryFrames == nil {
		return 30
	}
	return *c.TrackerMemoryFrames
}

// GetAudioCooldown parses and returns the audio cooldown duration.
func (c *Config) GetAudioCooldown() time.Duration {
	return durationOr(c.AudioCooldown, 3*time.Second)
}

// GetEmailCooldown parses and returns the email cooldown duration.
func (c *Config) GetEmailCooldown() time.Duration {
	return durationOr(c.EmailCooldown, 30*time.Second)
}

// GetTelegramCooldown parses and returns the telegram cooldown duration.
func (c *Config) GetTelegramCooldown() time.Duration {
	return durationOr(c.TelegramCooldown, 10*time.Second)
}

// GetAlertWorkers returns the alert_workers value or the default.
func (c *Config) GetAlertWorkers() int {
	if c.AlertWorkers == nil {
		return 2
	}
	return *c.AlertWorkers
}

// GetAlertQueueSize returns the alert_queue_size value or the default.
func (c *Config) GetAlertQueueSize() int {
	if c.AlertQueueSize == nil {
		return 16
	}
	return *c.AlertQueueSize
}

// GetEmailSender returns the email_sender value or "".
func (c *Config) GetEmailSender() string { return stringOr(c.EmailSender, "") }

// GetEmailPassword returns the email_password value or "".
func (c *Config) GetEmailPassword() string { return stringOr(c.EmailPassword, "") }

// GetEmailRecipient returns the email_recipient value or "".
func (c *Config) GetEmailRecipient() string { return stringOr(c.EmailRecipient, "") }

// GetSMTPHost returns the smtp_host value or the default.
func (c *Config) GetSMTPHost() string { return stringOr(c.SMTPHost, "smtp.gmail.com") }

// GetSMTPPort returns the smtp_port value or the default.
func (c *Config) GetSMTPPort() int {
	if c.SMTPPort == nil {
		return 587
	}
	return *c.SMTPPort
}

// GetTelegramToken returns the telegram_token value or "".
func (c *Config) GetTelegramToken() string { return stringOr(c.TelegramToken, "") }

// GetTelegramChatID returns the telegram_chat_id value or "".
func (c *Config) GetTelegramChatID() string { return stringOr(c.TelegramChatID, "") }

// GetAudioPlayer returns the audio_player value or the default.
func (c *Config) GetAudioPlayer() string { return stringOr(c.AudioPlayer, "mpg123") }

// GetSoundPath returns the sound_path value or "".
func (c *Config) GetSoundPath() string { return stringOr(c.SoundPath, "") }

// GetDatabasePath returns the database_path value or the default.
func (c *Config) GetDatabasePath() string { return stringOr(c.DatabasePath, "data/ppewatch.db") }

// GetImagesDir returns the images_dir value or the default.
func (c *Config) GetImagesDir() string { return stringOr(c.ImagesDir, "data/violations") }

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func stringOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
