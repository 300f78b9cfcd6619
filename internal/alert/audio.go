package alert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/safesite-data/ppewatch/internal/monitoring"
)

// AudioNotifier plays a local alert sound through an external player
// command (e.g. mpg123, aplay, paplay). The message and image are unused:
// the sound itself is the alert.
type AudioNotifier struct {
	Player    string
	SoundPath string
	timeout   time.Duration
}

// NewAudioNotifier returns nil when the sound file does not exist so the
// channel is skipped instead of failing on every violation.
func NewAudioNotifier(player, soundPath string) *AudioNotifier {
	if player == "" || soundPath == "" {
		monitoring.Logf("alert: audio not configured, channel disabled")
		return nil
	}
	if _, err := os.Stat(soundPath); err != nil {
		monitoring.Logf("alert: sound file %s not found, audio channel disabled", soundPath)
		return nil
	}
	return &AudioNotifier{Player: player, SoundPath: soundPath, timeout: 10 * time.Second}
}

func (n *AudioNotifier) Name() string { return ChannelAudio }

// Send plays the configured sound once, bounded by a timeout so a hung
// player cannot pin a dispatch worker.
func (n *AudioNotifier) Send(_ string, _ []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, n.Player, n.SoundPath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio player %s failed: %w", n.Player, err)
	}
	return nil
}
