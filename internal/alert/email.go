package alert

import (
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/safesite-data/ppewatch/internal/monitoring"
)

// Channel names used by the pipeline when triggering alerts.
const (
	ChannelAudio    = "audio"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// EmailNotifier sends violation alerts over SMTP with an HTML body and an
// optional JPEG snapshot attachment.
type EmailNotifier struct {
	Sender    string
	Password  string
	Recipient string
	Host      string
	Port      int
	Zone      string

	// sendMail is swappable for tests; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier validates the configuration and returns the notifier,
// or nil when email is unconfigured (logged, not an error: the channel is
// simply absent).
func NewEmailNotifier(sender, password, recipient, host string, port int, zone string) *EmailNotifier {
	if sender == "" || password == "" || recipient == "" || host == "" {
		monitoring.Logf("alert: email not configured, channel disabled")
		return nil
	}
	return &EmailNotifier{
		Sender:    sender,
		Password:  password,
		Recipient: recipient,
		Host:      host,
		Port:      port,
		Zone:      zone,
		sendMail:  smtp.SendMail,
	}
}

func (n *EmailNotifier) Name() string { return ChannelEmail }

// Send delivers one alert email. Called from a dispatch worker, never from
// the frame loop.
func (n *EmailNotifier) Send(message string, image []byte) error {
	msg, err := n.buildMessage(message, image)
	if err != nil {
		return fmt.Errorf("failed to build alert email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	auth := smtp.PlainAuth("", n.Sender, n.Password, n.Host)
	if err := n.sendMail(addr, auth, n.Sender, []string{n.Recipient}, msg); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", addr, err)
	}
	return nil
}

// buildMessage assembles a multipart MIME message: HTML body plus optional
// JPEG attachment.
func (n *EmailNotifier) buildMessage(message string, image []byte) ([]byte, error) {
	var sb strings.Builder
	mw := multipart.NewWriter(&sb)

	fmt.Fprintf(&sb, "From: %s\r\n", n.Sender)
	fmt.Fprintf(&sb, "To: %s\r\n", n.Recipient)
	fmt.Fprintf(&sb, "Subject: PPE VIOLATION ALERT - %s\r\n", n.Zone)
	fmt.Fprintf(&sb, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&sb, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", "text/html; charset=utf-8")
	body, err := mw.CreatePart(bodyHeader)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(body, `<html><body>
<h2>PPE Violation Alert</h2>
<p><strong>Time:</strong> %s</p>
<p><strong>Zone:</strong> %s</p>
<p><strong>Violation:</strong> %s</p>
<p>Please ensure all personnel wear proper PPE equipment in the designated area.</p>
<p><em>Automated safety notification from ppewatch</em></p>
</body></html>`, time.Now().Format("2006-01-02 15:04:05"), n.Zone, message)

	if len(image) > 0 {
		imgHeader := textproto.MIMEHeader{}
		imgHeader.Set("Content-Type", "image/jpeg; name=violation.jpg")
		imgHeader.Set("Content-Transfer-Encoding", "base64")
		imgHeader.Set("Content-Disposition", "attachment; filename=violation.jpg")
		part, err := mw.CreatePart(imgHeader)
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(image)
		// RFC 2045 line length limit.
		for len(enc) > 76 {
			fmt.Fprintf(part, "%s\r\n", enc[:76])
			enc = enc[76:]
		}
		fmt.Fprintf(part, "%s\r\n", enc)
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
