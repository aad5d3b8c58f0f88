package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/minhdn/ragserve/internal/llm"
)

// MailConfig holds SMTP settings for the send_mail tool. The tool is only
// registered when Host and From are set.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MailTool sends plain-text email over SMTP.
type MailTool struct {
	cfg MailConfig

	// send is swappable for tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailTool(cfg MailConfig) *MailTool {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &MailTool{cfg: cfg, send: smtp.SendMail}
}

func (t *MailTool) Name() string { return "send_mail" }

func (t *MailTool) Definition() llm.ToolDef {
	return schema(t.Name(),
		"Send a plain-text email to a recipient.",
		`{
			"type": "object",
			"properties": {
				"to": {"type": "string", "description": "Recipient email address"},
				"subject": {"type": "string", "description": "Email subject"},
				"body": {"type": "string", "description": "Email body text"}
			},
			"required": ["to", "subject", "body"]
		}`)
}

type mailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (t *MailTool) Call(_ context.Context, args json.RawMessage) (string, error) {
	var a mailArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid mail arguments: %w", err)
	}
	if t.cfg.Host == "" || t.cfg.From == "" {
		return "", fmt.Errorf("mail is not configured (set SMTP host and from address)")
	}
	a.To = strings.TrimSpace(a.To)
	if a.To == "" || !strings.Contains(a.To, "@") {
		return "", fmt.Errorf("invalid recipient address %q", a.To)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", t.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", a.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(a.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(a.Body)

	var auth smtp.Auth
	if t.cfg.Username != "" {
		auth = smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	if err := t.send(addr, auth, t.cfg.From, []string{a.To}, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("failed to send mail: %w", err)
	}
	return fmt.Sprintf("Mail sent to %s.", a.To), nil
}

// sanitizeHeader strips CR/LF to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
