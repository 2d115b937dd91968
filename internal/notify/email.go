package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailDriver sends through a configured SMTP relay. No mail library
// exists in the dependency set, so this drives net/smtp directly.
type EmailDriver struct {
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type emailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

func NewEmailDriver(send func(string, smtp.Auth, string, []string, []byte) error) *EmailDriver {
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailDriver{send: send}
}

func (e *EmailDriver) Send(ctx context.Context, config json.RawMessage, title, body string) error {
	var cfg emailConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("email config: %w", err)
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return fmt.Errorf("email config: host, from and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + cfg.From,
		"To: " + strings.Join(cfg.To, ", "),
		"Subject: " + title,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	// smtp.SendMail has no context hook; honour cancellation up front
	// and rely on the dial timeout for the rest.
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return e.send(addr, auth, cfg.From, cfg.To, []byte(msg))
}
