package alert

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/wneessen/go-mail"
)

const (
	defaultSMTPHost = "smtp.gmail.com"
	defaultSMTPPort = 587

	// smtpTimeout bounds the dial and each SMTP exchange.
	smtpTimeout = 10 * time.Second
)

type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

func DefaultEmailConfig() EmailConfig {
	return EmailConfig{
		Host: defaultSMTPHost,
		Port: defaultSMTPPort,
	}
}

func (c EmailConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		missing = append(missing, "port")
	}
	if c.From == "" {
		missing = append(missing, "from")
	}
	if len(c.To) == 0 {
		missing = append(missing, "to")
	}
	if len(missing) > 0 {
		return errors.New().WithData(ErrInvalidConfig, "alerts.email: invalid "+strings.Join(missing, ", "))
	}
	return nil
}

// sendFunc delivers one composed message, honouring ctx.
type sendFunc func(ctx context.Context, m *mail.Msg) error

// EmailSink mails a detailed report for each alert. The client upgrades to
// STARTTLS when the server offers it.
type EmailSink struct {
	cfg  EmailConfig
	send sendFunc
}

func NewEmailSink(cfg EmailConfig) (*EmailSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithPort(cfg.Port),
		mail.WithTimeout(smtpTimeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}

	return &EmailSink{
		cfg: cfg,
		send: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
	}, nil
}

func (e *EmailSink) Notify(ctx context.Context, s telemetry.Sample, message string) error {
	m, err := composeEmail(e.cfg.From, e.cfg.To, s, message)
	if err != nil {
		return errors.New().Wrap(ErrEmailFailed, err)
	}

	if err := e.send(ctx, m); err != nil {
		if ctx.Err() != nil {
			return errors.New().Wrap(ErrTimeout, err)
		}
		return errors.New().Wrap(ErrEmailFailed, err)
	}
	return nil
}

func composeEmail(from string, to []string, s telemetry.Sample, message string) (*mail.Msg, error) {
	m := mail.NewMsg(mail.WithCharset(mail.CharsetUTF8), mail.WithEncoding(mail.NoEncoding))
	if err := m.From(from); err != nil {
		return nil, err
	}
	if err := m.To(to...); err != nil {
		return nil, err
	}
	m.Subject("BMS Alert: " + s.Status.Words())

	var b strings.Builder
	b.WriteString("Battery Monitoring System Alert\r\n")
	b.WriteString("----------------------------------\r\n")
	b.WriteString(message + "\r\n\r\n")
	for _, line := range strings.Split(strings.TrimRight(s.Detail(), "\n"), "\n") {
		b.WriteString(line + "\r\n")
	}
	b.WriteString("\r\nImmediate inspection is recommended.\r\n")
	m.SetBodyString(mail.TypeTextPlain, b.String())

	return m, nil
}
