package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/knadh/smtppool"

	identity "github.com/goliatone/go-identity"
)

// Sender delivers one email. *smtppool.Pool satisfies it.
type Sender interface {
	Send(e smtppool.Email) error
}

// SMTPConfig configures the SMTP connection pool and addressing.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	ReplyTo            string
	AdminEmail         string
	MaxConns           int
	Timeout            time.Duration
	InsecureSkipVerify bool
	TemplateDir        string
}

// SMTPNotifier renders notifications with pongo2 and sends them through an
// smtppool connection pool.
type SMTPNotifier struct {
	config    SMTPConfig
	sender    Sender
	templates *Templates
	logger    identity.Logger
}

var _ identity.Notifier = (*SMTPNotifier)(nil)

// SMTPOption customizes an SMTPNotifier.
type SMTPOption func(*SMTPNotifier)

// WithSender replaces the SMTP pool.
func WithSender(sender Sender) SMTPOption {
	return func(n *SMTPNotifier) {
		n.sender = sender
	}
}

// WithTemplates replaces the templates.
func WithTemplates(t *Templates) SMTPOption {
	return func(n *SMTPNotifier) {
		n.templates = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger identity.Logger) SMTPOption {
	return func(n *SMTPNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func NewSMTPNotifier(cfg SMTPConfig, opts ...SMTPOption) (*SMTPNotifier, error) {
	n := &SMTPNotifier{
		config: cfg,
		logger: identity.NamedLogger("identity.notify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}

	if n.templates == nil {
		templates, err := LoadTemplatesDir(cfg.TemplateDir)
		if err != nil {
			return nil, err
		}
		n.templates = templates
	}

	if n.sender == nil {
		pool, err := newPool(cfg)
		if err != nil {
			return nil, err
		}
		n.sender = pool
	}

	return n, nil
}

func newPool(cfg SMTPConfig) (*smtppool.Pool, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}

	return smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        maxConns,
		IdleTimeout:     timeout,
		PoolWaitTimeout: timeout,
		Auth:            auth,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			ServerName:         cfg.Host,
		},
	})
}

// Notify renders and sends n. Notifications without a recipient go to the
// administrator address, and are dropped when none is configured.
func (n *SMTPNotifier) Notify(ctx context.Context, msg identity.Notification) error {
	to := msg.To
	if to == "" {
		to = n.config.AdminEmail
	}
	if to == "" {
		n.logger.Debug("notification dropped, no recipient", "kind", string(msg.Kind))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body, err := n.templates.Render(msg)
	if err != nil {
		return err
	}

	email := smtppool.Email{
		From:    n.config.From,
		To:      []string{to},
		Subject: subject,
		HTML:    []byte(body),
		Headers: textproto.MIMEHeader{},
	}
	if n.config.ReplyTo != "" {
		email.ReplyTo = []string{n.config.ReplyTo}
	}
	email.Headers.Set("X-Notification-Kind", string(msg.Kind))

	if err := n.sender.Send(email); err != nil {
		return fmt.Errorf("notify: send %s: %w", msg.Kind, err)
	}

	n.logger.Debug("notification sent", "kind", string(msg.Kind), "account_id", msg.AccountID)
	return nil
}

// Close releases the pool connections.
func (n *SMTPNotifier) Close() {
	if pool, ok := n.sender.(*smtppool.Pool); ok {
		pool.Close()
	}
}
