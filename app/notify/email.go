package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EmailPaymentReceived  = "payment_received"
	EmailEscrowReleased   = "escrow_released"
	EmailSplitDistributed = "split_distributed"
	EmailLinkCreated      = "link_created"
)

var ErrUnknownEmailTemplate = errors.New("unknown email template")

type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

type emailTemplate struct {
	subject string
	body    *template.Template
}

const emailLayoutStart = `<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">`
const emailLayoutEnd = `<a href="{{.dashboard_url}}">View Dashboard</a></div>`

var emailTemplates = map[string]emailTemplate{
	EmailPaymentReceived: {
		subject: "Payment Received - ShiftStream",
		body: template.Must(template.New(EmailPaymentReceived).Parse(emailLayoutStart + `
<h1>Payment Received</h1>
<p>Your payment link has received a payment.</p>
<p><strong>Amount:</strong> {{.amount}} {{.coin}}</p>
<p><strong>Settled:</strong> {{.settled_amount}} USDC</p>
<p><strong>Link ID:</strong> {{.link_id}}</p>
` + emailLayoutEnd)),
	},
	EmailEscrowReleased: {
		subject: "Escrow Released - ShiftStream",
		body: template.Must(template.New(EmailEscrowReleased).Parse(emailLayoutStart + `
<h1>Escrow Released</h1>
<p>The escrow condition has been met and funds have been released.</p>
<p><strong>Amount:</strong> {{.amount}} USDC</p>
<p><strong>Condition:</strong> {{.condition}}</p>
<p><strong>Released To:</strong> {{.recipient}}</p>
` + emailLayoutEnd)),
	},
	EmailSplitDistributed: {
		subject: "Split Payment Distributed - ShiftStream",
		body: template.Must(template.New(EmailSplitDistributed).Parse(emailLayoutStart + `
<h1>Split Payment Distributed</h1>
<p>A split payment has been distributed to all recipients.</p>
<p><strong>Total Amount:</strong> {{.total_amount}} USDC</p>
<p><strong>Recipients:</strong> {{.recipient_count}}</p>
` + emailLayoutEnd)),
	},
	EmailLinkCreated: {
		subject: "Payment Link Created - ShiftStream",
		body: template.Must(template.New(EmailLinkCreated).Parse(emailLayoutStart + `
<h1>Payment Link Created</h1>
<p>Your new payment link is ready to receive payments.</p>
<p><strong>Type:</strong> {{.kind}}</p>
<p><strong>Accept:</strong> {{.deposit_coin}} on {{.deposit_network}}</p>
<p><strong>Deposit Address:</strong> <code>{{.deposit_address}}</code></p>
` + emailLayoutEnd)),
	},
}

// RenderEmail builds the message for one of the known templates. Missing keys
// render as empty strings.
func RenderEmail(name, to string, data map[string]string) (*EmailMessage, error) {
	tpl, ok := emailTemplates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEmailTemplate, name)
	}

	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return nil, err
	}

	return &EmailMessage{
		To:      to,
		Subject: tpl.subject,
		HTML:    strings.TrimSpace(buf.String()),
	}, nil
}

type HTTPMailerConfig struct {
	BaseURL     string
	APIKey      string
	From        string
	HTTPTimeout time.Duration
}

// HTTPMailer sends through a Resend-compatible POST /emails API.
type HTTPMailer struct {
	cfg    HTTPMailerConfig
	client *http.Client
}

func NewHTTPMailer(cfg HTTPMailerConfig) *HTTPMailer {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	return &HTTPMailer{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (m *HTTPMailer) Send(ctx context.Context, msg *EmailMessage) error {
	body, err := json.Marshal(map[string]interface{}{
		"from":    m.cfg.From,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email api responded with status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// LogMailer only logs messages. Used when no e-mail API is configured.
type LogMailer struct {
	logger logrus.FieldLogger
}

func NewLogMailer(logger logrus.FieldLogger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg *EmailMessage) error {
	m.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email notification")
	return nil
}
