package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-gatekeeper/core"
)

const (
	defaultSendGridBaseURL = "https://api.sendgrid.com"
	sendGridMailPath       = "/v3/mail/send"
	defaultSendTimeout     = 10 * time.Second
)

var defaultSubjects = map[core.NotificationKind]string{
	core.NotificationWelcome:                "Welcome aboard",
	core.NotificationEnrollmentConfirmation: "Your enrollment is confirmed",
	core.NotificationPaymentReceipt:         "Your payment receipt",
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type SendGridConfig struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	// Templates maps notification kinds to dynamic template ids. Kinds
	// without a template are sent as plain text.
	Templates  map[string]string
	Timeout    time.Duration
	HTTPClient HTTPDoer
	Observer   core.Observer
}

type SendGridNotifier struct {
	apiKey    string
	endpoint  string
	from      mailAddress
	templates map[string]string
	timeout   time.Duration
	client    HTTPDoer
	observer  core.Observer
}

func NewSendGridNotifier(cfg SendGridConfig) (*SendGridNotifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("notify: sendgrid api key is required")
	}
	fromEmail := strings.TrimSpace(cfg.FromEmail)
	if fromEmail == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultSendGridBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	templates := make(map[string]string, len(cfg.Templates))
	for kind, id := range cfg.Templates {
		if id = strings.TrimSpace(id); id != "" {
			templates[strings.TrimSpace(kind)] = id
		}
	}
	return &SendGridNotifier{
		apiKey:    apiKey,
		endpoint:  baseURL + sendGridMailPath,
		from:      mailAddress{Email: fromEmail, Name: strings.TrimSpace(cfg.FromName)},
		templates: templates,
		timeout:   timeout,
		client:    client,
		observer:  cfg.Observer,
	}, nil
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type personalization struct {
	To                  []mailAddress  `json:"to"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             mailAddress       `json:"from"`
	TemplateID       string            `json:"template_id,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Content          []mailContent     `json:"content,omitempty"`
}

func (n *SendGridNotifier) Send(ctx context.Context, kind core.NotificationKind, recipient string, data map[string]any) (sent bool) {
	if n == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	var sendErr error
	defer func() {
		n.observer.Observe(ctx, startedAt, "notify.sendgrid", sendErr, map[string]any{
			"kind": string(kind),
		})
	}()

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		sendErr = fmt.Errorf("notify: recipient is required")
		return false
	}

	body, err := json.Marshal(n.buildRequest(kind, recipient, data))
	if err != nil {
		sendErr = err
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		sendErr = err
		return false
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		sendErr = err
		return false
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr = fmt.Errorf("notify: sendgrid responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		return false
	}
	return true
}

func (n *SendGridNotifier) buildRequest(kind core.NotificationKind, recipient string, data map[string]any) mailRequest {
	req := mailRequest{
		Personalizations: []personalization{{
			To:                  []mailAddress{{Email: recipient}},
			DynamicTemplateData: data,
		}},
		From: n.from,
	}
	if templateID, ok := n.templates[string(kind)]; ok {
		req.TemplateID = templateID
		return req
	}
	req.Personalizations[0].DynamicTemplateData = nil
	req.Subject = subjectFor(kind)
	req.Content = []mailContent{{Type: "text/plain", Value: plainText(kind, data)}}
	return req
}

func subjectFor(kind core.NotificationKind) string {
	if subject, ok := defaultSubjects[kind]; ok {
		return subject
	}
	return strings.ReplaceAll(string(kind), "_", " ")
}

func plainText(kind core.NotificationKind, data map[string]any) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(subjectFor(kind))
	b.WriteString("\n\n")
	for _, key := range keys {
		fmt.Fprintf(&b, "%s: %v\n", key, data[key])
	}
	return b.String()
}

var _ core.Notifier = (*SendGridNotifier)(nil)
