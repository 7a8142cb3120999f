// Package cloudapi talks to the Meta WhatsApp Cloud API: it sends text,
// button and list messages and parses the webhook events Meta delivers.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/models"
)

const (
	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is the Graph API version used for sends.
	DefaultAPIVersion = "v21.0"
	// DefaultTimeout bounds a single send.
	DefaultTimeout = 15 * time.Second

	// MaxListRows is the number of rows a list message may carry.
	MaxListRows = 10
	// MaxRowTitleRunes is the longest list row title Meta accepts.
	MaxRowTitleRunes = 24
	// MaxButtonTitleRunes is the longest reply button title Meta accepts.
	MaxButtonTitleRunes = 20
	// MaxIDRunes is the longest button or row id Meta accepts.
	MaxIDRunes = 200

	listSectionTitle = "Opciones"
)

// Sender delivers reply directives through the Cloud API.
type Sender interface {
	Send(ctx context.Context, to string, reply models.Reply) error
}

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithToken sets the bearer token used for sends.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPhoneNumberID sets the business phone number id messages are sent from.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithAPIVersion overrides DefaultAPIVersion.
func WithAPIVersion(version string) Option {
	return func(o *Opts) { o.APIVersion = version }
}

// WithBaseURL overrides DefaultBaseURL. Tests point it at an httptest server.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is a Cloud API REST client.
type Client struct {
	http     *http.Client
	endpoint string
	token    string
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient builds a client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIVersion: DefaultAPIVersion,
		BaseURL:    DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("cloudapi.NewClient options set", "token_set", cfg.Token != "", "phone_number_id", cfg.PhoneNumberID, "version", cfg.APIVersion)

	if cfg.Token == "" {
		return nil, fmt.Errorf("cloud API token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("cloud API phone number id must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		http:     cfg.HTTPClient,
		endpoint: fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		token:    cfg.Token,
	}, nil
}

// Send renders reply as the matching Cloud API payload and posts it.
func (c *Client) Send(ctx context.Context, to string, reply models.Reply) error {
	payload, err := BuildPayload(to, reply)
	if err != nil {
		return err
	}
	return c.post(ctx, to, payload)
}

func (c *Client) post(ctx context.Context, to string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode cloud API payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build cloud API request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("cloudapi.Client.Send: request failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("cloudapi.Client.Send: unexpected status", "status", resp.StatusCode, "to", to)
		return &APIError{StatusCode: resp.StatusCode, Body: string(detail)}
	}
	io.Copy(io.Discard, resp.Body)

	slog.Debug("cloudapi.Client.Send: message sent", "to", to)
	return nil
}

// APIError is returned when the Graph API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud API returned status %d: %s", e.StatusCode, e.Body)
}

type textPayload struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             bodyText `json:"text"`
}

type bodyText struct {
	Body string `json:"body"`
}

type interactivePayload struct {
	MessagingProduct string      `json:"messaging_product"`
	To               string      `json:"to"`
	Type             string      `json:"type"`
	Interactive      interactive `json:"interactive"`
}

type interactive struct {
	Type   string      `json:"type"`
	Header *header     `json:"header,omitempty"`
	Body   textElement `json:"body"`
	Action action      `json:"action"`
}

type header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textElement struct {
	Text string `json:"text"`
}

type action struct {
	Button   string    `json:"button,omitempty"`
	Buttons  []button  `json:"buttons,omitempty"`
	Sections []section `json:"sections,omitempty"`
}

type button struct {
	Type  string `json:"type"`
	Reply row    `json:"reply"`
}

type section struct {
	Title string `json:"title"`
	Rows  []row  `json:"rows"`
}

type row struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// BuildPayload returns the JSON document for reply. Titles longer than Meta
// accepts are truncated; the id keeps the full option so a tap round-trips to
// the exact token the conversation engine offered.
func BuildPayload(to string, reply models.Reply) (any, error) {
	if err := reply.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reply: %w", err)
	}

	switch r := reply.(type) {
	case models.TextReply:
		return textPayload{MessagingProduct: "whatsapp", To: to, Type: "text", Text: bodyText{Body: r.Body}}, nil

	case models.ButtonsReply:
		buttons := make([]button, 0, len(r.Options))
		for _, o := range r.Options {
			buttons = append(buttons, button{Type: "reply", Reply: row{ID: truncate(o, MaxIDRunes), Title: truncate(o, MaxButtonTitleRunes)}})
		}
		return interactivePayload{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "interactive",
			Interactive: interactive{
				Type:   "button",
				Body:   textElement{Text: r.Body},
				Action: action{Buttons: buttons},
			},
		}, nil

	case models.ListReply:
		options := r.Options
		if len(options) > MaxListRows {
			slog.Warn("cloudapi.BuildPayload: list truncated", "options", len(options), "max", MaxListRows)
			options = options[:MaxListRows]
		}
		rows := make([]row, 0, len(options))
		for _, o := range options {
			rows = append(rows, row{ID: truncate(o, MaxIDRunes), Title: truncate(o, MaxRowTitleRunes)})
		}
		var h *header
		if r.Header != "" {
			h = &header{Type: "text", Text: r.Header}
		}
		return interactivePayload{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "interactive",
			Interactive: interactive{
				Type:   "list",
				Header: h,
				Body:   textElement{Text: r.Body},
				Action: action{
					Button:   truncate(r.Action, MaxButtonTitleRunes),
					Sections: []section{{Title: listSectionTitle, Rows: rows}},
				},
			},
		}, nil
	}
	return nil, models.ErrUnknownReplyKind
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
