package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebashdez96/biotecza-bot/internal/models"
)

type capturedRequest struct {
	path   string
	auth   string
	body   map[string]any
	status int
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured.body); err != nil {
			t.Errorf("server received invalid JSON: %v", err)
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"messages":[{"id":"wamid.X"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(WithToken("secret"), WithPhoneNumberID("12345"), WithBaseURL(baseURL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithPhoneNumberID("1")); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewClient(WithToken("t")); err == nil {
		t.Error("expected error without phone number id")
	}
}

func TestSendText(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	c := newTestClient(t, srv.URL)

	if err := c.Send(context.Background(), "5215512345678", models.TextReply{Body: "hola"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got.path != "/v21.0/12345/messages" {
		t.Errorf("unexpected path %q", got.path)
	}
	if got.auth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", got.auth)
	}
	if got.body["messaging_product"] != "whatsapp" || got.body["type"] != "text" || got.body["to"] != "5215512345678" {
		t.Errorf("unexpected envelope %v", got.body)
	}
	if got.body["text"].(map[string]any)["body"] != "hola" {
		t.Errorf("unexpected text body %v", got.body["text"])
	}
}

func TestSendButtonsTruncatesTitleKeepsID(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	c := newTestClient(t, srv.URL)

	long := "Finalizar Pedido Ahora Mismo"
	if err := c.Send(context.Background(), "52155", models.ButtonsReply{Body: "¿Qué sigue?", Options: []string{"Regresar", long}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	inter := got.body["interactive"].(map[string]any)
	if inter["type"] != "button" {
		t.Fatalf("unexpected interactive type %v", inter["type"])
	}
	buttons := inter["action"].(map[string]any)["buttons"].([]any)
	if len(buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(buttons))
	}
	reply := buttons[1].(map[string]any)["reply"].(map[string]any)
	if reply["id"] != long {
		t.Errorf("id should carry the full option, got %v", reply["id"])
	}
	if title := reply["title"].(string); len([]rune(title)) != MaxButtonTitleRunes {
		t.Errorf("title not truncated to %d runes: %q", MaxButtonTitleRunes, title)
	}
}

func TestBuildListPayloadCapsRows(t *testing.T) {
	options := make([]string, 12)
	for i := range options {
		options[i] = strings.Repeat("á", 30) + string(rune('a'+i))
	}
	p, err := BuildPayload("52155", models.ListReply{Header: "Categorías", Body: "Elige", Action: "Ver categorías", Options: options})
	if err != nil {
		t.Fatalf("BuildPayload failed: %v", err)
	}
	list := p.(interactivePayload).Interactive
	if list.Type != "list" || list.Header == nil || list.Header.Text != "Categorías" {
		t.Errorf("unexpected list header %+v", list.Header)
	}
	rows := list.Action.Sections[0].Rows
	if len(rows) != MaxListRows {
		t.Fatalf("expected %d rows, got %d", MaxListRows, len(rows))
	}
	if list.Action.Sections[0].Title != "Opciones" {
		t.Errorf("unexpected section title %q", list.Action.Sections[0].Title)
	}
	for i, r := range rows {
		if len([]rune(r.Title)) != MaxRowTitleRunes {
			t.Errorf("row %d title has %d runes", i, len([]rune(r.Title)))
		}
		if r.ID != options[i] {
			t.Errorf("row %d id %q, want %q", i, r.ID, options[i])
		}
	}
}

func TestBuildPayloadRejectsInvalidReply(t *testing.T) {
	if _, err := BuildPayload("1", models.ButtonsReply{Body: "x"}); !errors.Is(err, models.ErrNoReplyOptions) {
		t.Errorf("expected ErrNoReplyOptions, got %v", err)
	}
}

func TestSendNon2xxReturnsAPIError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized)
	c := newTestClient(t, srv.URL)

	err := c.Send(context.Background(), "52155", models.TextReply{Body: "hola"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

func TestVerifySubscription(t *testing.T) {
	tests := []struct {
		name, mode, token, expected string
		ok                          bool
	}{
		{"match", "subscribe", "abc", "abc", true},
		{"wrong token", "subscribe", "nope", "abc", false},
		{"wrong mode", "unsubscribe", "abc", "abc", false},
		{"unconfigured", "subscribe", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			challenge, ok := VerifySubscription(tt.mode, tt.token, "1158201444", tt.expected)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && challenge != "1158201444" {
				t.Errorf("unexpected challenge %q", challenge)
			}
		})
	}
}

const webhookBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "5215512345678", "id": "wamid.1", "timestamp": "1700000000", "type": "text", "text": {"body": "Hola"}},
          {"from": "5215512345678", "id": "wamid.2", "timestamp": "1700000001", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "Medicamentos", "title": "Medicamentos"}}},
          {"from": "5215512345678", "id": "wamid.3", "timestamp": "1700000002", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "Química Sanguínea de 6 Elementos", "title": "Química Sanguínea de 6 "}}},
          {"from": "5215512345678", "id": "wamid.4", "timestamp": "1700000003", "type": "image", "image": {"id": "MEDIA123", "mime_type": "image/jpeg"}},
          {"from": "5215512345678", "id": "wamid.5", "timestamp": "1700000004", "type": "sticker", "sticker": {"id": "S"}}
        ]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	msgs, err := ParseWebhook([]byte(webhookBody))
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (sticker skipped), got %d: %+v", len(msgs), msgs)
	}

	want := []struct {
		id, text, media string
		kind            models.InboundKind
	}{
		{"wamid.1", "Hola", "", models.InboundText},
		{"wamid.2", "Medicamentos", "", models.InboundButton},
		{"wamid.3", "Química Sanguínea de 6 Elementos", "", models.InboundList},
		{"wamid.4", "", "MEDIA123", models.InboundImage},
	}
	for i, w := range want {
		m := msgs[i]
		if m.ID != w.id || m.Text != w.text || m.MediaRef != w.media || m.Kind != w.kind {
			t.Errorf("message %d = %+v, want %+v", i, m, w)
		}
		if m.From != "5215512345678" {
			t.Errorf("message %d from %q", i, m.From)
		}
	}
	if msgs[0].Time.Unix() != 1700000000 {
		t.Errorf("unexpected timestamp %v", msgs[0].Time)
	}
}

func TestParseWebhookStatusOnly(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"delivered"}]}}]}]}`
	msgs, err := ParseWebhook([]byte(body))
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %+v", msgs)
	}
}

func TestParseWebhookInvalidJSON(t *testing.T) {
	if _, err := ParseWebhook([]byte("{not json")); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
