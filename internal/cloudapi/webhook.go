package cloudapi

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/tidwall/gjson"
)

// ErrInvalidPayload is returned for webhook bodies that are not JSON.
var ErrInvalidPayload = errors.New("invalid cloud API webhook payload")

// VerifySubscription implements the GET handshake Meta performs when a
// webhook is registered. It returns the challenge to echo and true when the
// mode is "subscribe" and the token matches.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, bool) {
	if expectedToken == "" || mode != "subscribe" || token != expectedToken {
		return "", false
	}
	return challenge, true
}

// ParseWebhook extracts the inbound user messages from a webhook body.
// Status updates and unsupported message types yield no messages.
func ParseWebhook(body []byte) ([]models.InboundMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidPayload
	}

	var out []models.InboundMessage
	gjson.GetBytes(body, "entry.#.changes.#.value.messages").ForEach(func(_, perEntry gjson.Result) bool {
		perEntry.ForEach(func(_, perChange gjson.Result) bool {
			perChange.ForEach(func(_, m gjson.Result) bool {
				if msg, ok := parseMessage(m); ok {
					out = append(out, msg)
				}
				return true
			})
			return true
		})
		return true
	})
	return out, nil
}

func parseMessage(m gjson.Result) (models.InboundMessage, bool) {
	msg := models.InboundMessage{
		ID:   m.Get("id").String(),
		From: m.Get("from").String(),
		Time: time.Now().UTC(),
	}
	if ts := m.Get("timestamp").Int(); ts > 0 {
		msg.Time = time.Unix(ts, 0).UTC()
	}

	switch m.Get("type").String() {
	case "text":
		msg.Kind = models.InboundText
		msg.Text = m.Get("text.body").String()
	case "interactive":
		if r := m.Get("interactive.button_reply"); r.Exists() {
			msg.Kind = models.InboundButton
			msg.Text = replyToken(r)
		} else if r := m.Get("interactive.list_reply"); r.Exists() {
			msg.Kind = models.InboundList
			msg.Text = replyToken(r)
		}
	case "button":
		msg.Kind = models.InboundButton
		msg.Text = m.Get("button.text").String()
	case "image":
		msg.Kind = models.InboundImage
		msg.MediaRef = m.Get("image.id").String()
		msg.Text = m.Get("image.caption").String()
	}

	if err := msg.Validate(); err != nil {
		slog.Debug("cloudapi.ParseWebhook: skipping message", "type", m.Get("type").String(), "reason", err)
		return models.InboundMessage{}, false
	}
	return msg, true
}

// replyToken prefers the id, which carries the untruncated option.
func replyToken(r gjson.Result) string {
	if id := r.Get("id").String(); id != "" {
		return id
	}
	return r.Get("title").String()
}
