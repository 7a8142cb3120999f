package messaging

import (
	"strings"

	"github.com/sebashdez96/biotecza-bot/internal/models"
)

const optionsPrompt = "Responde con una de estas opciones:"

// RenderText flattens a reply directive for transports without interactive
// messages. Options are listed verbatim because the conversation engine
// matches replies by exact token.
func RenderText(reply models.Reply) string {
	switch r := reply.(type) {
	case models.TextReply:
		return r.Body
	case models.ButtonsReply:
		return withOptions(r.Body, r.Options)
	case models.ListReply:
		body := r.Body
		if r.Header != "" {
			body = "*" + r.Header + "*\n" + body
		}
		return withOptions(body, r.Options)
	}
	return ""
}

func withOptions(body string, options []string) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(optionsPrompt)
	for _, o := range options {
		b.WriteString("\n• ")
		b.WriteString(o)
	}
	return b.String()
}
