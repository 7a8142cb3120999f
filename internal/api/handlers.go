package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sebashdez96/biotecza-bot/internal/cloudapi"
	"github.com/sebashdez96/biotecza-bot/internal/conversation"
	"github.com/sebashdez96/biotecza-bot/internal/messaging"
	"github.com/sebashdez96/biotecza-bot/internal/models"
	"github.com/sebashdez96/biotecza-bot/internal/twiliowhatsapp"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "biotecza-bot"}))
}

// verifyWebhookHandler answers Meta's subscription handshake.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := cloudapi.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.verifyToken)
	if !ok {
		slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "Token inválido", http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhookHandler: webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// cloudWebhookHandler processes Cloud API events. A 500 makes Meta redeliver.
func (s *Server) cloudWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodyBytes))
	if err != nil {
		slog.Warn("Server.cloudWebhookHandler: failed to read body", "error", err)
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	msgs, err := cloudapi.ParseWebhook(body)
	if err != nil {
		slog.Warn("Server.cloudWebhookHandler: invalid payload", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if len(msgs) == 0 {
		writeJSONResponse(w, http.StatusOK, models.Ignored("No messages in event"))
		return
	}

	var failed int
	var firstErr error
	for _, msg := range msgs {
		if err := s.cloudInbound.Process(r.Context(), msg); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			slog.Error("Server.cloudWebhookHandler: message failed", "error", err, "id", msg.ID)
		}
	}
	if failed > 0 {
		writeProcessingError(w, firstErr, fmt.Sprintf("%d of %d messages failed", failed, len(msgs)))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("EVENT_RECEIVED", nil))
}

// twilioWebhookHandler processes Twilio inbound messages and answers with empty TwiML.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.twilioAuthToken != "" && s.twilioWebhookURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !twiliowhatsapp.ValidateSignature(s.twilioAuthToken, s.twilioWebhookURL, params, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	msg, err := messaging.ParseTwilioForm(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: missing fields", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if err := s.twilioInbound.Process(r.Context(), msg); err != nil {
		slog.Error("Server.twilioWebhookHandler: message failed", "error", err, "id", msg.ID)
		http.Error(w, "Internal server error", processingStatus(err))
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, emptyTwiML)
}

// simulateHandler runs a message through the dispatcher and returns the
// replies instead of sending them.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req models.SimulateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxWebhookBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.simulateHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	phone, err := messaging.CanonicalizePhone(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.MediaRef == "" {
		writeError(w, http.StatusBadRequest, models.ErrEmptyInboundInput.Error())
		return
	}

	replies, err := s.dispatcher.Handle(r.Context(), phone, conversation.Input{Text: req.Text, MediaRef: req.MediaRef})
	if err != nil {
		slog.Error("Server.simulateHandler: dispatch failed", "error", err, "phone", phone)
		writeProcessingError(w, err, "Failed to process message")
		return
	}

	state, err := s.sessions.GetState(r.Context(), phone)
	if err != nil {
		slog.Error("Server.simulateHandler: failed to read state", "error", err, "phone", phone)
		writeError(w, http.StatusInternalServerError, "Failed to read state")
		return
	}
	if replies == nil {
		replies = []models.Reply{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.SimulateResult{From: phone, State: state, Replies: replies}))
}
