package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Reply limits imposed by WhatsApp interactive messages.
const (
	MaxButtonOptions = 3
	MaxListOptions   = 10
)

// Validation errors for reply directives.
var (
	ErrEmptyReplyBody    = errors.New("reply body cannot be empty")
	ErrNoReplyOptions    = errors.New("reply must offer at least one option")
	ErrTooManyButtons    = errors.New("button reply offers more than 3 options")
	ErrEmptyReplyOption  = errors.New("reply option cannot be empty")
	ErrEmptyListAction   = errors.New("list reply action label cannot be empty")
	ErrUnknownReplyKind  = errors.New("unknown reply kind")
	ErrEmptyInboundID    = errors.New("inbound message id cannot be empty")
	ErrEmptyInboundFrom  = errors.New("inbound message sender cannot be empty")
	ErrEmptyInboundInput = errors.New("inbound message carries neither text nor media")
)

// ReplyKind identifies the shape of a reply directive.
type ReplyKind string

const (
	ReplyKindText    ReplyKind = "text"
	ReplyKindButtons ReplyKind = "buttons"
	ReplyKindList    ReplyKind = "list"
)

// Reply is an outbound directive produced by the conversation engine. It is one
// of TextReply, ButtonsReply or ListReply.
type Reply interface {
	Kind() ReplyKind
	Validate() error
}

// TextReply is a plain text message.
type TextReply struct {
	Body string `json:"body"`
}

// ButtonsReply is a text with up to three quick-reply buttons.
type ButtonsReply struct {
	Body    string   `json:"body"`
	Options []string `json:"options"`
}

// ListReply is an interactive list: a header, a body, the label of the button
// that opens the list and the ordered options.
type ListReply struct {
	Header  string   `json:"header"`
	Body    string   `json:"body"`
	Action  string   `json:"action"`
	Options []string `json:"options"`
}

func (TextReply) Kind() ReplyKind    { return ReplyKindText }
func (ButtonsReply) Kind() ReplyKind { return ReplyKindButtons }
func (ListReply) Kind() ReplyKind    { return ReplyKindList }

// Validate checks the text reply.
func (r TextReply) Validate() error {
	if r.Body == "" {
		return ErrEmptyReplyBody
	}
	return nil
}

// Validate checks the button count and labels.
func (r ButtonsReply) Validate() error {
	if r.Body == "" {
		return ErrEmptyReplyBody
	}
	if len(r.Options) == 0 {
		return ErrNoReplyOptions
	}
	if len(r.Options) > MaxButtonOptions {
		return ErrTooManyButtons
	}
	return validateOptions(r.Options)
}

// Validate checks the list labels. Lists longer than MaxListOptions are valid
// here; transports truncate them.
func (r ListReply) Validate() error {
	if r.Body == "" {
		return ErrEmptyReplyBody
	}
	if r.Action == "" {
		return ErrEmptyListAction
	}
	if len(r.Options) == 0 {
		return ErrNoReplyOptions
	}
	return validateOptions(r.Options)
}

func validateOptions(options []string) error {
	for _, o := range options {
		if o == "" {
			return ErrEmptyReplyOption
		}
	}
	return nil
}

// MarshalJSON adds the reply kind to the encoded text reply.
func (r TextReply) MarshalJSON() ([]byte, error) {
	type alias TextReply
	return json.Marshal(struct {
		Type ReplyKind `json:"type"`
		alias
	}{r.Kind(), alias(r)})
}

// MarshalJSON adds the reply kind to the encoded button reply.
func (r ButtonsReply) MarshalJSON() ([]byte, error) {
	type alias ButtonsReply
	return json.Marshal(struct {
		Type ReplyKind `json:"type"`
		alias
	}{r.Kind(), alias(r)})
}

// MarshalJSON adds the reply kind to the encoded list reply.
func (r ListReply) MarshalJSON() ([]byte, error) {
	type alias ListReply
	return json.Marshal(struct {
		Type ReplyKind `json:"type"`
		alias
	}{r.Kind(), alias(r)})
}

// InboundKind is the kind of content an inbound message carried.
type InboundKind string

const (
	InboundText   InboundKind = "text"
	InboundButton InboundKind = "button"
	InboundList   InboundKind = "list"
	InboundImage  InboundKind = "image"
)

// InboundMessage is a normalized message received from any transport.
type InboundMessage struct {
	ID       string      `json:"id"`
	From     string      `json:"from"`
	Text     string      `json:"text"`
	MediaRef string      `json:"media_ref,omitempty"`
	Kind     InboundKind `json:"kind"`
	Time     time.Time   `json:"time"`
}

// Validate checks that the message can be dispatched.
func (m InboundMessage) Validate() error {
	if m.ID == "" {
		return ErrEmptyInboundID
	}
	if m.From == "" {
		return ErrEmptyInboundFrom
	}
	if m.Text == "" && m.MediaRef == "" {
		return ErrEmptyInboundInput
	}
	return nil
}
