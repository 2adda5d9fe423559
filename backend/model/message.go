package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

// Inbound kinds.
const (
	KindJoin           Kind = "join"
	KindLeave          Kind = "leave"
	KindCodeChange     Kind = "code_change"
	KindCursorMove     Kind = "cursor_move"
	KindLanguageChange Kind = "language_change"
	KindChatMessage    Kind = "chat_message"
	KindVoiceAudio     Kind = "voice_audio"
	KindExecuteCode    Kind = "execute_code"
	KindPing           Kind = "ping"
)

// Envelope is the raw wire unit before the payload is interpreted.
type Envelope struct {
	Type    Kind            `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a decoded client message. The set of implementations is closed:
// only the types in this file satisfy it.
type Inbound interface {
	Kind() Kind
	Room() string
	isInbound()
}

type (
	Join struct {
		RoomID   string
		UserName string
	}
	Leave struct {
		RoomID string
	}
	CodeChange struct {
		RoomID string
		Code   string
	}
	CursorMove struct {
		RoomID string
		Cursor Cursor
	}
	LanguageChange struct {
		RoomID   string
		Language string
	}
	ChatMessage struct {
		RoomID  string
		Message string
	}
	VoiceAudio struct {
		RoomID    string
		AudioData string
		MimeType  string
	}
	ExecuteCode struct {
		RoomID  string
		Request ExecRequest
	}
	Ping struct{}
)

func (Join) Kind() Kind           { return KindJoin }
func (Leave) Kind() Kind          { return KindLeave }
func (CodeChange) Kind() Kind     { return KindCodeChange }
func (CursorMove) Kind() Kind     { return KindCursorMove }
func (LanguageChange) Kind() Kind { return KindLanguageChange }
func (ChatMessage) Kind() Kind    { return KindChatMessage }
func (VoiceAudio) Kind() Kind     { return KindVoiceAudio }
func (ExecuteCode) Kind() Kind    { return KindExecuteCode }
func (Ping) Kind() Kind           { return KindPing }

func (m Join) Room() string           { return m.RoomID }
func (m Leave) Room() string          { return m.RoomID }
func (m CodeChange) Room() string     { return m.RoomID }
func (m CursorMove) Room() string     { return m.RoomID }
func (m LanguageChange) Room() string { return m.RoomID }
func (m ChatMessage) Room() string    { return m.RoomID }
func (m VoiceAudio) Room() string     { return m.RoomID }
func (m ExecuteCode) Room() string    { return m.RoomID }
func (Ping) Room() string             { return "" }

func (Join) isInbound()           {}
func (Leave) isInbound()          {}
func (CodeChange) isInbound()     {}
func (CursorMove) isInbound()     {}
func (LanguageChange) isInbound() {}
func (ChatMessage) isInbound()    {}
func (VoiceAudio) isInbound()     {}
func (ExecuteCode) isInbound()    {}
func (Ping) isInbound()           {}

type (
	joinPayload struct {
		UserName *string `json:"user_name"`
	}
	codePayload struct {
		Code *string `json:"code"`
	}
	cursorPayload struct {
		Position     *Position `json:"position"`
		SelectionEnd *Position `json:"selection_end"`
	}
	languagePayload struct {
		Language *string `json:"language"`
	}
	chatPayload struct {
		Message *string `json:"message"`
	}
	voicePayload struct {
		AudioData *string `json:"audio_data"`
		MimeType  string  `json:"mime_type"`
	}
	executePayload struct {
		Code     *string `json:"code"`
		Language *string `json:"language"`
		Stdin    string  `json:"stdin"`
		Version  string  `json:"version"`
	}
)

// Decode parses one inbound frame. defaultRoom fills an absent room_id, which
// lets sockets scoped to a room path omit it.
func Decode(raw []byte, defaultRoom string) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidRequest, err)
	}
	if env.Type == KindPing {
		return Ping{}, nil
	}
	if env.RoomID == "" {
		env.RoomID = defaultRoom
	}
	if env.RoomID == "" {
		return nil, fmt.Errorf("%w: room_id is required", ErrInvalidRequest)
	}

	switch env.Type {
	case KindJoin:
		var p joinPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserName == nil || strings.TrimSpace(*p.UserName) == "" {
			return nil, missing(env.Type, "user_name")
		}
		return Join{RoomID: env.RoomID, UserName: strings.TrimSpace(*p.UserName)}, nil

	case KindLeave:
		return Leave{RoomID: env.RoomID}, nil

	case KindCodeChange:
		var p codePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		// empty code is a valid document
		if p.Code == nil {
			return nil, missing(env.Type, "code")
		}
		return CodeChange{RoomID: env.RoomID, Code: *p.Code}, nil

	case KindCursorMove:
		var p cursorPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Position == nil {
			return nil, missing(env.Type, "position")
		}
		return CursorMove{
			RoomID: env.RoomID,
			Cursor: Cursor{Position: *p.Position, SelectionEnd: p.SelectionEnd},
		}, nil

	case KindLanguageChange:
		var p languagePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Language == nil || strings.TrimSpace(*p.Language) == "" {
			return nil, missing(env.Type, "language")
		}
		return LanguageChange{RoomID: env.RoomID, Language: strings.TrimSpace(*p.Language)}, nil

	case KindChatMessage:
		var p chatPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Message == nil || strings.TrimSpace(*p.Message) == "" {
			return nil, missing(env.Type, "message")
		}
		return ChatMessage{RoomID: env.RoomID, Message: *p.Message}, nil

	case KindVoiceAudio:
		var p voicePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.AudioData == nil || *p.AudioData == "" {
			return nil, missing(env.Type, "audio_data")
		}
		return VoiceAudio{RoomID: env.RoomID, AudioData: *p.AudioData, MimeType: p.MimeType}, nil

	case KindExecuteCode:
		var p executePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Code == nil || strings.TrimSpace(*p.Code) == "" {
			return nil, missing(env.Type, "code")
		}
		if p.Language == nil || strings.TrimSpace(*p.Language) == "" {
			return nil, missing(env.Type, "language")
		}
		return ExecuteCode{
			RoomID: env.RoomID,
			Request: ExecRequest{
				Code:     *p.Code,
				Language: strings.TrimSpace(*p.Language),
				Stdin:    p.Stdin,
				Version:  p.Version,
			},
		}, nil

	case "":
		return nil, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, env.Type)
}

func decodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", ErrInvalidRequest, env.Type, err)
	}
	return nil
}

func missing(kind Kind, field string) error {
	return fmt.Errorf("%w: %s requires payload.%s", ErrInvalidRequest, kind, field)
}
