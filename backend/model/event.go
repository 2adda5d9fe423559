package model

import "time"

// Outbound kinds that have no inbound counterpart.
const (
	KindRoomState         Kind = "room_state"
	KindParticipantJoined Kind = "participant_joined"
	KindParticipantLeft   Kind = "participant_left"
	KindExecuteStarted    Kind = "execute_started"
	KindPong              Kind = "pong"
	KindError             Kind = "error"
)

// Event is one outbound message. Seq is assigned by the room when the event
// is sequenced and is zero for connection-local events.
type Event struct {
	Type    Kind   `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	SRC     string `json:"src,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Lossy reports whether the event may be dropped for a recipient whose
// outbox is full instead of evicting the recipient.
func (ev Event) Lossy() bool {
	return ev.Type == KindCursorMove || ev.Type == KindVoiceAudio
}

type (
	RoomStatePayload struct {
		Self Participant `json:"self"`
		Room Room        `json:"room"`
	}

	ParticipantPayload struct {
		Participant Participant `json:"participant"`
	}

	CodeChangePayload struct {
		UserName string `json:"user_name"`
		Code     string `json:"code"`
	}

	CursorMovePayload struct {
		UserName     string    `json:"user_name"`
		Color        string    `json:"color"`
		Position     Position  `json:"position"`
		SelectionEnd *Position `json:"selection_end,omitempty"`
	}

	LanguageChangePayload struct {
		UserName string `json:"user_name"`
		Language string `json:"language"`
	}

	ChatMessagePayload struct {
		UserName  string    `json:"user_name"`
		Color     string    `json:"color"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}

	VoiceAudioPayload struct {
		UserName  string `json:"user_name"`
		AudioData string `json:"audio_data"`
		MimeType  string `json:"mime_type,omitempty"`
	}

	ExecuteStartedPayload struct {
		UserName string `json:"user_name"`
		Language string `json:"language"`
	}

	ExecuteCodePayload struct {
		UserName string     `json:"user_name"`
		Result   ExecResult `json:"result"`
	}

	ErrorPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		RefType Kind   `json:"ref_type,omitempty"`
	}
)

// NewErrorEvent builds the connection-local error reply for a rejected message.
func NewErrorEvent(roomID string, ref Kind, err error) Event {
	return Event{
		Type:   KindError,
		RoomID: roomID,
		Payload: ErrorPayload{
			Code:    ErrorCode(err),
			Message: err.Error(),
			RefType: ref,
		},
	}
}
