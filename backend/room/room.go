package room

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adwski/coderoom/backend/metrics"
	"github.com/adwski/coderoom/backend/model"
	"github.com/rs/zerolog"
)

type (
	Config struct {
		ID        string
		Name      string
		HostName  string
		Language  string
		Code      string
		MaxUsers  int
		IsPublic  bool
		CreatedAt time.Time
		Logger    *zerolog.Logger
		Metrics   *metrics.Metrics
		Now       func() time.Time
	}

	// Room is one collaborative session. Every mutation and every fan-out
	// happens under mx, which makes mx the room's single sequencing point.
	// Fan-out only offers events to bounded outboxes and never blocks.
	Room struct {
		id        string
		name      string
		hostName  string
		maxUsers  int
		isPublic  bool
		createdAt time.Time

		logger  zerolog.Logger
		metrics *metrics.Metrics
		now     func() time.Time

		mx         *sync.Mutex
		language   string
		code       string
		members    map[string]*member
		seq        uint64
		joins      int
		emptySince time.Time
		executing  bool
		closed     bool
	}

	member struct {
		participant model.Participant
		out         *model.Outbox
	}
)

func New(cfg Config) *Room {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now()
	}
	return &Room{
		id:         cfg.ID,
		name:       cfg.Name,
		hostName:   cfg.HostName,
		maxUsers:   cfg.MaxUsers,
		isPublic:   cfg.IsPublic,
		createdAt:  createdAt,
		logger:     cfg.Logger.With().Str("component", "room").Str("roomID", cfg.ID).Logger(),
		metrics:    cfg.Metrics,
		now:        now,
		mx:         &sync.Mutex{},
		language:   cfg.Language,
		code:       cfg.Code,
		members:    make(map[string]*member),
		emptySince: createdAt,
	}
}

func (r *Room) ID() string { return r.id }

// Join registers a participant for connID. The joiner receives a room_state
// snapshot, everyone else receives participant_joined.
func (r *Room) Join(connID, userName string, out *model.Outbox) (model.Participant, error) {
	userName = strings.TrimSpace(userName)
	if connID == "" || userName == "" || out == nil {
		return model.Participant{}, model.ErrInvalidRequest
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if r.closed {
		return model.Participant{}, model.ErrRoomNotFound
	}
	if _, ok := r.members[connID]; ok {
		return model.Participant{}, model.ErrAlreadyJoined
	}
	if len(r.members) >= r.maxUsers {
		return model.Participant{}, model.ErrRoomFull
	}

	p := model.Participant{
		ConnectionID: connID,
		UserName:     userName,
		Color:        r.pickColor(),
		IsHost:       userName == r.hostName,
		JoinedAt:     r.now(),
	}
	m := &member{participant: p, out: out}
	r.members[connID] = m
	r.joins++
	r.metrics.ParticipantJoined()

	r.send(m, model.Event{
		Type:   model.KindRoomState,
		RoomID: r.id,
		Seq:    r.seq,
		Payload: model.RoomStatePayload{
			Self: p,
			Room: r.snapshot(),
		},
	})
	r.broadcast(model.Event{
		Type:    model.KindParticipantJoined,
		SRC:     connID,
		Payload: model.ParticipantPayload{Participant: p},
	}, connID)

	r.logger.Debug().
		Str("connID", connID).
		Str("userName", userName).
		Int("participants", len(r.members)).
		Msg("participant joined")
	return p, nil
}

// Leave removes the participant of connID and notifies the remaining ones.
func (r *Room) Leave(connID string) (model.Participant, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.Participant{}, model.ErrNotJoined
	}
	delete(r.members, connID)
	r.metrics.ParticipantLeft()
	if len(r.members) == 0 {
		r.emptySince = r.now()
	}

	r.broadcast(model.Event{
		Type:    model.KindParticipantLeft,
		SRC:     connID,
		Payload: model.ParticipantPayload{Participant: m.participant},
	}, connID)

	r.logger.Debug().
		Str("connID", connID).
		Int("participants", len(r.members)).
		Msg("participant left")
	return m.participant, nil
}

// ReplaceCode overwrites the shared document. Last write wins.
func (r *Room) ReplaceCode(connID, code string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.ErrNotJoined
	}
	r.code = code
	r.broadcast(model.Event{
		Type: model.KindCodeChange,
		SRC:  connID,
		Payload: model.CodeChangePayload{
			UserName: m.participant.UserName,
			Code:     code,
		},
	}, connID)
	return nil
}

func (r *Room) ChangeLanguage(connID, language string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.ErrNotJoined
	}
	r.language = language
	r.broadcast(model.Event{
		Type: model.KindLanguageChange,
		SRC:  connID,
		Payload: model.LanguageChangePayload{
			UserName: m.participant.UserName,
			Language: language,
		},
	}, connID)
	return nil
}

func (r *Room) Chat(connID, message string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.ErrNotJoined
	}
	r.broadcast(model.Event{
		Type: model.KindChatMessage,
		SRC:  connID,
		Payload: model.ChatMessagePayload{
			UserName:  m.participant.UserName,
			Color:     m.participant.Color,
			Message:   message,
			Timestamp: r.now().UTC(),
		},
	}, connID)
	return nil
}

// RelayVoice forwards an opaque audio chunk. Nothing is stored.
func (r *Room) RelayVoice(connID, audioData, mimeType string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return model.ErrNotJoined
	}
	r.broadcast(model.Event{
		Type: model.KindVoiceAudio,
		SRC:  connID,
		Payload: model.VoiceAudioPayload{
			UserName:  m.participant.UserName,
			AudioData: audioData,
			MimeType:  mimeType,
		},
	}, connID)
	return nil
}

// Snapshot returns the full descriptor of the room.
func (r *Room) Snapshot() model.Room {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.snapshot()
}

func (r *Room) Summary() model.RoomSummary {
	r.mx.Lock()
	defer r.mx.Unlock()
	return model.RoomSummary{
		ID:        r.id,
		Name:      r.name,
		HostName:  r.hostName,
		Language:  r.language,
		UserCount: len(r.members),
		MaxUsers:  r.maxUsers,
	}
}

func (r *Room) IsPublic() bool { return r.isPublic }

func (r *Room) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.members)
}

// Close marks an empty room as deleted so that no later join can succeed.
func (r *Room) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if len(r.members) > 0 {
		return model.ErrRoomNotEmpty
	}
	r.closed = true
	return nil
}

// CloseIfIdle closes the room if it has been empty for at least ttl.
func (r *Room) CloseIfIdle(now time.Time, ttl time.Duration) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed || len(r.members) > 0 || now.Sub(r.emptySince) < ttl {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) snapshot() model.Room {
	return model.Room{
		ID:           r.id,
		Name:         r.name,
		HostName:     r.hostName,
		Language:     r.language,
		Code:         r.code,
		MaxUsers:     r.maxUsers,
		IsPublic:     r.isPublic,
		CreatedAt:    r.createdAt,
		Participants: r.presence(),
		UserCount:    len(r.members),
	}
}

// broadcast sequences ev and offers it to every member except exclude.
// An empty exclude reaches everyone. Must be called with mx held.
func (r *Room) broadcast(ev model.Event, exclude string) {
	r.seq++
	ev.Seq = r.seq
	ev.RoomID = r.id
	for connID, m := range r.members {
		if connID != exclude {
			r.send(m, ev)
		}
	}
}

// send applies the overflow policy: lossy events are dropped for a
// recipient with a full outbox, anything else evicts the recipient.
func (r *Room) send(m *member, ev model.Event) {
	if m.out.Offer(ev) {
		return
	}
	select {
	case <-m.out.Done():
		return
	default:
	}
	if ev.Lossy() {
		r.metrics.EventDropped(string(ev.Type))
		r.logger.Trace().
			Str("dst", m.participant.ConnectionID).
			Str("type", string(ev.Type)).
			Msg("outbox is full, lossy event dropped")
		return
	}
	m.out.Close()
	r.metrics.SessionEvicted()
	r.logger.Warn().
		Str("dst", m.participant.ConnectionID).
		Str("type", string(ev.Type)).
		Msg("outbox is full, slow participant evicted")
}

func sortByJoinTime(ps []model.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].ConnectionID < ps[j].ConnectionID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}
