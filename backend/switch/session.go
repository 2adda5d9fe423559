package _switch

import (
	"sync"

	"github.com/adwski/coderoom/backend/model"
	"github.com/adwski/coderoom/backend/room"
	"golang.org/x/time/rate"
)

// Session is the relay side state of one live connection. A session is a
// member of at most one room at a time.
type Session struct {
	ID string
	// Scope, when set, is the only room the session may join.
	Scope string
	Out   *model.Outbox

	limiter *rate.Limiter

	mx   *sync.Mutex
	room *room.Room
}

func (sw *Switch) NewSession(id, scope string, out *model.Outbox) *Session {
	return &Session{
		ID:      id,
		Scope:   scope,
		Out:     out,
		limiter: rate.NewLimiter(sw.rateLimit, sw.rateBurst),
		mx:      &sync.Mutex{},
	}
}

// RoomID returns the joined room or an empty string.
func (s *Session) RoomID() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID()
}
