package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adwski/coderoom/backend/metrics"
	"github.com/adwski/coderoom/backend/model"
	"github.com/adwski/coderoom/backend/room"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	roomIDLength = 8

	defaultIdleTTL         = 30 * time.Minute
	defaultReclaimInterval = time.Minute
	maxIDAttempts          = 16
)

type (
	Config struct {
		Logger          *zerolog.Logger
		Metrics         *metrics.Metrics
		Now             func() time.Time
		IDGenerator     func() string
		DefaultMaxUsers int
		IdleTTL         time.Duration
		ReclaimInterval time.Duration
	}

	// MemStore is the room registry. It is the only place where room
	// existence changes.
	MemStore struct {
		root    *zerolog.Logger
		logger  zerolog.Logger
		metrics *metrics.Metrics
		now     func() time.Time
		newID   func() string

		defaultMaxUsers int
		idleTTL         time.Duration
		reclaimInterval time.Duration

		mx *sync.Mutex
		db map[string]*room.Room
	}
)

func NewMemStore(cfg Config) *MemStore {
	ms := &MemStore{
		root:            cfg.Logger,
		logger:          cfg.Logger.With().Str("component", "room-registry").Logger(),
		metrics:         cfg.Metrics,
		now:             cfg.Now,
		newID:           cfg.IDGenerator,
		defaultMaxUsers: cfg.DefaultMaxUsers,
		idleTTL:         cfg.IdleTTL,
		reclaimInterval: cfg.ReclaimInterval,
		mx:              &sync.Mutex{},
		db:              make(map[string]*room.Room),
	}
	if ms.now == nil {
		ms.now = time.Now
	}
	if ms.newID == nil {
		ms.newID = NewRoomID
	}
	if ms.defaultMaxUsers <= 0 {
		ms.defaultMaxUsers = model.DefaultMaxUsers
	}
	if ms.idleTTL <= 0 {
		ms.idleTTL = defaultIdleTTL
	}
	if ms.reclaimInterval <= 0 {
		ms.reclaimInterval = defaultReclaimInterval
	}
	return ms
}

// NewRoomID returns an 8 character lowercase alphanumeric token.
func NewRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLength]
}

func (ms *MemStore) CreateRoom(params model.RoomParams) (*room.Room, error) {
	name := strings.TrimSpace(params.Name)
	hostName := strings.TrimSpace(params.HostName)
	if name == "" || hostName == "" {
		return nil, fmt.Errorf("%w: name and host_name are required", model.ErrInvalidRequest)
	}
	maxUsers := params.MaxUsers
	if maxUsers == 0 {
		maxUsers = ms.defaultMaxUsers
	}
	if maxUsers < model.MinMaxUsers || maxUsers > model.MaxMaxUsers {
		return nil, fmt.Errorf("%w: max_users must be within [%d, %d]",
			model.ErrInvalidRequest, model.MinMaxUsers, model.MaxMaxUsers)
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		language = model.DefaultLanguage
	}
	isPublic := true
	if params.IsPublic != nil {
		isPublic = *params.IsPublic
	}

	ms.mx.Lock()
	defer ms.mx.Unlock()

	id, err := ms.freeID()
	if err != nil {
		return nil, err
	}
	r := room.New(room.Config{
		ID:        id,
		Name:      name,
		HostName:  hostName,
		Language:  language,
		Code:      params.Code,
		MaxUsers:  maxUsers,
		IsPublic:  isPublic,
		CreatedAt: ms.now(),
		Logger:    ms.root,
		Metrics:   ms.metrics,
		Now:       ms.now,
	})
	ms.db[id] = r
	ms.metrics.RoomCreated()

	ms.logger.Debug().
		Str("roomID", id).
		Str("name", name).
		Int("maxUsers", maxUsers).
		Msg("room created")
	return r, nil
}

// freeID must be called with mx held.
func (ms *MemStore) freeID() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := ms.newID()
		if _, taken := ms.db[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("unable to allocate room id after %d attempts", maxIDAttempts)
}

func (ms *MemStore) GetRoom(roomID string) (*room.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return r, nil
}

// ListRooms returns summaries of public rooms in no particular order.
func (ms *MemStore) ListRooms() []model.RoomSummary {
	ms.mx.Lock()
	rooms := make([]*room.Room, 0, len(ms.db))
	for _, r := range ms.db {
		if r.IsPublic() {
			rooms = append(rooms, r)
		}
	}
	ms.mx.Unlock()

	out := make([]model.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}

// DeleteRoom removes an empty room. Rooms with participants are left untouched.
func (ms *MemStore) DeleteRoom(roomID string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return model.ErrRoomNotFound
	}
	if err := r.Close(); err != nil {
		return err
	}
	delete(ms.db, roomID)
	ms.metrics.RoomDeleted()

	ms.logger.Debug().Str("roomID", roomID).Msg("room deleted")
	return nil
}

// Reclaim deletes rooms that have been empty for at least the idle ttl and
// returns their ids.
func (ms *MemStore) Reclaim() []string {
	now := ms.now()

	ms.mx.Lock()
	defer ms.mx.Unlock()

	var reclaimed []string
	for id, r := range ms.db {
		if r.CloseIfIdle(now, ms.idleTTL) {
			delete(ms.db, id)
			ms.metrics.RoomReclaimed()
			reclaimed = append(reclaimed, id)
		}
	}
	if len(reclaimed) > 0 {
		ms.logger.Debug().Strs("rooms", reclaimed).Msg("idle rooms reclaimed")
	}
	return reclaimed
}

// Run drives Reclaim until ctx is done.
func (ms *MemStore) Run(ctx context.Context, wg *sync.WaitGroup) {
	ticker := time.NewTicker(ms.reclaimInterval)
	defer func() {
		ticker.Stop()
		ms.logger.Debug().Msg("reclaimer stopped")
		wg.Done()
	}()

	ms.logger.Info().
		Dur("interval", ms.reclaimInterval).
		Dur("idleTTL", ms.idleTTL).
		Msg("reclaimer started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.Reclaim()
		}
	}
}
