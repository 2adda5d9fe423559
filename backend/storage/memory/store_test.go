package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/adwski/coderoom/backend/model"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mx  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mx.Lock()
	c.now = c.now.Add(d)
	c.mx.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock) *MemStore {
	t.Helper()
	logger := zerolog.Nop()
	cfg := Config{Logger: &logger, IdleTTL: 10 * time.Minute}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return NewMemStore(cfg)
}

func boolPtr(b bool) *bool { return &b }

func TestNewRoomID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewRoomID()
		if !re.MatchString(id) {
			t.Fatalf("malformed room id %q", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) < 990 {
		t.Errorf("too many collisions: %d unique ids of 1000", len(seen))
	}
}

func TestCreateRoomDefaults(t *testing.T) {
	ms := newTestStore(t, nil)
	r, err := ms.CreateRoom(model.RoomParams{Name: " pairing ", HostName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if snap.Name != "pairing" || snap.HostName != "alice" {
		t.Errorf("unexpected metadata %+v", snap)
	}
	if snap.Language != model.DefaultLanguage || snap.Code != "" {
		t.Errorf("unexpected document defaults %q %q", snap.Language, snap.Code)
	}
	if snap.MaxUsers != model.DefaultMaxUsers || !snap.IsPublic || snap.UserCount != 0 {
		t.Errorf("unexpected defaults %+v", snap)
	}

	got, err := ms.GetRoom(r.ID())
	if err != nil || got != r {
		t.Fatalf("get after create: %v", err)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ms := newTestStore(t, nil)
	for _, params := range []model.RoomParams{
		{HostName: "alice"},
		{Name: "pairing"},
		{Name: "  ", HostName: "alice"},
		{Name: "pairing", HostName: "alice", MaxUsers: 1},
		{Name: "pairing", HostName: "alice", MaxUsers: model.MaxMaxUsers + 1},
	} {
		if _, err := ms.CreateRoom(params); !errors.Is(err, model.ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", params, err)
		}
	}
	if n := len(ms.ListRooms()); n != 0 {
		t.Errorf("invalid requests created %d rooms", n)
	}
}

func TestCreateRoomRetriesTakenIDs(t *testing.T) {
	ids := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	logger := zerolog.Nop()
	ms := NewMemStore(Config{
		Logger: &logger,
		IDGenerator: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	first, err := ms.CreateRoom(model.RoomParams{Name: "one", HostName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ms.CreateRoom(model.RoomParams{Name: "two", HostName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() != "aaaaaaaa" || second.ID() != "bbbbbbbb" {
		t.Errorf("unexpected ids %s %s", first.ID(), second.ID())
	}
}

func TestListRoomsOnlyPublic(t *testing.T) {
	ms := newTestStore(t, nil)
	pub, err := ms.CreateRoom(model.RoomParams{Name: "open", HostName: "alice", Language: "Go", MaxUsers: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = ms.CreateRoom(model.RoomParams{Name: "secret", HostName: "bob", IsPublic: boolPtr(false)}); err != nil {
		t.Fatal(err)
	}
	if _, err = pub.Join("c1", "carol", model.NewOutbox(4)); err != nil {
		t.Fatal(err)
	}

	list := ms.ListRooms()
	if len(list) != 1 {
		t.Fatalf("expected one public room, got %+v", list)
	}
	want := model.RoomSummary{
		ID:        pub.ID(),
		Name:      "open",
		HostName:  "alice",
		Language:  "Go",
		UserCount: 1,
		MaxUsers:  4,
	}
	if list[0] != want {
		t.Errorf("got %+v, want %+v", list[0], want)
	}
}

func TestDeleteRoom(t *testing.T) {
	ms := newTestStore(t, nil)
	r, err := ms.CreateRoom(model.RoomParams{Name: "pairing", HostName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = r.Join("c1", "alice", model.NewOutbox(4)); err != nil {
		t.Fatal(err)
	}

	if err = ms.DeleteRoom(r.ID()); !errors.Is(err, model.ErrRoomNotEmpty) {
		t.Fatalf("expected ErrRoomNotEmpty, got %v", err)
	}
	if _, err = ms.GetRoom(r.ID()); err != nil {
		t.Fatalf("rejected delete removed the room: %v", err)
	}

	if _, err = r.Leave("c1"); err != nil {
		t.Fatal(err)
	}
	if err = ms.DeleteRoom(r.ID()); err != nil {
		t.Fatalf("delete of empty room: %v", err)
	}
	if _, err = ms.GetRoom(r.ID()); !errors.Is(err, model.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound after delete, got %v", err)
	}
	if err = ms.DeleteRoom(r.ID()); !errors.Is(err, model.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound on second delete, got %v", err)
	}
	if _, err = r.Join("c2", "late", model.NewOutbox(4)); !errors.Is(err, model.ErrRoomNotFound) {
		t.Errorf("stale handle accepted a join: %v", err)
	}
}

func TestReclaim(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ms := newTestStore(t, clock)

	occupied, err := ms.CreateRoom(model.RoomParams{Name: "busy", HostName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = occupied.Join("c1", "alice", model.NewOutbox(4)); err != nil {
		t.Fatal(err)
	}
	abandoned, err := ms.CreateRoom(model.RoomParams{Name: "empty", HostName: "bob"})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Minute)
	fresh, err := ms.CreateRoom(model.RoomParams{Name: "fresh", HostName: "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if got := ms.Reclaim(); len(got) != 0 {
		t.Fatalf("nothing is idle yet, reclaimed %v", got)
	}

	clock.Advance(6 * time.Minute)
	got := ms.Reclaim()
	if len(got) != 1 || got[0] != abandoned.ID() {
		t.Fatalf("expected only %s reclaimed, got %v", abandoned.ID(), got)
	}
	for _, id := range []string{occupied.ID(), fresh.ID()} {
		if _, err = ms.GetRoom(id); err != nil {
			t.Errorf("room %s must survive: %v", id, err)
		}
	}

	clock.Advance(time.Hour)
	got = ms.Reclaim()
	if len(got) != 1 || got[0] != fresh.ID() {
		t.Errorf("expected %s reclaimed, got %v", fresh.ID(), got)
	}
	if _, err = ms.GetRoom(occupied.ID()); err != nil {
		t.Errorf("occupied room was reclaimed: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	ms := NewMemStore(Config{Logger: &logger, ReclaimInterval: time.Millisecond, IdleTTL: time.Nanosecond})
	if _, err := ms.CreateRoom(model.RoomParams{Name: "gone", HostName: "alice"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go ms.Run(ctx, wg)

	deadline := time.Now().Add(2 * time.Second)
	for len(ms.ListRooms()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("reclaimer never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()
}

func TestConcurrentCreate(t *testing.T) {
	ms := newTestStore(t, nil)
	wg := &sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := ms.CreateRoom(model.RoomParams{Name: fmt.Sprint(i), HostName: "h"}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if n := len(ms.ListRooms()); n != 50 {
		t.Errorf("expected 50 rooms, got %d", n)
	}
}
