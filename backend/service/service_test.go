package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/adwski/coderoom/backend/model"
	"github.com/adwski/coderoom/backend/storage/memory"
	_switch "github.com/adwski/coderoom/backend/switch"
	"github.com/rs/zerolog"
)

type stubExecutor struct {
	err error
}

func (s stubExecutor) Execute(_ context.Context, req model.ExecRequest) (model.ExecResult, error) {
	if s.err != nil {
		return model.ExecResult{}, s.err
	}
	return model.ExecResult{Success: true, Output: req.Code, Language: req.Language}, nil
}

func (s stubExecutor) Runtimes(context.Context) ([]model.Runtime, error) {
	return []model.Runtime{{Language: "python", Version: "3.10.0"}}, s.err
}

func newTestService(t *testing.T, exec Executor) *Service {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore(memory.Config{Logger: &logger})
	sw := _switch.NewSwitch(_switch.Config{Logger: &logger, Registry: store})
	t.Cleanup(sw.Shutdown)
	return NewService(Config{RoomStore: store, Switch: sw, Executor: exec, Logger: &logger})
}

func TestRoomLifecycle(t *testing.T) {
	svc := newTestService(t, nil)

	if _, err := svc.CreateRoom(model.RoomParams{Name: "x"}); !errors.Is(err, ErrCreate) || !errors.Is(err, model.ErrInvalidRequest) {
		t.Fatalf("expected ErrCreate and ErrInvalidRequest, got %v", err)
	}

	created, err := svc.CreateRoom(model.RoomParams{Name: "pairing", HostName: "alice", Code: "x = 1"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.GetRoom(created.ID)
	if err != nil || got.Code != "x = 1" {
		t.Fatalf("get: %v %+v", err, got)
	}
	if list := svc.ListRooms(); len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("unexpected listing %+v", list)
	}

	sess, err := svc.OpenSession("conn-1", created.ID, model.NewOutbox(8))
	if err != nil {
		t.Fatal(err)
	}
	if err = svc.HandleMessage(context.Background(), sess, []byte(`{"type":"join","payload":{"user_name":"bob"}}`)); err != nil {
		t.Fatal(err)
	}
	if err = svc.DeleteRoom(created.ID); !errors.Is(err, ErrDelete) || !errors.Is(err, model.ErrRoomNotEmpty) {
		t.Fatalf("expected ErrRoomNotEmpty, got %v", err)
	}

	svc.CloseSession(sess)
	if err = svc.DeleteRoom(created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err = svc.GetRoom(created.ID); !errors.Is(err, model.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestOpenSessionUnknownScope(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.OpenSession("conn-1", "missing0", model.NewOutbox(1)); !errors.Is(err, model.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := svc.OpenSession("conn-2", "", model.NewOutbox(1)); err != nil {
		t.Errorf("unscoped session: %v", err)
	}
}

func TestExecute(t *testing.T) {
	res, err := newTestService(t, stubExecutor{}).Execute(context.Background(), model.ExecRequest{Code: "1", Language: "python"})
	if err != nil || !res.Success {
		t.Fatalf("unexpected %v %+v", err, res)
	}

	_, err = newTestService(t, stubExecutor{err: model.ErrExecutionBackendUnavailable}).
		Execute(context.Background(), model.ExecRequest{Code: "1", Language: "python"})
	if !errors.Is(err, ErrExecute) || !errors.Is(err, model.ErrExecutionBackendUnavailable) {
		t.Errorf("expected wrapped backend error, got %v", err)
	}

	if _, err = newTestService(t, nil).Runtimes(context.Background()); !errors.Is(err, model.ErrExecutionBackendUnavailable) {
		t.Errorf("expected ErrExecutionBackendUnavailable without executor, got %v", err)
	}
}

func TestLanguages(t *testing.T) {
	langs := newTestService(t, nil).Languages()
	if len(langs) == 0 || !slices.Contains(langs, "python") {
		t.Errorf("unexpected languages %v", langs)
	}
}
