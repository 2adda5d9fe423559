package service

import (
	"context"
	"errors"

	"github.com/adwski/coderoom/backend/executor"
	"github.com/adwski/coderoom/backend/metrics"
	"github.com/adwski/coderoom/backend/model"
	"github.com/adwski/coderoom/backend/room"
	_switch "github.com/adwski/coderoom/backend/switch"
	"github.com/rs/zerolog"
)

var (
	ErrCreate  = errors.New("unable to create room")
	ErrGet     = errors.New("unable to get room")
	ErrDelete  = errors.New("unable to delete room")
	ErrConnect = errors.New("unable to open session")
	ErrExecute = errors.New("unable to execute code")
)

type (
	RoomStore interface {
		CreateRoom(params model.RoomParams) (*room.Room, error)
		GetRoom(roomID string) (*room.Room, error)
		ListRooms() []model.RoomSummary
		DeleteRoom(roomID string) error
	}

	Switch interface {
		NewSession(id, scope string, out *model.Outbox) *_switch.Session
		Handle(ctx context.Context, sess *_switch.Session, raw []byte) error
		Close(sess *_switch.Session)
	}

	Executor interface {
		Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error)
		Runtimes(ctx context.Context) ([]model.Runtime, error)
	}

	Service struct {
		store   RoomStore
		sw      Switch
		exec    Executor
		metrics *metrics.Metrics
		logger  zerolog.Logger
	}

	Config struct {
		RoomStore RoomStore
		Switch    Switch
		Executor  Executor
		Metrics   *metrics.Metrics
		Logger    *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:   cfg.RoomStore,
		sw:      cfg.Switch,
		exec:    cfg.Executor,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "service").Logger(),
	}
}

func (svc *Service) CreateRoom(params model.RoomParams) (model.Room, error) {
	r, err := svc.store.CreateRoom(params)
	if err != nil {
		return model.Room{}, errors.Join(ErrCreate, err)
	}
	svc.logger.Info().
		Str("roomID", r.ID()).
		Str("hostName", params.HostName).
		Msg("room created")
	return r.Snapshot(), nil
}

func (svc *Service) GetRoom(roomID string) (model.Room, error) {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		return model.Room{}, errors.Join(ErrGet, err)
	}
	return r.Snapshot(), nil
}

func (svc *Service) ListRooms() []model.RoomSummary {
	return svc.store.ListRooms()
}

func (svc *Service) DeleteRoom(roomID string) error {
	if err := svc.store.DeleteRoom(roomID); err != nil {
		return errors.Join(ErrDelete, err)
	}
	svc.logger.Info().Str("roomID", roomID).Msg("room deleted")
	return nil
}

func (svc *Service) Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error) {
	if svc.exec == nil {
		return model.ExecResult{}, errors.Join(ErrExecute, model.ErrExecutionBackendUnavailable)
	}
	res, err := svc.exec.Execute(ctx, req)
	if err != nil {
		return model.ExecResult{}, errors.Join(ErrExecute, err)
	}
	return res, nil
}

func (svc *Service) Runtimes(ctx context.Context) ([]model.Runtime, error) {
	if svc.exec == nil {
		return nil, model.ErrExecutionBackendUnavailable
	}
	return svc.exec.Runtimes(ctx)
}

func (svc *Service) Languages() []string {
	return executor.SupportedLanguages()
}

// OpenSession registers a new connection. A non-empty scope must name an
// existing room.
func (svc *Service) OpenSession(connID, scope string, out *model.Outbox) (*_switch.Session, error) {
	if scope != "" {
		if _, err := svc.store.GetRoom(scope); err != nil {
			return nil, errors.Join(ErrConnect, err)
		}
	}
	sess := svc.sw.NewSession(connID, scope, out)
	svc.metrics.SessionOpened()
	svc.logger.Debug().
		Str("connID", connID).
		Str("scope", scope).
		Msg("session opened")
	return sess, nil
}

func (svc *Service) HandleMessage(ctx context.Context, sess *_switch.Session, raw []byte) error {
	return svc.sw.Handle(ctx, sess, raw)
}

func (svc *Service) CloseSession(sess *_switch.Session) {
	svc.sw.Close(sess)
	svc.metrics.SessionClosed()
	svc.logger.Debug().Str("connID", sess.ID).Msg("session closed")
}
