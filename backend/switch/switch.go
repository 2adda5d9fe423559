package _switch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/adwski/coderoom/backend/metrics"
	"github.com/adwski/coderoom/backend/model"
	"github.com/adwski/coderoom/backend/room"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultExecTimeout = 30 * time.Second
	stageRelay         = "relay"
)

type (
	RoomRegistry interface {
		GetRoom(roomID string) (*room.Room, error)
	}

	Executor interface {
		Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error)
	}

	Config struct {
		Logger      *zerolog.Logger
		Registry    RoomRegistry
		Executor    Executor
		Metrics     *metrics.Metrics
		ExecTimeout time.Duration

		// RateLimit is the sustained inbound messages per second allowed per
		// session. Zero disables limiting.
		RateLimit float64
		RateBurst int
	}

	// Switch routes inbound session messages to the rooms they target.
	Switch struct {
		logger   zerolog.Logger
		registry RoomRegistry
		exec     Executor
		metrics  *metrics.Metrics

		execTimeout time.Duration
		rateLimit   rate.Limit
		rateBurst   int

		// mx orders execution starts against Shutdown so that no run is
		// added to inflight once waiting has begun.
		mx       *sync.Mutex
		closed   bool
		ctx      context.Context
		cancel   context.CancelFunc
		inflight *sync.WaitGroup
	}
)

func NewSwitch(cfg Config) *Switch {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &Switch{
		logger:      cfg.Logger.With().Str("component", "switch").Logger(),
		registry:    cfg.Registry,
		exec:        cfg.Executor,
		metrics:     cfg.Metrics,
		execTimeout: cfg.ExecTimeout,
		rateLimit:   rate.Inf,
		rateBurst:   cfg.RateBurst,
		mx:          &sync.Mutex{},
		ctx:         ctx,
		cancel:      cancel,
		inflight:    &sync.WaitGroup{},
	}
	if sw.execTimeout <= 0 {
		sw.execTimeout = defaultExecTimeout
	}
	if cfg.RateLimit > 0 {
		sw.rateLimit = rate.Limit(cfg.RateLimit)
		if sw.rateBurst <= 0 {
			sw.rateBurst = int(cfg.RateLimit) + 1
		}
	}
	return sw
}

// Handle decodes one raw frame from sess and dispatches it. Failures are
// reported to sess only and returned for logging.
func (sw *Switch) Handle(ctx context.Context, sess *Session, raw []byte) error {
	msg, err := model.Decode(raw, sess.Scope)
	if err != nil {
		// Best effort: recover type and room_id for the error reply only.
		var env model.Envelope
		_ = json.Unmarshal(raw, &env)
		sw.reject(sess, env.RoomID, env.Type, err)
		return err
	}
	if err = sw.Dispatch(ctx, sess, msg); err != nil {
		sw.reject(sess, msg.Room(), msg.Kind(), err)
		return err
	}
	return nil
}

// Dispatch applies msg on behalf of sess.
func (sw *Switch) Dispatch(_ context.Context, sess *Session, msg model.Inbound) error {
	if _, ok := msg.(model.Ping); ok {
		sess.Out.Offer(model.Event{Type: model.KindPong})
		return nil
	}
	if !sess.limiter.Allow() {
		return model.ErrRateLimited
	}

	var err error
	switch m := msg.(type) {
	case model.Join:
		err = sw.join(sess, m)
	case model.Leave:
		err = sw.leave(sess, m)
	case model.CodeChange:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return r.ReplaceCode(sess.ID, m.Code) })
	case model.CursorMove:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return r.MoveCursor(sess.ID, m.Cursor) })
	case model.LanguageChange:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return r.ChangeLanguage(sess.ID, m.Language) })
	case model.ChatMessage:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return r.Chat(sess.ID, m.Message) })
	case model.VoiceAudio:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return r.RelayVoice(sess.ID, m.AudioData, m.MimeType) })
	case model.ExecuteCode:
		err = sw.withRoom(sess, m, func(r *room.Room) error { return sw.execute(r, sess, m) })
	default:
		err = model.ErrInvalidRequest
	}
	if err != nil {
		return err
	}
	sw.metrics.MessageAccepted(string(msg.Kind()))
	return nil
}

// Close runs the leave path for a session whose transport went away.
func (sw *Switch) Close(sess *Session) {
	sess.mx.Lock()
	r := sess.room
	sess.room = nil
	sess.mx.Unlock()

	sess.Out.Close()
	if r == nil {
		return
	}
	if _, err := r.Leave(sess.ID); err != nil && !errors.Is(err, model.ErrNotJoined) {
		sw.logger.Error().Err(err).Str("connID", sess.ID).Msg("failed to leave room on close")
	}
}

// Shutdown cancels running executions and waits for their goroutines.
func (sw *Switch) Shutdown() {
	sw.mx.Lock()
	sw.closed = true
	sw.mx.Unlock()

	sw.cancel()
	sw.inflight.Wait()
	sw.logger.Debug().Msg("switch stopped")
}

func (sw *Switch) join(sess *Session, m model.Join) error {
	sess.mx.Lock()
	defer sess.mx.Unlock()

	if sess.room != nil {
		return model.ErrAlreadyJoined
	}
	if sess.Scope != "" && m.RoomID != sess.Scope {
		return model.ErrRoomMismatch
	}
	r, err := sw.registry.GetRoom(m.RoomID)
	if err != nil {
		return err
	}
	if _, err = r.Join(sess.ID, m.UserName, sess.Out); err != nil {
		return err
	}
	sess.room = r
	return nil
}

func (sw *Switch) leave(sess *Session, m model.Leave) error {
	sess.mx.Lock()
	defer sess.mx.Unlock()

	if sess.room == nil {
		return model.ErrNotJoined
	}
	if sess.room.ID() != m.RoomID {
		return model.ErrRoomMismatch
	}
	r := sess.room
	sess.room = nil
	if _, err := r.Leave(sess.ID); err != nil {
		return err
	}
	return nil
}

// withRoom checks that sess is a member of the room msg targets before fn
// is allowed to touch it.
func (sw *Switch) withRoom(sess *Session, msg model.Inbound, fn func(*room.Room) error) error {
	sess.mx.Lock()
	r := sess.room
	sess.mx.Unlock()

	if r == nil {
		return model.ErrNotJoined
	}
	if r.ID() != msg.Room() {
		return model.ErrRoomMismatch
	}
	return fn(r)
}

func (sw *Switch) execute(r *room.Room, sess *Session, m model.ExecuteCode) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()
	if sw.closed {
		return model.ErrExecutionBackendUnavailable
	}

	userName, err := r.BeginExecution(sess.ID, m.Request.Language)
	if err != nil {
		return err
	}

	sw.inflight.Add(1)
	go func() {
		defer sw.inflight.Done()

		ctx, cancel := context.WithTimeout(sw.ctx, sw.execTimeout)
		defer cancel()

		result := sw.run(ctx, m.Request)
		r.FinishExecution(sess.ID, userName, result)
		sw.metrics.ExecutionFinished(result.Success)
	}()
	return nil
}

// run never fails: backend errors become a failure flagged result.
func (sw *Switch) run(ctx context.Context, req model.ExecRequest) model.ExecResult {
	if sw.exec == nil {
		return failedResult(req, model.ErrExecutionBackendUnavailable)
	}
	result, err := sw.exec.Execute(ctx, req)
	if err != nil {
		sw.logger.Warn().Err(err).Str("language", req.Language).Msg("execution failed")
		return failedResult(req, err)
	}
	return result
}

func failedResult(req model.ExecRequest, err error) model.ExecResult {
	return model.ExecResult{
		Success:  false,
		Error:    err.Error(),
		Language: req.Language,
		Stage:    stageRelay,
	}
}

func (sw *Switch) reject(sess *Session, roomID string, kind model.Kind, err error) {
	ev := model.NewErrorEvent(roomID, kind, err)
	sw.metrics.MessageRejected(model.ErrorCode(err))
	if !sess.Out.Offer(ev) {
		sw.logger.Debug().Str("connID", sess.ID).Msg("error reply dropped, outbox is full")
	}
	sw.logger.Debug().
		Err(err).
		Str("connID", sess.ID).
		Str("type", string(kind)).
		Msg("message rejected")
}
