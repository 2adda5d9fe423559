package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adwski/coderoom/backend/executor"
	"github.com/adwski/coderoom/backend/model"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultReadHeaderTimout = 10 * time.Second
	defaultExecuteTimeout   = 60 * time.Second

	maxRequestBodySize = 1 << 20
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	CreateRoom(params model.RoomParams) (model.Room, error)
	GetRoom(roomID string) (model.Room, error)
	ListRooms() []model.RoomSummary
	DeleteRoom(roomID string) error
	Execute(ctx context.Context, req model.ExecRequest) (model.ExecResult, error)
	Runtimes(ctx context.Context) ([]model.Runtime, error)
	Languages() []string
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type RoomList struct {
	Rooms []model.RoomSummary `json:"rooms"`
	Count int                 `json:"count"`
}

type LanguageList struct {
	Languages []string `json:"languages"`
	Count     int      `json:"count"`
}

type Server struct {
	logger zerolog.Logger
	svc    RoomService
	*http.Server
}

type Config struct {
	Logger         *zerolog.Logger
	RoomService    RoomService
	ListenAddr     string
	AllowedOrigins []string
	MetricsHandler http.Handler
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RoomService,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /api/rooms", srv.createRoom)
	r.HandleFunc("GET /api/rooms", srv.listRooms)
	r.HandleFunc("GET /api/rooms/{roomID}", srv.getRoom)
	r.HandleFunc("DELETE /api/rooms/{roomID}", srv.deleteRoom)
	r.HandleFunc("POST /api/execute", srv.execute)
	r.HandleFunc("GET /api/runtimes", srv.runtimes)
	r.HandleFunc("GET /api/languages", srv.languages)
	r.HandleFunc("GET /healthz", srv.health)
	if cfg.MetricsHandler != nil {
		r.Handle("GET /metrics", cfg.MetricsHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: defaultReadHeaderTimout,
	}
	return srv
}

func (srv *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var params model.RoomParams
	if err := readJSON(w, r, &params); err != nil {
		srv.writeError(w, http.StatusBadRequest, err)
		return
	}

	srv.logger.Trace().Any("request", params).Msg("got create room request")

	room, err := srv.svc.CreateRoom(params)
	if err != nil {
		srv.writeError(w, statusOf(err), err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, &GenericResponse{Message: "room created", Data: room})
}

func (srv *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := srv.svc.GetRoom(r.PathValue("roomID"))
	if err != nil {
		srv.writeError(w, statusOf(err), err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: room})
}

func (srv *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := srv.svc.ListRooms()
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: RoomList{Rooms: rooms, Count: len(rooms)}})
}

func (srv *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := srv.svc.DeleteRoom(r.PathValue("roomID")); err != nil {
		srv.writeError(w, statusOf(err), err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "room deleted"})
}

func (srv *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req model.ExecRequest
	if err := readJSON(w, r, &req); err != nil {
		srv.writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Language) == "" {
		srv.writeError(w, http.StatusBadRequest, errors.New("code and language are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultExecuteTimeout)
	defer cancel()
	res, err := srv.svc.Execute(ctx, req)
	if err != nil {
		srv.writeError(w, statusOf(err), err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: res})
}

func (srv *Server) runtimes(w http.ResponseWriter, r *http.Request) {
	rts, err := srv.svc.Runtimes(r.Context())
	if err != nil {
		srv.writeError(w, statusOf(err), err)
		return
	}
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: rts})
}

func (srv *Server) languages(w http.ResponseWriter, _ *http.Request) {
	langs := srv.svc.Languages()
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: LanguageList{Languages: langs, Count: len(langs)}})
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Message: "ok"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, executor.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrRoomNotEmpty):
		return http.StatusConflict
	case errors.Is(err, model.ErrExecutionBackendUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, dst); err != nil {
		return errors.Join(model.ErrInvalidRequest, err)
	}
	return nil
}

func (srv *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		srv.logger.Error().Err(err).Int("status", code).Msg("request failed")
	}
	srv.writeJSON(w, code, &GenericResponse{Error: err.Error()})
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
