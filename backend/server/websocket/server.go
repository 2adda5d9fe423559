package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/coderoom/backend/model"
	_switch "github.com/adwski/coderoom/backend/switch"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 1 << 20
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SessionService interface {
		OpenSession(connID, scope string, out *model.Outbox) (*_switch.Session, error)
		HandleMessage(ctx context.Context, sess *_switch.Session, raw []byte) error
		CloseSession(sess *_switch.Session)
	}

	Config struct {
		Logger         *zerolog.Logger
		SessionService SessionService
		ListenAddr     string
		AllowedOrigins []string

		PingInterval   time.Duration
		PongWait       time.Duration
		MaxMessageSize int64
		OutboxSize     int
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		// ctx outlives request handlers and is cancelled on shutdown to
		// terminate hijacked connections.
		ctx    context.Context
		cancel context.CancelFunc

		// conns tracks hijacked connections. mx orders new connections
		// against closeConnections.
		mx    *sync.Mutex
		conns *sync.WaitGroup

		pingInterval   time.Duration
		pongWait       time.Duration
		maxMessageSize int64
		outboxSize     int

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		logger:         cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:            cfg.SessionService,
		ctx:            ctx,
		cancel:         cancel,
		mx:             &sync.Mutex{},
		conns:          &sync.WaitGroup{},
		pingInterval:   cfg.PingInterval,
		pongWait:       cfg.PongWait,
		maxMessageSize: cfg.MaxMessageSize,
		outboxSize:     cfg.OutboxSize,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
		},
	}
	if srv.pingInterval <= 0 {
		srv.pingInterval = defaultPingInterval
	}
	if srv.pongWait <= srv.pingInterval {
		srv.pongWait = srv.pingInterval + defaultPongWait - defaultPingInterval
	}
	if srv.maxMessageSize <= 0 {
		srv.maxMessageSize = defaultWebSocketMaxMessageSize
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.connect)
	mux.HandleFunc("/ws/{roomID}", srv.connect)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

// originChecker allows requests without an Origin header and requests whose
// origin is listed. An empty list or "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
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
	srv.closeConnections()
}

// closeConnections terminates every hijacked connection and returns once
// their sessions are closed.
func (srv *Server) closeConnections() {
	srv.mx.Lock()
	srv.cancel()
	srv.mx.Unlock()
	srv.conns.Wait()
}

func (srv *Server) track() bool {
	srv.mx.Lock()
	defer srv.mx.Unlock()
	if srv.ctx.Err() != nil {
		return false
	}
	srv.conns.Add(1)
	return true
}

func (srv *Server) connect(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("roomID")
	connID := uuid.NewString()
	out := model.NewOutbox(srv.outboxSize)

	sess, err := srv.svc.OpenSession(connID, scope, out)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		srv.logger.Error().Err(err).Msg("failed to open session")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		srv.svc.CloseSession(sess)
		return
	}

	if !srv.track() {
		webSocketCloser(conn, websocket.CloseGoingAway, &srv.logger)
		srv.svc.CloseSession(sess)
		return
	}
	go srv.handleWSConn(conn, sess)
}

func (srv *Server) handleWSConn(conn *websocket.Conn, sess *_switch.Session) {
	defer srv.conns.Done()
	ctx, cancel := context.WithCancel(srv.ctx)
	defer cancel()

	logger := srv.logger.With().
		Str("connID", sess.ID).
		Str("scope", sess.Scope).
		Logger()
	logger.Debug().Msg("connection established")

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, sess, &logger)
		cancel()
	}()
	go func() {
		srv.webSocketSender(ctx, wg, conn, sess.Out, &logger)
		cancel()
	}()

	wg.Wait()
	srv.svc.CloseSession(sess)
	logger.Debug().Msg("connection terminated")
}

// webSocketSender is the only writer of data frames on conn. It owns closing
// the connection, which also unblocks the receiver.
func (srv *Server) webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	out *model.Outbox,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(srv.pingInterval)
	closeCode := websocket.CloseNormalClosure
	defer func() {
		pingTicker.Stop()
		webSocketCloser(conn, closeCode, logger)
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			closeCode = websocket.CloseGoingAway
			break SendLoop
		case <-out.Done():
			logger.Warn().Msg("outbox closed, dropping connection")
			closeCode = websocket.ClosePolicyViolation
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.PingMessage, []byte{}); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case ev := <-out.Events():
			b, wsErr := json.Marshal(&ev)
			if wsErr != nil {
				logger.Error().Err(wsErr).Str("type", string(ev.Type)).Msg("failed to marshall outgoing event")
				continue
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			if _, wsErr = wsW.Write(b); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing event")
				break SendLoop
			}
			if wsErr = wsW.Close(); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	sess *_switch.Session,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(srv.maxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(srv.pongWait)
	})
	if err := readDeadLineFunc(srv.pongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, wsErr := conn.ReadMessage()
		if wsErr != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(wsErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Debug().Err(wsErr).Msg("connection closed")
			default:
				logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}
		// Any inbound frame proves liveness.
		if wsErr = readDeadLineFunc(srv.pongWait); wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to set websocket read deadline")
			return
		}
		if wsErr = srv.svc.HandleMessage(ctx, sess, msg); wsErr != nil {
			logger.Debug().Err(wsErr).Msg("message rejected")
		}
	}
}

func webSocketCloser(conn *websocket.Conn, code int, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send websocket close message")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
