package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatwire/internal/config"
	"chatwire/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxUploadBytes  = 32 << 20
)

type contextKey string

const identityKey contextKey = "identity"

// Server is the reference chat backend: the room and history REST API,
// the upload endpoint, and the room-scoped websocket the sync engine
// connects to.
type Server struct {
	cfg      *config.ServerConfig
	store    *SQLStore
	hub      *Hub
	log      zerolog.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// NewServer wires the backend over the given store.
func NewServer(cfg *config.ServerConfig, store *SQLStore, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		hub:   NewHub(store, logger),
		log:   logger.With().Str("component", "devserver").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler builds the route tree. Exposed separately so tests can mount
// it on an httptest server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws/{roomID}", s.handleWebSocket)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/rooms", s.handleLookupRoom)
		r.Post("/rooms", s.handleCreateRoom)
		r.Get("/rooms/{roomID}/messages", s.handleListMessages)
		r.Post("/rooms/{roomID}/read", s.handleMarkRead)
		r.Post("/uploads", s.handleUpload)
	})
	return r
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// authenticate resolves the Bearer token into a participant identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ident, err := ParseToken(raw, s.cfg.AuthToken)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) Identity {
	ident, _ := r.Context().Value(identityKey).(Identity)
	return ident
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLookupRoom(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	expertID := r.URL.Query().Get("expertId")
	if requestID == "" || expertID == "" {
		s.writeError(w, http.StatusBadRequest, "requestId and expertId are required")
		return
	}

	room, err := s.store.LookupRoom(r.Context(), requestID, expertID)
	if errors.Is(err, ErrRoomNotFound) {
		s.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "room lookup failed")
		return
	}
	if !isParticipant(room, identityFrom(r)) {
		s.writeError(w, http.StatusForbidden, "not a room participant")
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestID  string `json:"requestId"`
		CustomerID string `json:"customerId"`
		ExpertID   string `json:"expertId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.RequestID == "" || !types.IsValidUserID(body.CustomerID) || !types.IsValidUserID(body.ExpertID) {
		s.writeError(w, http.StatusBadRequest, "invalid room parameters")
		return
	}

	ident := identityFrom(r)
	if ident.UserID != body.CustomerID && ident.UserID != body.ExpertID {
		s.writeError(w, http.StatusForbidden, "cannot create a room for other participants")
		return
	}

	room, err := s.store.CreateRoom(r.Context(), body.RequestID, body.CustomerID, body.ExpertID)
	if err != nil {
		s.serverError(w, err, "room creation failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := s.authorizeRoom(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxPageSize)
	}
	var before types.MessageID
	if raw := query.Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		before = types.MessageID(n)
	}

	msgs, err := s.store.ListMessages(r.Context(), room.RoomID, before, limit)
	if err != nil {
		s.serverError(w, err, "history query failed")
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	room, ok := s.authorizeRoom(w, r)
	if !ok {
		return
	}

	var body struct {
		MessageIDs []types.MessageID `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	flipped, err := s.store.MarkRead(r.Context(), room.RoomID, body.MessageIDs, identityFrom(r).UserID)
	if err != nil {
		s.serverError(w, err, "mark read failed")
		return
	}
	s.hub.BroadcastRead(room.RoomID, flipped)
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": len(flipped)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		s.serverError(w, err, "upload dir unavailable")
		return
	}
	name := uuid.New().String() + filepath.Ext(header.Filename)
	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, name))
	if err != nil {
		s.serverError(w, err, "upload failed")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		s.serverError(w, err, "upload failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"filePath": "/uploads/" + name})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ident, err := ParseToken(r.URL.Query().Get("token"), s.cfg.AuthToken)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	roomID := chi.URLParam(r, "roomID")
	room, err := s.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, ErrRoomNotFound) {
		s.writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		s.serverError(w, err, "room query failed")
		return
	}
	if !isParticipant(room, ident) {
		s.writeError(w, http.StatusForbidden, "not a room participant")
		return
	}

	var resume types.MessageID
	if raw := r.URL.Query().Get("lastMessageId"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid lastMessageId")
			return
		}
		resume = types.MessageID(n)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.ServeClient(conn, ident, roomID, resume)
}

func isParticipant(room types.ChatRoom, ident Identity) bool {
	return ident.UserID == room.CustomerID || ident.UserID == room.ExpertID
}

func (s *Server) authorizeRoom(w http.ResponseWriter, r *http.Request) (types.ChatRoom, bool) {
	roomID := chi.URLParam(r, "roomID")
	room, err := s.store.GetRoom(r.Context(), roomID)
	if errors.Is(err, ErrRoomNotFound) {
		s.writeError(w, http.StatusNotFound, "room not found")
		return types.ChatRoom{}, false
	}
	if err != nil {
		s.serverError(w, err, "room query failed")
		return types.ChatRoom{}, false
	}
	if !isParticipant(room, identityFrom(r)) {
		s.writeError(w, http.StatusForbidden, "not a room participant")
		return types.ChatRoom{}, false
	}
	return room, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) serverError(w http.ResponseWriter, err error, message string) {
	s.log.Error().Err(err).Msg(message)
	s.writeError(w, http.StatusInternalServerError, message)
}
