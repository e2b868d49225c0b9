package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PabloGalante/chatlog/internal/app/conversation"
	"github.com/PabloGalante/chatlog/internal/domain"
	"github.com/PabloGalante/chatlog/internal/observability"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc    *conversation.Service
	auth   domain.Authenticator
	events EventSource
}

type Options struct {
	// Events enables GET /api/events. Nil leaves the route unregistered.
	Events     EventSource
	CORSOrigin string
}

func NewServer(svc *conversation.Service, auth domain.Authenticator, opts Options) http.Handler {
	s := &Server{svc: svc, auth: auth, events: opts.Events}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/verify-token", s.handleVerifyToken)
	api.HandleFunc("GET /api/chat-sessions", s.handleListSessions)
	api.HandleFunc("POST /api/chat-sessions", s.handleCreateSession)
	api.HandleFunc("GET /api/chat-sessions/can-create", s.handleCanCreate)
	api.HandleFunc("POST /api/chat-sessions/ask", s.handleAskNew)
	api.HandleFunc("GET /api/chat-sessions/{id}", s.handleGetSession)
	api.HandleFunc("DELETE /api/chat-sessions/{id}", s.handleDeleteSession)
	api.HandleFunc("POST /api/chat-sessions/{id}/ask", s.handleAsk)
	api.HandleFunc("PUT /api/chat-sessions/{id}/rename", s.handleRename)
	if s.events != nil {
		api.HandleFunc("GET /api/events", s.handleEvents)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/api/", withAuth(auth)(api))

	return chainMiddlewares(mux, withLogging, withRequestID, withCORS(opts.CORSOrigin))
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VerifyTokenResponse{Valid: true, UserID: string(UserFromContext(r.Context()))})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCanCreate(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.CanCreateSession(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CanCreateResponse{CanCreate: ok})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.CreateEmptySession(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), UserFromContext(r.Context()), sessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAskNew(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, "")
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	s.ask(w, r, sessionID(r))
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request, id domain.SessionID) {
	var req AskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := s.svc.Ask(r.Context(), conversation.AskInput{
		OwnerID:   UserFromContext(r.Context()),
		SessionID: id,
		Question:  req.Question,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out.Retried {
		w.Header().Set("X-Chatlog-Retried", "true")
	}
	writeJSON(w, http.StatusOK, out.Session)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := s.svc.RenameSession(r.Context(), UserFromContext(r.Context()), sessionID(r), req.Title())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), UserFromContext(r.Context()), sessionID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Session deleted successfully"})
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func sessionID(r *http.Request) domain.SessionID {
	return domain.SessionID(r.PathValue("id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: domain.KindInvalidArgument})
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindPolicyViolation, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUpstreamError:
		return http.StatusBadGateway
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage returns the first domain message in err's chain; internals stay hidden.
func publicMessage(err error, kind domain.Kind) string {
	switch kind {
	case domain.KindInternal:
		return "internal server error"
	case domain.KindUnauthorized:
		return "invalid or missing credential"
	}
	var de *domain.Error
	for err != nil && errors.As(err, &de) {
		if de.Msg != "" {
			return de.Msg
		}
		err = de.Err
	}
	return string(kind)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)

	resp := ErrorResponse{Error: publicMessage(err, kind), Kind: kind}
	var de *domain.Error
	if errors.As(err, &de) && de.SessionID != "" && kind != domain.KindNotFound {
		resp.SessionID = string(de.SessionID)
	}
	if sess := domain.SessionOf(err); sess != nil && kind != domain.KindNotFound {
		resp.Session = sess
		resp.SessionID = string(sess.ID)
	}

	log := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}

	writeJSON(w, status, resp)
}
