// Package server exposes the sync protocol over HTTP. The handshake and
// status endpoints speak plain JSON; every other endpoint carries encrypted
// session frames, so the HTTP layer is transport only and never sees item
// content.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/session"
)

// maxMalformed is how many undecryptable frames a session survives before
// it is terminated as hostile or broken.
const maxMalformed = 3

// Engine is the reconciliation side the server delegates to. Implemented by
// the orchestrator.
type Engine interface {
	// LocalManifest summarizes this node's snapshot heads.
	LocalManifest(ctx context.Context) (models.Manifest, error)

	// FetchItems returns full head content for the requested ids.
	FetchItems(ctx context.Context, ids []string) ([]models.Item, error)

	// ApplyRemote reconciles pushed items against local state.
	ApplyRemote(ctx context.Context, peerID string, items []models.Item) (applied, rejected []string, err error)

	// Status reports the node's sync health.
	Status() models.StatusPayload
}

type Server struct {
	address string
	manager *session.Manager
	engine  Engine
	logger  logging.Logger

	mu        sync.Mutex
	malformed map[string]int // session id -> consecutive bad frames
}

func NewServer(address string, m *session.Manager, e Engine, l logging.Logger) *Server {
	return &Server{
		address:   address,
		manager:   m,
		engine:    e,
		logger:    l.With("module", "http_server"),
		malformed: make(map[string]int),
	}
}

// Router builds the route table. Split out so tests can drive handlers via
// httptest without opening a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sync/handshake", s.handleHandshake).Methods(http.MethodPost)
	api.HandleFunc("/sync/manifest", s.framed(s.handleManifest)).Methods(http.MethodPost)
	api.HandleFunc("/sync/items/fetch", s.framed(s.handleFetch)).Methods(http.MethodPost)
	api.HandleFunc("/sync/items/push", s.framed(s.handlePush)).Methods(http.MethodPost)
	api.HandleFunc("/sync/close", s.handleClose).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "starting http server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	ch := &session.Challenge{}
	if err := json.NewDecoder(r.Body).Decode(ch); err != nil {
		// same opaque answer as a failed verification
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	reply, err := s.manager.HandleHandshake(r.Context(), ch)
	if err != nil {
		if errors.Is(err, common.ErrCapacity) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	s.manager.Close(r.Context(), sess.ID)
	s.forget(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// frameHandler processes one decrypted request payload and returns the
// response payload to encrypt back.
type frameHandler func(ctx context.Context, sess *session.Session, plaintext json.RawMessage) (any, error)

// framed wraps a handler with ticket resolution, frame decryption, and
// response encryption.
func (s *Server) framed(h frameHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sess, err := s.sessionFromRequest(r)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f := &session.Frame{}
		if err := json.NewDecoder(r.Body).Decode(f); err != nil {
			s.recordMalformed(ctx, sess)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var plaintext json.RawMessage
		if err := sess.Open(f, &plaintext); err != nil {
			switch {
			case errors.Is(err, common.ErrReplay):
				s.logger.Warn(ctx, "replayed frame dropped", "session", sess.ID, "peer", sess.PeerID, "seq", f.Seq)
				w.WriteHeader(http.StatusConflict)
			case errors.Is(err, common.ErrSessionExpired):
				w.WriteHeader(http.StatusUnauthorized)
			default:
				s.recordMalformed(ctx, sess)
				w.WriteHeader(http.StatusBadRequest)
			}
			return
		}
		s.resetMalformed(sess.ID)

		resp, err := h(ctx, sess, plaintext)
		if err != nil {
			s.logger.Error(ctx, "sync handler failed", "session", sess.ID, "error", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		out, err := sess.Seal(resp)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleManifest(ctx context.Context, sess *session.Session, plaintext json.RawMessage) (any, error) {
	var req models.ManifestPayload
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, fmt.Errorf("decoding manifest payload: %w", err)
	}

	m, err := s.engine.LocalManifest(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "manifest exchanged", "peer", sess.PeerID, "remote_items", len(req.Items), "local_items", len(m))
	return models.ManifestPayload{NodeID: s.manager.NodeID(), Items: m}, nil
}

func (s *Server) handleFetch(ctx context.Context, sess *session.Session, plaintext json.RawMessage) (any, error) {
	var req models.FetchRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, fmt.Errorf("decoding fetch request: %w", err)
	}

	items, err := s.engine.FetchItems(ctx, req.IDs)
	if err != nil {
		return nil, err
	}
	return models.FetchResponse{Items: items}, nil
}

func (s *Server) handlePush(ctx context.Context, sess *session.Session, plaintext json.RawMessage) (any, error) {
	var req models.PushRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return nil, fmt.Errorf("decoding push request: %w", err)
	}

	applied, rejected, err := s.engine.ApplyRemote(ctx, sess.PeerID, req.Items)
	if err != nil {
		return nil, err
	}
	return models.PushResponse{Applied: applied, Rejected: rejected}, nil
}

func (s *Server) sessionFromRequest(r *http.Request) (*session.Session, error) {
	auth := r.Header.Get("Authorization")
	ticket, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || ticket == "" {
		return nil, common.ErrInvalidTicket
	}
	return s.manager.Resolve(ticket)
}

// recordMalformed counts undecodable frames; past the threshold the session
// is terminated so a broken or hostile peer has to re-handshake.
func (s *Server) recordMalformed(ctx context.Context, sess *session.Session) {
	s.mu.Lock()
	s.malformed[sess.ID]++
	n := s.malformed[sess.ID]
	s.mu.Unlock()

	s.logger.Warn(ctx, "malformed frame dropped", "session", sess.ID, "peer", sess.PeerID, "count", n)
	if n >= maxMalformed {
		s.logger.Warn(ctx, "terminating session after repeated malformed frames", "session", sess.ID, "peer", sess.PeerID)
		s.manager.Close(ctx, sess.ID)
		s.forget(sess.ID)
	}
}

func (s *Server) resetMalformed(sessionID string) {
	s.mu.Lock()
	delete(s.malformed, sessionID)
	s.mu.Unlock()
}

func (s *Server) forget(sessionID string) {
	s.mu.Lock()
	delete(s.malformed, sessionID)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
