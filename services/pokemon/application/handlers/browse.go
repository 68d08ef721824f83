package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/ghuser/pokedex/pkg/auth"
	"github.com/ghuser/pokedex/pkg/errhttp"
	"github.com/ghuser/pokedex/pkg/httpx"
	"github.com/ghuser/pokedex/pkg/logger"
	pkgvalidator "github.com/ghuser/pokedex/pkg/validator"
	"github.com/ghuser/pokedex/services/pokemon/application/browse"
	"github.com/ghuser/pokedex/services/pokemon/application/paging"
	appsvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
	"github.com/ghuser/pokedex/services/pokemon/domain"
	domainsvcs "github.com/ghuser/pokedex/services/pokemon/domain/services"
)

// SetQueryRequest is the request body for PUT /api/browse/{id}/query.
type SetQueryRequest struct {
	Query string `json:"query" validate:"max=100"`
}

// PokemonResponse is one row of a browse window.
type PokemonResponse struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// LoadStateResponse renders one direction's load state.
type LoadStateResponse struct {
	State      string `json:"state"`
	EndReached bool   `json:"end_reached"`
	Error      string `json:"error,omitempty"`
}

// SnapshotResponse is the current state of a browse session.
type SnapshotResponse struct {
	SessionID    uuid.UUID         `json:"session_id"`
	Query        string            `json:"query"`
	WindowQuery  string            `json:"window_query"`
	Generation   uint64            `json:"generation"`
	RemoteBacked bool              `json:"remote_backed"`
	Items        []PokemonResponse `json:"items"`
	Refresh      LoadStateResponse `json:"refresh"`
	Prepend      LoadStateResponse `json:"prepend"`
	Append       LoadStateResponse `json:"append"`
}

// BrowseHandler serves the /api/browse endpoints. The session ID comes from
// the {id} path segment, or from the session cookie on /api/browse.
type BrowseHandler struct {
	svc      *appsvcs.Services
	sessions sessions.Store
	log      logger.Logger
}

// NewBrowseHandler returns a BrowseHandler. sessionStore may be nil, in
// which case no cookie is written.
func NewBrowseHandler(svc *appsvcs.Services, sessionStore sessions.Store, log logger.Logger) *BrowseHandler {
	return &BrowseHandler{svc: svc, sessions: sessionStore, log: log}
}

// Create starts a browse session on the blank query.
func (h *BrowseHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Browse.Create()
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if h.sessions != nil {
		if err := auth.SaveBrowseID(h.sessions, w, r, s.ID); err != nil {
			h.log.WarnContext(r.Context(), "failed to persist browse cookie", "session_id", s.ID, "error", err)
		}
	}
	httpx.JSON(w, http.StatusCreated, view(s))
}

// Get returns the current window.
func (h *BrowseHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(s))
}

// SetQuery records a new search query. The window is re-derived after the
// debounce interval, so the response may still show the previous window.
func (h *BrowseHandler) SetQuery(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	req, ok := pkgvalidator.ValidateRequest[SetQueryRequest](w, r)
	if !ok {
		return
	}
	if err := domainsvcs.ValidateQuery(req.Query); err != nil {
		errhttp.WriteError(w, err)
		return
	}
	s.Router.SetQuery(req.Query)
	httpx.JSON(w, http.StatusAccepted, view(s))
}

// LoadMore appends the next page to the window.
func (h *BrowseHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	h.load(w, r, "append", func(s *browse.Session) error { return s.Router.LoadMore(r.Context()) })
}

// Refresh reloads the window from the origin.
func (h *BrowseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.load(w, r, "refresh", func(s *browse.Session) error { return s.Router.Refresh(r.Context()) })
}

// Delete ends the session.
func (h *BrowseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessionID(r)
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if err := h.svc.Browse.Close(id); err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if h.sessions != nil {
		if err := auth.ClearBrowseID(h.sessions, w, r); err != nil {
			h.log.WarnContext(r.Context(), "failed to clear browse cookie", "session_id", id, "error", err)
		}
	}
	httpx.NoContent(w)
}

// load runs fn and answers with the resulting window. Load failures are
// reported through the window's load states rather than the status code.
func (h *BrowseHandler) load(w http.ResponseWriter, r *http.Request, op string, fn func(*browse.Session) error) {
	s, err := h.session(r)
	if err != nil {
		errhttp.WriteError(w, err)
		return
	}
	if err := fn(s); err != nil {
		if errors.Is(err, paging.ErrRouterClosed) {
			errhttp.WriteError(w, domain.ErrSessionNotFound)
			return
		}
		if !errors.Is(err, paging.ErrPagerClosed) {
			h.log.WarnContext(r.Context(), "browse load failed", "op", op, "session_id", s.ID, "error", err)
		}
	}
	httpx.JSON(w, http.StatusOK, view(s))
}

func (h *BrowseHandler) session(r *http.Request) (*browse.Session, error) {
	id, err := h.sessionID(r)
	if err != nil {
		return nil, err
	}
	return h.svc.Browse.Get(id)
}

func (h *BrowseHandler) sessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		id, err := auth.BrowseIDFromCtx(r.Context())
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: no session cookie", domain.ErrSessionNotFound)
		}
		return id, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed id", domain.ErrSessionNotFound)
	}
	return id, nil
}

func view(s *browse.Session) SnapshotResponse {
	snap := s.Router.CurrentSnapshot()
	items := make([]PokemonResponse, len(snap.Items))
	for i, p := range snap.Items {
		items[i] = PokemonResponse{ID: p.ID, Name: p.Name, ImageURL: p.ImageURL}
	}
	remote := false
	if p := s.Router.Current(); p != nil {
		remote = p.RemoteBacked()
	}
	return SnapshotResponse{
		SessionID:    s.ID,
		Query:        s.Router.Query(),
		WindowQuery:  snap.Query,
		Generation:   snap.Generation,
		RemoteBacked: remote,
		Items:        items,
		Refresh:      loadState(snap.LoadStates.Refresh),
		Prepend:      loadState(snap.LoadStates.Prepend),
		Append:       loadState(snap.LoadStates.Append),
	}
}

func loadState(st paging.LoadState) LoadStateResponse {
	resp := LoadStateResponse{State: paging.StateName(st)}
	switch s := st.(type) {
	case paging.NotLoading:
		resp.EndReached = s.EndOfPaginationReached
	case paging.LoadError:
		if s.Err != nil {
			resp.Error = s.Err.Error()
		}
	}
	return resp
}
