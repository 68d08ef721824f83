package auth

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/ghuser/pokedex/pkg/logger"
)

// SessionName is the cookie carrying the browse session.
const SessionName = "pokedex_session"

const sessionBrowseIDKey = "browse_id"

// LoadBrowseSession is a chi middleware that reads the session cookie and,
// when it holds a valid browse ID, injects it into the request context.
// Requests without a usable session pass through unchanged; handlers decide
// whether a browse ID is required via auth.BrowseIDFromCtx.
func LoadBrowseSession(store sessions.Store, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := store.Get(r, SessionName)
			if err != nil {
				log.WarnContext(r.Context(), "invalid session cookie", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := session.Values[sessionBrowseIDKey].(string)
			if !ok || raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := uuid.Parse(raw)
			if err != nil {
				log.WarnContext(r.Context(), "invalid browse_id in session", "browse_id", raw, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithBrowseID(r.Context(), id)))
		})
	}
}

// SaveBrowseID records id in the session cookie.
func SaveBrowseID(store sessions.Store, w http.ResponseWriter, r *http.Request, id uuid.UUID) error {
	session, err := store.Get(r, SessionName)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	session.Values[sessionBrowseIDKey] = id.String()
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearBrowseID removes the browse ID from the session cookie.
func ClearBrowseID(store sessions.Store, w http.ResponseWriter, r *http.Request) error {
	session, err := store.Get(r, SessionName)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	delete(session.Values, sessionBrowseIDKey)
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
