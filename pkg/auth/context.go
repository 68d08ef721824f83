package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// contextKey is an unexported type to prevent key collisions in context.
type contextKey string

const browseIDKey contextKey = "browse_id"

// ErrBrowseIDNotFound is returned when the request carries no browse session.
var ErrBrowseIDNotFound = errors.New("browse_id not found in context")

// BrowseIDFromCtx extracts the browse session ID placed by LoadBrowseSession.
// Returns uuid.Nil and ErrBrowseIDNotFound if none is set.
func BrowseIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(browseIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrBrowseIDNotFound
	}
	return id, nil
}

// WithBrowseID returns a new context with the given browse session ID attached.
func WithBrowseID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, browseIDKey, id)
}
