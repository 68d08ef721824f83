package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

// TopicPageMerged is the Watermill topic published when a remote page is merged
// into the local store.
const TopicPageMerged = "pokemon.page_merged"

// PageMergedEvent is published in the same transaction as the merge it describes.
// Consumers subscribe via EventBus.Subscribe(ctx, events.TopicPageMerged).
type PageMergedEvent struct {
	EventID    uuid.UUID `json:"event_id"` // Unique publish-time identifier for deduplication
	Version    int       `json:"version"`  // Schema version; increment on breaking changes
	Page       int       `json:"page"`
	Refresh    bool      `json:"refresh"`
	EndReached bool      `json:"end_reached"`
	PokemonIDs []int     `json:"pokemon_ids"`
	Names      []string  `json:"names"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PageMergedVersion is the current PageMergedEvent schema version.
const PageMergedVersion = 1

// NewPageMergedEvent builds the event for a committed merge.
func NewPageMergedEvent(m models.PageMerge, at time.Time) PageMergedEvent {
	return PageMergedEvent{
		EventID:    uuid.New(),
		Version:    PageMergedVersion,
		Page:       m.Page,
		Refresh:    m.Refresh,
		EndReached: m.EndReached,
		PokemonIDs: m.PokemonIDs,
		Names:      m.Names,
		OccurredAt: at.UTC(),
	}
}
