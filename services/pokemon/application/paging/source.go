package paging

import (
	"context"
	"errors"

	"github.com/ghuser/pokedex/services/pokemon/domain"
	"github.com/ghuser/pokedex/services/pokemon/domain/models"
	"github.com/ghuser/pokedex/services/pokemon/domain/repositories"
)

// LocalPageSource serves ordered, filtered slices of the cached catalog.
// It never calls the remote source.
type LocalPageSource struct {
	reader repositories.PokemonReader
	filter string
}

// NewLocalPageSource returns a source over reader restricted to names containing filter.
func NewLocalPageSource(reader repositories.PokemonReader, filter string) *LocalPageSource {
	return &LocalPageSource{reader: reader, filter: models.PageQuery{Filter: filter}.NormalizedFilter()}
}

// Filter returns the normalized filter the source applies.
func (s *LocalPageSource) Filter() string {
	return s.filter
}

// Load returns up to limit items with ID greater than afterID.
func (s *LocalPageSource) Load(ctx context.Context, afterID, limit int) ([]models.Pokemon, error) {
	items, err := s.reader.QueryPage(ctx, models.PageQuery{
		Filter:  s.filter,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			return nil, err
		}
		return nil, &domain.StorageError{Op: "query page", Err: err}
	}
	return items, nil
}
