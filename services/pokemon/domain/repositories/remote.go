package repositories

import (
	"context"

	"github.com/ghuser/pokedex/services/pokemon/domain/models"
)

// RemoteSource is the remote paginated catalog. Implementations report
// connectivity failures as *domain.TransportError and non-2xx responses as
// *domain.RemoteStatusError.
type RemoteSource interface {
	FetchPage(ctx context.Context, limit, offset int) ([]models.ListEntry, error)
	FetchDetail(ctx context.Context, name string) (*models.Details, error)
}
