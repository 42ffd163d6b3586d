package loaders

import (
	"context"
	"errors"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// errMissing marks an ID the store did not return
var errMissing = errors.New("product not found")

// Loaders contains the per-request dataloaders
type Loaders struct {
	ProductLoader *dataloader.Loader[string, *entities.Product]
}

// NewLoaders creates a new instance of Loaders. Create one per request so
// concurrently running strategies share batches and results.
func NewLoaders(repo repositories.CandidateRepository) *Loaders {
	return &Loaders{
		ProductLoader: dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[*entities.Product] {
			results := make([]*dataloader.Result[*entities.Product], len(keys))
			products, err := repo.ListByIDs(ctx, keys)

			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[*entities.Product]{Error: err}
				} else if p, ok := products[key]; ok {
					results[i] = &dataloader.Result[*entities.Product]{Data: p}
				} else {
					results[i] = &dataloader.Result[*entities.Product]{Error: errMissing}
				}
			}
			return results
		},
			dataloader.WithWait[string, *entities.Product](2*time.Millisecond),
			dataloader.WithBatchCapacity[string, *entities.Product](500),
		),
	}
}

// For returns the loaders for a given context, or nil when none are attached
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// ListByIDs fetches products through the request loader when one is
// attached and straight from repo otherwise. Missing IDs are omitted.
func ListByIDs(ctx context.Context, repo repositories.CandidateRepository, ids []string) (map[string]*entities.Product, error) {
	if len(ids) == 0 {
		return map[string]*entities.Product{}, nil
	}
	l := For(ctx)
	if l == nil {
		return repo.ListByIDs(ctx, ids)
	}

	products, errs := l.ProductLoader.LoadMany(ctx, ids)()
	out := make(map[string]*entities.Product, len(ids))
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			if errors.Is(errs[i], errMissing) {
				continue
			}
			return nil, errs[i]
		}
		if i < len(products) && products[i] != nil {
			out[id] = products[i]
		}
	}
	return out, nil
}
