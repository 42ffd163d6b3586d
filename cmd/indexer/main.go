package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/discoveryrank/backend/internal/adapters/database"
	"github.com/zatekoja/discoveryrank/backend/internal/adapters/search"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	"github.com/zatekoja/discoveryrank/backend/pkg/config"
)

const pageSize = 500

func main() {
	var reset bool
	var intervalFlag string
	flag.BoolVar(&reset, "reset", false, "delete existing Typesense collection before reindexing")
	flag.StringVar(&intervalFlag, "interval", "", "repeat interval for reindexing (e.g. 6h, 30m)")
	flag.Parse()

	intervalValue := strings.TrimSpace(intervalFlag)
	if intervalValue == "" {
		intervalValue = strings.TrimSpace(os.Getenv("REINDEX_INTERVAL"))
	}

	var interval time.Duration
	var err error
	if intervalValue != "" {
		interval, err = time.ParseDuration(intervalValue)
		if err != nil {
			log.Fatal().Err(err).Str("interval", intervalValue).Msg("Invalid interval")
		}
		if interval <= 0 {
			log.Fatal().Msg("Interval must be greater than zero")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-indexer", cfg.Log.Env, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if err := indexOnce(ctx, cfg, reset); err != nil {
			log.Error().Err(err).Msg("Reindex failed")
		}

		if interval <= 0 {
			break
		}

		reset = false
		log.Info().Dur("next_run_in", interval).Msg("Reindex complete")

		select {
		case <-ctx.Done():
			log.Info().Msg("Reindexer shutting down")
			return
		case <-time.After(interval):
		}
	}
}

func indexOnce(ctx context.Context, cfg *config.Config, reset bool) error {
	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		return err
	}
	defer pgClient.Close()

	tsClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		return err
	}

	if reset || os.Getenv("RESET_TYPESENSE") == "true" {
		log.Info().Str("collection", tsClient.Collection()).Msg("Deleting search collection before reindex")
		if _, err := tsClient.Client().Collection(tsClient.Collection()).Delete(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to delete collection")
		}
	}

	if err := tsClient.InitSchema(ctx); err != nil {
		return err
	}

	products := database.NewProductAdapter(pgClient, nil)
	indexed, failed, err := reindex(ctx, products, search.NewTypesenseAdapter(tsClient))
	log.Info().Int("indexed", indexed).Int("failed", failed).Msg("Indexed published products")
	return err
}

// reindex pages through published products and upserts each into the
// index. Individual failures are logged and counted.
func reindex(ctx context.Context, products repositories.CandidateRepository, index repositories.ProductSearchRepository) (int, int, error) {
	indexed, failed := 0, 0
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return indexed, failed, err
		}

		page, err := products.ListPublished(ctx, repositories.ListFilter{
			Limit:  pageSize,
			Offset: offset,
			Sort:   repositories.SortCreatedAtDesc,
		})
		if err != nil {
			return indexed, failed, err
		}

		for _, p := range page {
			if p == nil || p.Status != entities.ProductStatusPublished {
				continue
			}
			if err := index.Index(ctx, p); err != nil {
				failed++
				log.Warn().Err(err).Str("product_id", p.ID).Msg("Failed to index product")
				continue
			}
			indexed++
		}

		if len(page) < pageSize {
			return indexed, failed, nil
		}
	}
}
