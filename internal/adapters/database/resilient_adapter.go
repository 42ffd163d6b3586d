package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/domain/repositories"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
	"github.com/zatekoja/discoveryrank/backend/pkg/retry"
)

// BreakerConfig configures the circuit breaker around candidate queries
type BreakerConfig struct {
	Name        string
	MinRequests uint32
	FailureRate float64
	Interval    time.Duration
	Timeout     time.Duration
	MaxRequests uint32
}

// DefaultBreakerConfig opens at 60% failures over at least 10 requests and
// probes again after 30 seconds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "candidate-store",
		MinRequests: 10,
		FailureRate: 0.6,
		Interval:    time.Minute,
		Timeout:     apperrors.DefaultRetryAfter,
		MaxRequests: 3,
	}
}

// ResilientCandidateAdapter wraps a CandidateRepository with one retry on
// transient failures and a circuit breaker. While the breaker is open every
// call fails fast with UNAVAILABLE carrying the breaker timeout as retry hint.
type ResilientCandidateAdapter struct {
	next    repositories.CandidateRepository
	cb      *gobreaker.CircuitBreaker[interface{}]
	cfg     BreakerConfig
	retry   retry.Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewResilientCandidateAdapter creates a resilient wrapper around next
func NewResilientCandidateAdapter(next repositories.CandidateRepository, cfg BreakerConfig) *ResilientCandidateAdapter {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRate <= 0 {
		cfg.FailureRate = def.FailureRate
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}

	a := &ResilientCandidateAdapter{
		next:   next,
		cfg:    cfg,
		retry:  retry.QueryConfig(transient),
		logger: observability.ComponentLogger("resilient_candidates"),
	}
	a.cb = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
		// only transport failures count against the store
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.Is(err, apperrors.ErrorTypeUnavailable)
		},
	})
	return a
}

// WithMetrics records query durations per operation
func (a *ResilientCandidateAdapter) WithMetrics(metrics *observability.Metrics) *ResilientCandidateAdapter {
	a.metrics = metrics
	return a
}

// State returns the breaker state
func (a *ResilientCandidateAdapter) State() gobreaker.State {
	return a.cb.State()
}

// transient reports whether a failed query is worth one more attempt
func transient(err error) bool {
	return apperrors.Is(err, apperrors.ErrorTypeUnavailable)
}

func (a *ResilientCandidateAdapter) execute(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	defer func() {
		observability.RecordDBMetric(ctx, a.metrics, op, time.Since(start))
	}()

	result, err := a.cb.Execute(func() (interface{}, error) {
		var out interface{}
		err := retry.Do(ctx, a.retry, func() error {
			var err error
			out, err = fn()
			return err
		})
		return out, err
	})
	if err == nil {
		return result, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.NewUnavailableError("candidate store circuit open", err, a.cfg.Timeout)
	}
	if apperrors.Is(err, apperrors.ErrorTypeUnavailable) {
		return nil, apperrors.NewUnavailableError("candidate store unavailable", err, a.cfg.Timeout)
	}
	return nil, err
}

// GetProduct retrieves a product by ID
func (a *ResilientCandidateAdapter) GetProduct(ctx context.Context, id string) (*entities.Product, error) {
	res, err := a.execute(ctx, "get_product", func() (interface{}, error) {
		return a.next.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*entities.Product), nil
}

// ListPublished lists published products matching filter
func (a *ResilientCandidateAdapter) ListPublished(ctx context.Context, filter repositories.ListFilter) ([]*entities.Product, error) {
	res, err := a.execute(ctx, "list_published", func() (interface{}, error) {
		return a.next.ListPublished(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*entities.Product), nil
}

// ListByIDs retrieves products by ID
func (a *ResilientCandidateAdapter) ListByIDs(ctx context.Context, ids []string) (map[string]*entities.Product, error) {
	res, err := a.execute(ctx, "list_by_ids", func() (interface{}, error) {
		return a.next.ListByIDs(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]*entities.Product), nil
}

// GetUserInteractions retrieves a user's recent interactions
func (a *ResilientCandidateAdapter) GetUserInteractions(ctx context.Context, userID string, kinds []entities.InteractionKind, sinceDays int) ([]*entities.Interaction, error) {
	res, err := a.execute(ctx, "get_user_interactions", func() (interface{}, error) {
		return a.next.GetUserInteractions(ctx, userID, kinds, sinceDays)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*entities.Interaction), nil
}

// GetCollaborators returns users with overlapping interactions
func (a *ResilientCandidateAdapter) GetCollaborators(ctx context.Context, userID string, k int) ([]string, error) {
	res, err := a.execute(ctx, "get_collaborators", func() (interface{}, error) {
		return a.next.GetCollaborators(ctx, userID, k)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}
