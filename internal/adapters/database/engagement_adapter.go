package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/zatekoja/discoveryrank/backend/internal/domain/entities"
	"github.com/zatekoja/discoveryrank/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/discoveryrank/backend/pkg/errors"
)

// counterColumns maps interaction kinds to their product counter
var counterColumns = map[entities.InteractionKind]string{
	entities.InteractionUpvote:   "upvotes",
	entities.InteractionBookmark: "bookmarks",
	entities.InteractionComment:  "comments",
}

// EngagementAdapter implements EngagementRepository over PostgreSQL
type EngagementAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewEngagementAdapter creates a new engagement adapter
func NewEngagementAdapter(client *postgres.Client) *EngagementAdapter {
	return &EngagementAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// RecordView stores the view and updates the product's view counters and
// daily history. The product row is locked before the prior-view lookup,
// so concurrent first views by one viewer count a single unique view.
// Returns whether the view counted as unique.
func (a *EngagementAdapter) RecordView(ctx context.Context, view *entities.Interaction) (bool, error) {
	unique := false
	err := a.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := a.db.From(productsTable).
			Select("views_count", "views_unique", "view_history").
			Where(goqu.Ex{"id": view.ProductID}).
			ForUpdate(exp.Wait).
			ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build query", err)
		}

		var (
			e       entities.Engagement
			history []byte
		)
		err = tx.QueryRowContext(ctx, query, args...).Scan(&e.Views.Count, &e.Views.Unique, &history)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError("product not found: " + view.ProductID)
		}
		if err != nil {
			return storeError(ctx, "failed to read view counters", err)
		}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &e.Views.History); err != nil {
				e.Views.History = nil
			}
		}

		prior := false
		if !view.Bot && (view.UserID != "" || view.ClientID != "") {
			if prior, err = a.hasPriorView(ctx, tx, view); err != nil {
				return err
			}
		}
		unique = entities.CountsUniqueView(view, prior)

		if err := a.insertInteraction(ctx, tx, view); err != nil {
			return err
		}

		e.RecordView(view.At, unique)
		encoded, err := json.Marshal(e.Views.History)
		if err != nil {
			return apperrors.NewInternalError("failed to encode view history", err)
		}

		update, args, err := a.db.Update(productsTable).Set(goqu.Record{
			"views_count":  e.Views.Count,
			"views_unique": e.Views.Unique,
			"view_history": string(encoded),
		}).Where(goqu.Ex{"id": view.ProductID}).ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build update query", err)
		}
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return storeError(ctx, "failed to update view counters", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return unique, nil
}

// hasPriorView reports whether a non-bot view by the user, or by the client
// when the view has no user, already exists for the product
func (a *EngagementAdapter) hasPriorView(ctx context.Context, tx *sql.Tx, view *entities.Interaction) (bool, error) {
	where := goqu.Ex{"product_id": view.ProductID, "kind": string(entities.InteractionView), "bot": false}
	if view.UserID != "" {
		where["user_id"] = view.UserID
	} else {
		where["user_id"] = ""
		where["client_id"] = view.ClientID
	}

	query, args, err := a.db.From(interactionsTable).Select(goqu.L("1")).Where(where).Limit(1).ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build query", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeError(ctx, "failed to check prior view", err)
	}
	return true, nil
}

// lockProduct takes the product row lock that serializes engagement writes
// for one product
func (a *EngagementAdapter) lockProduct(ctx context.Context, tx *sql.Tx, productID string) error {
	query, args, err := a.db.From(productsTable).Select("id").
		Where(goqu.Ex{"id": productID}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("product not found: " + productID)
	}
	if err != nil {
		return storeError(ctx, "failed to lock product", err)
	}
	return nil
}

// Toggle flips an upvote or bookmark and adjusts the product counter under
// the product row lock. Returns whether the interaction is now active.
func (a *EngagementAdapter) Toggle(ctx context.Context, interaction *entities.Interaction) (bool, error) {
	column, ok := counterColumns[interaction.Kind]
	if !ok || !interaction.Kind.IsToggle() {
		return false, apperrors.NewInvalidArgumentError("interaction kind cannot be toggled: " + string(interaction.Kind))
	}

	active := false
	err := a.inTx(ctx, func(tx *sql.Tx) error {
		if err := a.lockProduct(ctx, tx, interaction.ProductID); err != nil {
			return err
		}
		del, args, err := a.db.Delete(interactionsTable).Where(goqu.Ex{
			"user_id":    interaction.UserID,
			"product_id": interaction.ProductID,
			"kind":       string(interaction.Kind),
		}).ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build delete query", err)
		}
		res, err := tx.ExecContext(ctx, del, args...)
		if err != nil {
			return storeError(ctx, "failed to remove interaction", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return storeError(ctx, "failed to remove interaction", err)
		}

		delta := goqu.L("? + 1", goqu.C(column))
		if removed > 0 {
			delta = goqu.L("GREATEST(? - 1, 0)", goqu.C(column))
		} else {
			if err := a.insertInteraction(ctx, tx, interaction); err != nil {
				return err
			}
			active = true
		}
		return a.bumpCounter(ctx, tx, interaction.ProductID, column, delta)
	})
	return active, err
}

// Record stores a non-toggle interaction and increments its counter
func (a *EngagementAdapter) Record(ctx context.Context, interaction *entities.Interaction) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if err := a.insertInteraction(ctx, tx, interaction); err != nil {
			return err
		}
		column, ok := counterColumns[interaction.Kind]
		if !ok {
			return nil
		}
		return a.bumpCounter(ctx, tx, interaction.ProductID, column, goqu.L("? + 1", goqu.C(column)))
	})
}

func (a *EngagementAdapter) insertInteraction(ctx context.Context, tx *sql.Tx, i *entities.Interaction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	query, args, err := a.db.Insert(interactionsTable).Rows(goqu.Record{
		"id":         i.ID,
		"user_id":    i.UserID,
		"client_id":  i.ClientID,
		"product_id": i.ProductID,
		"kind":       string(i.Kind),
		"bot":        i.Bot,
		"at":         i.At,
	}).OnConflict(goqu.DoNothing()).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storeError(ctx, "failed to insert interaction", err)
	}
	return nil
}

func (a *EngagementAdapter) bumpCounter(ctx context.Context, tx *sql.Tx, productID, column string, value exp.LiteralExpression) error {
	query, args, err := a.db.Update(productsTable).
		Set(goqu.Record{column: value}).
		Where(goqu.Ex{"id": productID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storeError(ctx, "failed to update "+column, err)
	}
	return nil
}

func (a *EngagementAdapter) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return storeError(ctx, "failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError(ctx, "failed to commit transaction", err)
	}
	return nil
}
