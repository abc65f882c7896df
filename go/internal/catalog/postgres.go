package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pointdeck/pointdeck/go/internal/models"
)

// PostgresCatalog serves the item catalog from a backlog_items table
// for deployments that mirror the upstream catalog into Postgres.
//
// Expected schema:
//
//	CREATE TABLE backlog_items (
//	    id          TEXT PRIMARY KEY,
//	    title       TEXT NOT NULL,
//	    description TEXT NOT NULL DEFAULT '',
//	    status      TEXT NOT NULL DEFAULT 'BACKLOG',
//	    story_point INT,
//	    memo        TEXT NOT NULL DEFAULT '',
//	    sprint      TEXT NOT NULL DEFAULT '',
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog creates a catalog backed by the given pool.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

const itemColumns = "id, title, description, status, story_point, memo, sprint, updated_at"

func scanItem(row pgx.Row) (*models.Item, error) {
	var item models.Item
	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Status,
		&item.StoryPoint, &item.Memo, &item.Sprint, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *PostgresCatalog) FindItem(ctx context.Context, id string) (*models.Item, error) {
	row := c.pool.QueryRow(ctx,
		"SELECT "+itemColumns+" FROM backlog_items WHERE id = $1", id)

	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item %s: %w", id, err)
	}
	return item, nil
}

func (c *PostgresCatalog) ItemExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := c.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM backlog_items WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check item %s: %w", id, err)
	}
	return exists, nil
}

func (c *PostgresCatalog) ListSimilarItems(ctx context.Context, id string) ([]models.Item, error) {
	rows, err := c.pool.Query(ctx, `
        SELECT `+itemColumns+`
        FROM backlog_items
        WHERE id != $1
          AND story_point IS NOT NULL
          AND story_point = (SELECT story_point FROM backlog_items WHERE id = $1)
        ORDER BY updated_at DESC
        LIMIT 20
    `, id)
	if err != nil {
		return nil, fmt.Errorf("list similar items for %s: %w", id, err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan similar item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list similar items for %s: %w", id, err)
	}
	return items, nil
}

func (c *PostgresCatalog) UpdateItemPoint(ctx context.Context, id string, point int, memo string) error {
	_, err := c.pool.Exec(ctx, `
        UPDATE backlog_items
        SET story_point = $2, memo = $3, updated_at = now()
        WHERE id = $1
    `, id, point, memo)
	if err != nil {
		return fmt.Errorf("update item point %s: %w", id, err)
	}
	return nil
}
