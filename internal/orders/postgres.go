package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storeops/internal/models"
)

// Postgres implements Gateway against the store database.
type Postgres struct {
	pool  *pgxpool.Pool
	chunk int
}

// NewPostgres creates a pooled connection to Postgres. chunk bounds how many
// ids a single FindByIDs round trip resolves.
func NewPostgres(ctx context.Context, dsn string, chunk int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if chunk <= 0 {
		chunk = 100
	}
	return &Postgres{pool: pool, chunk: chunk}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

const orderColumns = "id, status, total_cents, currency, customer_email, country, tags, created_at"

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	if err := row.Scan(&o.ID, &o.Status, &o.TotalCents, &o.Currency, &o.CustomerEmail, &o.Country, &o.Tags, &o.CreatedAt); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// FindByID fetches one order.
func (p *Postgres) FindByID(ctx context.Context, id int64) (models.Order, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, models.ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("scan order %d: %w", id, err)
	}
	return o, nil
}

// FindByIDs resolves ids in chunks to bound round trips on large batches.
func (p *Postgres) FindByIDs(ctx context.Context, ids []int64) (map[int64]models.Order, error) {
	out := make(map[int64]models.Order, len(ids))
	for start := 0; start < len(ids); start += p.chunk {
		end := start + p.chunk
		if end > len(ids) {
			end = len(ids)
		}
		rows, err := p.pool.Query(ctx, `
			SELECT `+orderColumns+` FROM orders WHERE id = ANY($1)
		`, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("query orders chunk: %w", err)
		}
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan order: %w", err)
			}
			out[o.ID] = o
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read orders chunk: %w", err)
		}
	}
	return out, nil
}

// Query builds a WHERE clause from the set criteria dimensions.
func (p *Postgres) Query(ctx context.Context, c models.Criteria, limit int) ([]int64, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(c.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(c.Statuses)+")")
	}
	if c.CreatedFrom != nil {
		conds = append(conds, "created_at >= "+arg(*c.CreatedFrom))
	}
	if c.CreatedTo != nil {
		conds = append(conds, "created_at <= "+arg(*c.CreatedTo))
	}
	if c.CustomerEmail != "" {
		conds = append(conds, "customer_email = "+arg(c.CustomerEmail))
	}
	if c.MinTotalCents != nil {
		conds = append(conds, "total_cents >= "+arg(*c.MinTotalCents))
	}
	if c.MaxTotalCents != nil {
		conds = append(conds, "total_cents <= "+arg(*c.MaxTotalCents))
	}
	if c.Country != "" {
		conds = append(conds, "country = "+arg(c.Country))
	}

	query := "SELECT id FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT " + arg(limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read order ids: %w", err)
	}
	return ids, nil
}

// UpdateStatus sets an order's status.
func (p *Postgres) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetTags replaces an order's tag set.
func (p *Postgres) SetTags(ctx context.Context, id int64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE orders SET tags = $2, updated_at = NOW() WHERE id = $1
	`, id, tags)
	if err != nil {
		return fmt.Errorf("update order %d tags: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AddNote appends an annotation and returns its id.
func (p *Postgres) AddNote(ctx context.Context, note models.OrderNote) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO order_notes (order_id, author, note, customer_visible, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id
	`, note.OrderID, note.Author, note.Note, note.CustomerVisible).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert note for order %d: %w", note.OrderID, err)
	}
	return id, nil
}

// DeleteNote removes an annotation by id.
func (p *Postgres) DeleteNote(ctx context.Context, noteID int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM order_notes WHERE id = $1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note %d: %w", noteID, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetProduct fetches one product.
func (p *Postgres) GetProduct(ctx context.Context, id int64) (models.Product, error) {
	var prod models.Product
	err := p.pool.QueryRow(ctx, `
		SELECT id, sku, name, stock_qty, price_cents FROM products WHERE id = $1
	`, id).Scan(&prod.ID, &prod.SKU, &prod.Name, &prod.StockQty, &prod.PriceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, models.ErrNotFound
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("scan product %d: %w", id, err)
	}
	return prod, nil
}

// SetStock sets a product's stock quantity.
func (p *Postgres) SetStock(ctx context.Context, id int64, qty int64) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE products SET stock_qty = $2, updated_at = NOW() WHERE id = $1
	`, id, qty)
	if err != nil {
		return fmt.Errorf("update product %d stock: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
