package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/esnunes/repeater/internal/models"
)

var ErrNotFound = errors.New("record not found")

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db   dbtx
	conn *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db, conn: db}
}

// InTx runs fn with a Queries bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Callers
// must only use the Queries passed to fn until it returns.
func (q *Queries) InTx(ctx context.Context, fn func(*Queries) error) error {
	if q.conn == nil {
		// already inside a transaction
		return fn(q)
	}
	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer TxnRollback(tx)

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const nodeColumns = `id, parent_id, name, template, flags, sort, created_user_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(s scanner) (*models.Node, error) {
	n := &models.Node{}
	var parentID sql.NullInt64
	var createdAt, updatedAt string
	if err := s.Scan(&n.ID, &parentID, &n.Name, &n.Template, &n.Flags, &n.Sort,
		&n.CreatedUserID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.ParentID = parentID.Int64
	n.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	n.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return n, nil
}

// Nodes

func (q *Queries) GetNode(ctx context.Context, id int64) (*models.Node, error) {
	n, err := scanNode(q.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting node %d: %w", id, err)
	}
	return n, nil
}

func (q *Queries) GetChild(ctx context.Context, parentID int64, name string) (*models.Node, error) {
	n, err := scanNode(q.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? AND name = ?`, parentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting child %q of %d: %w", name, parentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting child %q of %d: %w", name, parentID, err)
	}
	return n, nil
}

// Children lists the children of parentID ordered by sort, then by id.
func (q *Queries) Children(ctx context.Context, parentID int64) ([]*models.Node, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? ORDER BY sort ASC, id ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var results []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// ListHosts returns the content records directly under home.
func (q *Queries) ListHosts(ctx context.Context) ([]*models.Node, error) {
	children, err := q.Children(ctx, models.HomeID)
	if err != nil {
		return nil, err
	}
	hosts := children[:0]
	for _, n := range children {
		if !n.Has(models.FlagSystem) {
			hosts = append(hosts, n)
		}
	}
	return hosts, nil
}

func (q *Queries) CreateNode(ctx context.Context, n *models.Node) error {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO nodes (parent_id, name, template, flags, sort, created_user_id) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ParentID, n.Name, n.Template, n.Flags, n.Sort, n.CreatedUserID,
	)
	if err != nil {
		return fmt.Errorf("creating node %q: %w", n.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating node %q: %w", n.Name, err)
	}
	created, err := q.GetNode(ctx, id)
	if err != nil {
		return err
	}
	*n = *created
	return nil
}

func (q *Queries) UpdateNode(ctx context.Context, n *models.Node) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE nodes SET name = ?, template = ?, flags = ?, sort = ?, updated_at = datetime('now') WHERE id = ?`,
		n.Name, n.Template, n.Flags, n.Sort, n.ID,
	)
	if err != nil {
		return fmt.Errorf("updating node %d: %w", n.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("updating node %d: %w", n.ID, ErrNotFound)
	}
	return nil
}

// DeleteNode removes a node, its descendants and their values.
func (q *Queries) DeleteNode(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting node %d: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("deleting node %d: %w", id, ErrNotFound)
	}
	return nil
}

// Values

func (q *Queries) Values(ctx context.Context, nodeID int64) (map[string]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name, value FROM node_values WHERE node_id = ?`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("listing values of %d: %w", nodeID, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		values[name] = value
	}
	return values, rows.Err()
}

func (q *Queries) SetValues(ctx context.Context, nodeID int64, values map[string]string) error {
	for name, value := range values {
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO node_values (node_id, name, value) VALUES (?, ?, ?)
			 ON CONFLICT(node_id, name) DO UPDATE SET value = excluded.value`,
			nodeID, name, value,
		)
		if err != nil {
			return fmt.Errorf("setting %s on %d: %w", name, nodeID, err)
		}
	}
	return nil
}
