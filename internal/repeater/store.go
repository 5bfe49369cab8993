package repeater

import (
	"context"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/models"
)

// Store is the slice of the record store the repeater needs. Writes made
// through it are only atomic when it is bound to a transaction.
type Store interface {
	GetNode(ctx context.Context, id int64) (*models.Node, error)
	GetChild(ctx context.Context, parentID int64, name string) (*models.Node, error)
	Children(ctx context.Context, parentID int64) ([]*models.Node, error)
	CreateNode(ctx context.Context, n *models.Node) error
	UpdateNode(ctx context.Context, n *models.Node) error
	DeleteNode(ctx context.Context, id int64) error
	Values(ctx context.Context, nodeID int64) (map[string]string, error)
	SetValues(ctx context.Context, nodeID int64, values map[string]string) error
}

var _ Store = (*db.Queries)(nil)
