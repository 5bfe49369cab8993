package repeater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
)

var ErrNotOwned = errors.New("item is not owned by this host and field")

// Adapter maps a repeater field value, an ordered list of items, onto the
// children of the (host, field) container node.
type Adapter struct {
	store    Store
	registry *fields.Registry
	resolver *Resolver
	logger   *slog.Logger
}

func NewAdapter(store Store, registry *fields.Registry, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		store:    store,
		registry: registry,
		resolver: NewResolver(store, registry, logger),
		logger:   logger,
	}
}

func (a *Adapter) Resolver() *Resolver {
	return a.resolver
}

// Container returns the node holding host's items for field, creating the
// field and host containers under the repeaters root when create is set.
// Without create a missing container yields (nil, nil).
func (a *Adapter) Container(ctx context.Context, host *models.Node, field *fields.Field, create bool) (*models.Node, error) {
	fieldNode, err := a.child(ctx, models.RepeatersID, ContainerName(field.ID), create)
	if fieldNode == nil || err != nil {
		return nil, err
	}
	return a.child(ctx, fieldNode.ID, OwnerName(host.ID), create)
}

func (a *Adapter) child(ctx context.Context, parentID int64, name string, create bool) (*models.Node, error) {
	n, err := a.store.GetChild(ctx, parentID, name)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if !create {
		return nil, nil
	}
	n = &models.Node{
		ParentID: parentID,
		Name:     name,
		Template: "repeater",
		Flags:    models.FlagSystem | models.FlagHidden,
	}
	if err := a.store.CreateNode(ctx, n); err != nil {
		return nil, fmt.Errorf("creating container %s: %w", name, err)
	}
	a.logger.DebugContext(ctx, "created repeater container", "name", name, "id", n.ID)
	return n, nil
}

// Load returns the saved value of field on host: attached items in
// ascending sort order, ties broken by creation order. Drafts and items
// left pending delete are not part of the value.
func (a *Adapter) Load(ctx context.Context, host *models.Node, field *fields.Field) ([]*Item, error) {
	items, err := a.items(ctx, host, field, true)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(items, func(it *Item) bool {
		return !it.State().Attached()
	}), nil
}

// Drafts returns the unattached items of field on host, oldest first.
func (a *Adapter) Drafts(ctx context.Context, host *models.Node, field *fields.Field) ([]*Item, error) {
	items, err := a.items(ctx, host, field, false)
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(it *Item) bool {
		return it.State() != StateDraft
	})
	slices.SortStableFunc(items, func(x, y *Item) int {
		return compareInt64(x.ID(), y.ID())
	})
	return items, nil
}

func (a *Adapter) items(ctx context.Context, host *models.Node, field *fields.Field, create bool) ([]*Item, error) {
	container, err := a.Container(ctx, host, field, create)
	if err != nil {
		return nil, fmt.Errorf("locating container: %w", err)
	}
	if container == nil {
		return nil, nil
	}
	nodes, err := a.store.Children(ctx, container.ID)
	if err != nil {
		return nil, err
	}

	items := make([]*Item, 0, len(nodes))
	for _, n := range nodes {
		values, err := a.store.Values(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		a.resolver.Bind(n, host, field)
		items = append(items, NewItem(n, values))
	}
	slices.SortStableFunc(items, func(x, y *Item) int {
		if c := x.Node.Sort - y.Node.Sort; c != 0 {
			return c
		}
		return compareInt64(x.ID(), y.ID())
	})
	return items, nil
}

// NewDraft creates an unattached item for field on host, created by userID.
// It is placed after every existing item.
func (a *Adapter) NewDraft(ctx context.Context, host *models.Node, field *fields.Field, userID int64) (*Item, error) {
	container, err := a.Container(ctx, host, field, true)
	if err != nil {
		return nil, fmt.Errorf("locating container: %w", err)
	}
	siblings, err := a.store.Children(ctx, container.ID)
	if err != nil {
		return nil, err
	}
	sort := 0
	for _, s := range siblings {
		if s.Sort >= sort {
			sort = s.Sort + 1
		}
	}

	n := &models.Node{
		ParentID:      container.ID,
		Name:          strings.ToLower(ulid.Make().String()),
		Template:      "repeater_" + field.Name,
		Flags:         draftFlags,
		Sort:          sort,
		CreatedUserID: userID,
	}
	if err := a.store.CreateNode(ctx, n); err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	a.resolver.Bind(n, host, field)
	return NewItem(n, nil), nil
}

// Save persists items as the value of field on host. Items pending delete
// are removed; every other item is attached and renumbered 0..N-1 in list
// order. Stale pending-delete markers in the container are removed too.
//
// Save performs several writes; it must run on a Store bound to the same
// transaction as the host record's own save.
func (a *Adapter) Save(ctx context.Context, host *models.Node, field *fields.Field, items []*Item) error {
	container, err := a.Container(ctx, host, field, true)
	if err != nil {
		return fmt.Errorf("locating container: %w", err)
	}
	for _, it := range items {
		if it.Node == nil || it.Node.ID == 0 || it.Node.ParentID != container.ID {
			return fmt.Errorf("saving %s item %d: %w", field.Name, it.ID(), ErrNotOwned)
		}
	}

	listed := make(map[int64]bool, len(items))
	sort := 0
	for _, it := range items {
		listed[it.ID()] = true
		if it.State() == StatePendingDelete {
			if err := a.store.DeleteNode(ctx, it.ID()); err != nil {
				return fmt.Errorf("deleting %s item %d: %w", field.Name, it.ID(), err)
			}
			it.markDeleted()
			continue
		}
		if it.State() == StateDeleted {
			continue
		}
		it.attach()
		it.Node.Sort = sort
		sort++
		if err := a.store.UpdateNode(ctx, it.Node); err != nil {
			return fmt.Errorf("saving %s item %d: %w", field.Name, it.ID(), err)
		}
		if err := a.store.SetValues(ctx, it.ID(), a.templateValues(field, it.Values)); err != nil {
			return fmt.Errorf("saving %s item %d values: %w", field.Name, it.ID(), err)
		}
	}

	stale, err := a.store.Children(ctx, container.ID)
	if err != nil {
		return err
	}
	for _, n := range stale {
		if listed[n.ID] || !n.Has(models.FlagPendingDelete) {
			continue
		}
		if err := a.store.DeleteNode(ctx, n.ID); err != nil {
			return fmt.Errorf("deleting stale %s item %d: %w", field.Name, n.ID, err)
		}
	}
	return nil
}

// templateValues keeps only the values of the repeater's sub-fields.
func (a *Adapter) templateValues(field *fields.Field, values map[string]string) map[string]string {
	out := make(map[string]string, len(field.Template))
	for _, name := range field.Template {
		if v, ok := values[name]; ok {
			out[name] = v
		}
	}
	return out
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
