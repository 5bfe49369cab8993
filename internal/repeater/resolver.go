package repeater

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
)

// Ownership names the host and field an item belongs to. Zero means unknown.
type Ownership struct {
	HostID  int64
	FieldID int64
}

type owner struct {
	host  *models.Node
	field *fields.Field
}

// Resolver finds the host record and field that own an item node. Results
// are memoized in a table keyed by node id; the table lives as long as the
// resolver, which is normally one adapter, so one request.
//
// Resolution is read-only. A name that does not decode, or a host that is
// not in the store, resolves to models.NullNode / fields.NullField.
type Resolver struct {
	store    Store
	registry *fields.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	hosts  map[int64]*models.Node
	fields map[int64]*fields.Field
}

func NewResolver(store Store, registry *fields.Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		store:    store,
		registry: registry,
		logger:   logger,
		hosts:    make(map[int64]*models.Node),
		fields:   make(map[int64]*fields.Field),
	}
}

// Bind records the owners of an item whose identity is already known.
func (r *Resolver) Bind(n *models.Node, host *models.Node, field *fields.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[n.ID] = host
	r.fields[n.ID] = field
}

func (r *Resolver) cachedHost(id int64) (*models.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[id]
	return h, ok
}

func (r *Resolver) cachedField(id int64) (*fields.Field, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fields[id]
	return f, ok
}

// Host returns the record owning n, decoded from the name of n's parent.
func (r *Resolver) Host(ctx context.Context, n *models.Node) *models.Node {
	if n == nil || n.ID == 0 {
		return models.NullNode
	}
	if h, ok := r.cachedHost(n.ID); ok {
		return h
	}

	host, cache := r.lookupHost(ctx, n)
	if cache {
		r.mu.Lock()
		r.hosts[n.ID] = host
		r.mu.Unlock()
	}
	return host
}

func (r *Resolver) lookupHost(ctx context.Context, n *models.Node) (*models.Node, bool) {
	parent, err := r.store.GetNode(ctx, n.ParentID)
	if err != nil {
		return r.miss(ctx, n, "parent", err), !transient(err)
	}
	hostID, ok := DecodeHostID(parent.Name)
	if !ok {
		r.logger.DebugContext(ctx, "item parent is not a host container", "item", n.ID, "parent", parent.Name)
		return models.NullNode, true
	}
	host, err := r.store.GetNode(ctx, hostID)
	if err != nil {
		return r.miss(ctx, n, "host", err), !transient(err)
	}
	return host, true
}

// Field returns the repeater field owning n, decoded from the name of n's
// grandparent.
func (r *Resolver) Field(ctx context.Context, n *models.Node) *fields.Field {
	if n == nil || n.ID == 0 {
		return fields.NullField
	}
	if f, ok := r.cachedField(n.ID); ok {
		return f
	}

	field, cache := r.lookupField(ctx, n)
	if cache {
		r.mu.Lock()
		r.fields[n.ID] = field
		r.mu.Unlock()
	}
	return field
}

func (r *Resolver) lookupField(ctx context.Context, n *models.Node) (*fields.Field, bool) {
	parent, err := r.store.GetNode(ctx, n.ParentID)
	if err != nil {
		r.miss(ctx, n, "parent", err)
		return fields.NullField, !transient(err)
	}
	grandparent, err := r.store.GetNode(ctx, parent.ParentID)
	if err != nil {
		r.miss(ctx, n, "grandparent", err)
		return fields.NullField, !transient(err)
	}
	fieldID, ok := DecodeFieldID(grandparent.Name)
	if !ok {
		r.logger.DebugContext(ctx, "item grandparent is not a field container", "item", n.ID, "grandparent", grandparent.Name)
		return fields.NullField, true
	}
	field, ok := r.registry.Repeater(fieldID)
	if !ok {
		r.logger.DebugContext(ctx, "item belongs to an unknown field", "item", n.ID, "field", fieldID)
		return fields.NullField, true
	}
	return field, true
}

func (r *Resolver) miss(ctx context.Context, n *models.Node, what string, err error) *models.Node {
	if transient(err) {
		r.logger.WarnContext(ctx, "resolving item owner", "item", n.ID, "lookup", what, "err", err)
	} else {
		r.logger.DebugContext(ctx, "item owner not found", "item", n.ID, "lookup", what)
	}
	return models.NullNode
}

// transient reports whether a lookup failure may succeed later and so must
// not be memoized.
func transient(err error) bool {
	return !errors.Is(err, db.ErrNotFound)
}

func (r *Resolver) Ownership(ctx context.Context, n *models.Node) Ownership {
	return Ownership{
		HostID:  r.Host(ctx, n).ID,
		FieldID: r.Field(ctx, n).ID,
	}
}

// IsPublic reports whether an item is visible: it must be active and its
// host must itself be public. Unresolvable items are never public.
func (r *Resolver) IsPublic(ctx context.Context, it *Item) bool {
	if it.State() != StateActive {
		return false
	}
	return r.Host(ctx, it.Node).IsPublic()
}
