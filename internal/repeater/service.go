package repeater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotRepeater      = errors.New("not a repeater field of this host")
	ErrInvalid          = errors.New("invalid input")
)

// Service ties the adapter to the record store's transactions and
// implements the add and save sides of the client protocol.
type Service struct {
	queries  *db.Queries
	registry *fields.Registry
	auth     Authorizer
	logger   *slog.Logger
}

func NewService(queries *db.Queries, registry *fields.Registry, auth Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{queries: queries, registry: registry, auth: auth, logger: logger}
}

func (s *Service) Registry() *fields.Registry {
	return s.registry
}

// hostField returns the repeater field fieldID if host's template uses it.
func (s *Service) hostField(host *models.Node, fieldID int64) (*fields.Field, error) {
	field, ok := s.registry.Repeater(fieldID)
	if !ok {
		return nil, fmt.Errorf("field %d: %w", fieldID, ErrNotRepeater)
	}
	tpl, _ := s.registry.Template(host.Template)
	if !slices.Contains(tpl, field) {
		return nil, fmt.Errorf("field %s on host %d: %w", field.Name, host.ID, ErrNotRepeater)
	}
	return field, nil
}

func (s *Service) editableHost(ctx context.Context, q *db.Queries, userID, hostID int64) (*models.Node, error) {
	host, err := q.GetNode(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if host.Has(models.FlagSystem) {
		return nil, fmt.Errorf("host %d: %w", hostID, db.ErrNotFound)
	}
	if !s.auth.CanEdit(ctx, userID, host) {
		return nil, fmt.Errorf("user %d editing host %d: %w", userID, hostID, ErrPermissionDenied)
	}
	return host, nil
}

type AddRequest struct {
	UserID  int64
	HostID  int64
	FieldID int64
	// Exclude lists item ids the client already shows.
	Exclude []int64
}

type AddResult struct {
	Host   *models.Node
	Field  *fields.Field
	Item   *Item
	Reused bool
}

// Add returns one draft item for the client to display. The oldest draft
// created by the same user and not excluded is reused; otherwise a new one
// is created. Repeated adds therefore never pile up drafts for one user.
func (s *Service) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	var res *AddResult
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		host, err := s.editableHost(ctx, q, req.UserID, req.HostID)
		if err != nil {
			return err
		}
		field, err := s.hostField(host, req.FieldID)
		if err != nil {
			return err
		}

		adapter := NewAdapter(q, s.registry, s.logger)
		drafts, err := adapter.Drafts(ctx, host, field)
		if err != nil {
			return err
		}
		for _, d := range drafts {
			if d.Node.CreatedUserID == req.UserID && !slices.Contains(req.Exclude, d.ID()) {
				res = &AddResult{Host: host, Field: field, Item: d, Reused: true}
				return nil
			}
		}

		item, err := adapter.NewDraft(ctx, host, field, req.UserID)
		if err != nil {
			return err
		}
		res = &AddResult{Host: host, Field: field, Item: item}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "repeater item added",
		"host", req.HostID, "field", res.Field.Name, "item", res.Item.ID(), "reused", res.Reused)
	return res, nil
}

// HostView is a host record with its field values and repeater items.
type HostView struct {
	Host      *models.Node
	Fields    []*fields.Field
	Values    map[string]string
	Repeaters map[string][]*Item
	// Public holds the ids of items visible to the public.
	Public map[int64]bool
}

func (s *Service) Host(ctx context.Context, hostID int64) (*HostView, error) {
	var view *HostView
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		host, err := q.GetNode(ctx, hostID)
		if err != nil {
			return err
		}
		if host.Has(models.FlagSystem) {
			return fmt.Errorf("host %d: %w", hostID, db.ErrNotFound)
		}
		values, err := q.Values(ctx, host.ID)
		if err != nil {
			return err
		}
		tpl, _ := s.registry.Template(host.Template)
		view = &HostView{
			Host:      host,
			Fields:    tpl,
			Values:    values,
			Repeaters: make(map[string][]*Item),
			Public:    make(map[int64]bool),
		}

		adapter := NewAdapter(q, s.registry, s.logger)
		for _, f := range tpl {
			if !f.IsRepeater() {
				continue
			}
			items, err := adapter.Load(ctx, host, f)
			if err != nil {
				return fmt.Errorf("loading %s: %w", f.Name, err)
			}
			view.Repeaters[f.Name] = items
			for _, it := range items {
				view.Public[it.ID()] = adapter.Resolver().IsPublic(ctx, it)
			}
		}
		return nil
	})
	return view, err
}

func (s *Service) ListHosts(ctx context.Context) ([]*models.Node, error) {
	return s.queries.ListHosts(ctx)
}

// CreateHost adds an unpublished host record under home.
func (s *Service) CreateHost(ctx context.Context, userID int64, template, title string) (*models.Node, error) {
	if _, ok := s.registry.Template(template); !ok {
		return nil, fmt.Errorf("template %q: %w", template, ErrInvalid)
	}
	host := &models.Node{
		ParentID:      models.HomeID,
		Name:          strings.ToLower(ulid.Make().String()),
		Template:      template,
		Flags:         models.FlagUnpublished,
		CreatedUserID: userID,
	}
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		if err := q.CreateNode(ctx, host); err != nil {
			return err
		}
		return q.SetValues(ctx, host.ID, map[string]string{"title": title})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "host created", "host", host.ID, "template", template)
	return host, nil
}

type SaveResult struct {
	Host *models.Node
	// Items holds the saved value of each repeater field.
	Items map[string][]*Item
	// Ignored lists submitted item ids that were not accepted.
	Ignored []int64
}

// SaveHost applies a submitted edit form to a host record and all its
// repeater fields in one transaction. Either everything commits or nothing
// does. Concurrent saves of the same host are last-write-wins.
func (s *Service) SaveHost(ctx context.Context, userID, hostID int64, form url.Values) (*SaveResult, error) {
	var res *SaveResult
	err := s.queries.InTx(ctx, func(q *db.Queries) error {
		host, err := s.editableHost(ctx, q, userID, hostID)
		if err != nil {
			return err
		}
		res = &SaveResult{Host: host, Items: make(map[string][]*Item)}

		if err := s.applyHostFields(ctx, q, host, form); err != nil {
			return err
		}

		adapter := NewAdapter(q, s.registry, s.logger)
		tpl, _ := s.registry.Template(host.Template)
		for _, f := range tpl {
			if !f.IsRepeater() {
				continue
			}
			subs, err := ParseSubmission(f, form)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			items, ignored, err := s.merge(ctx, q, adapter, userID, host, f, subs)
			if err != nil {
				return err
			}
			res.Ignored = append(res.Ignored, ignored...)
			if err := adapter.Save(ctx, host, f, items); err != nil {
				return err
			}
			res.Items[f.Name] = slices.DeleteFunc(items, func(it *Item) bool {
				return it.State() == StateDeleted
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "host saved", "host", hostID, "user", userID, "ignored", len(res.Ignored))
	return res, nil
}

func (s *Service) applyHostFields(ctx context.Context, q *db.Queries, host *models.Node, form url.Values) error {
	values := make(map[string]string)
	if vals, ok := form["title"]; ok {
		values["title"] = vals[len(vals)-1]
	}
	tpl, _ := s.registry.Template(host.Template)
	for _, f := range tpl {
		vals, ok := form[f.Name]
		if f.IsRepeater() || !ok || len(vals) == 0 {
			continue
		}
		v := vals[len(vals)-1]
		switch f.Kind {
		case fields.KindInteger:
			if v != "" {
				if _, err := strconv.Atoi(v); err != nil {
					return fmt.Errorf("%w: %s must be a number", ErrInvalid, f.Label)
				}
			}
		case fields.KindCheckbox:
			if v == "1" || v == "on" || v == "true" {
				v = "1"
			} else {
				v = "0"
			}
		}
		values[f.Name] = v
	}

	switch form.Get("status") {
	case "published":
		host.Clear(models.FlagUnpublished)
	case "unpublished":
		host.Set(models.FlagUnpublished)
	case "":
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, form.Get("status"))
	}
	if err := q.UpdateNode(ctx, host); err != nil {
		return err
	}
	return q.SetValues(ctx, host.ID, values)
}

// merge builds the ordered list to save for field: the loaded value plus
// drafts the submission attaches, with submitted states applied. Drafts
// left without a publish or delete decision stay drafts and are omitted.
func (s *Service) merge(ctx context.Context, q *db.Queries, adapter *Adapter, userID int64,
	host *models.Node, field *fields.Field, subs map[int64]*Submission) ([]*Item, []int64, error) {
	items, err := adapter.Load(ctx, host, field)
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", field.Name, err)
	}
	loaded := make(map[int64]bool, len(items))
	for _, it := range items {
		loaded[it.ID()] = true
	}

	var ignored []int64
	extra := make([]int64, 0, len(subs))
	for id := range subs {
		if !loaded[id] {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	for _, id := range extra {
		it, err := s.claim(ctx, q, adapter, userID, host, field, id)
		if err != nil {
			return nil, nil, err
		}
		if it == nil {
			ignored = append(ignored, id)
			continue
		}
		items = append(items, it)
	}

	for _, it := range items {
		sub, ok := subs[it.ID()]
		if !ok {
			continue
		}
		if err := applySubmission(it, sub); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	items = slices.DeleteFunc(items, func(it *Item) bool {
		return it.State() == StateDraft
	})
	position := func(it *Item) int {
		if sub, ok := subs[it.ID()]; ok && sub.Sort != nil {
			return *sub.Sort
		}
		return math.MaxInt
	}
	slices.SortStableFunc(items, func(x, y *Item) int {
		px, py := position(x), position(y)
		switch {
		case px < py:
			return -1
		case px > py:
			return 1
		}
		return 0
	})
	return items, ignored, nil
}

// claim returns the draft id if it belongs to host and field and was
// created by userID. Anything else is refused with a nil item.
func (s *Service) claim(ctx context.Context, q *db.Queries, adapter *Adapter, userID int64,
	host *models.Node, field *fields.Field, id int64) (*Item, error) {
	n, err := q.GetNode(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.InfoContext(ctx, "ignoring unknown repeater item", "host", host.ID, "item", id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	own := adapter.Resolver().Ownership(ctx, n)
	if own.HostID != host.ID || own.FieldID != field.ID {
		s.logger.InfoContext(ctx, "ignoring repeater item owned elsewhere",
			"host", host.ID, "field", field.Name, "item", id, "owner_host", own.HostID, "owner_field", own.FieldID)
		return nil, nil
	}
	if n.Has(models.FlagPendingDelete) {
		return nil, nil
	}
	if n.Has(models.FlagHidden) && n.CreatedUserID != userID {
		s.logger.InfoContext(ctx, "refusing to attach another user's draft",
			"host", host.ID, "item", id, "user", userID, "creator", n.CreatedUserID)
		return nil, nil
	}
	values, err := q.Values(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return NewItem(n, values), nil
}

func applySubmission(it *Item, sub *Submission) error {
	for k, v := range sub.Values {
		it.Values[k] = v
	}
	switch sub.Publish {
	case PublishOn:
		if err := it.Publish(); err != nil {
			return err
		}
	case PublishOff:
		if err := it.Unpublish(); err != nil {
			return err
		}
	}
	if sub.Delete {
		return it.MarkDelete()
	}
	return it.Restore()
}
