package repeater

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/db/dbtest"
	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
)

const (
	editorID int64 = 1
	authorID int64 = 2
	otherID  int64 = 3

	galleryID int64 = 10
	linksID   int64 = 11
)

type testEnv struct {
	ctx      context.Context
	queries  *db.Queries
	registry *fields.Registry
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	_, q := dbtest.New(t, CodecVersion)
	reg, err := fields.NewRegistry([]fields.Field{
		{ID: 1, Name: "title", Kind: fields.KindText},
		{ID: 2, Name: "caption", Kind: fields.KindText},
		{ID: 3, Name: "url", Kind: fields.KindText},
		{ID: 4, Name: "featured", Kind: fields.KindCheckbox},
		{ID: galleryID, Name: "gallery", Kind: fields.KindRepeater, Template: []string{"caption", "featured"}},
		{ID: linksID, Name: "links", Kind: fields.KindRepeater, Template: []string{"url"}},
	}, map[string][]string{
		"basic":   {"title", "gallery", "links"},
		"minimal": {"title"},
	})
	require.NoError(t, err)

	auth := NewUserAuthorizer([]models.User{
		{ID: editorID, Name: "editor", Editor: true},
		{ID: authorID, Name: "author"},
		{ID: otherID, Name: "other"},
	})
	return &testEnv{
		ctx:      context.Background(),
		queries:  q,
		registry: reg,
		service:  NewService(q, reg, auth, nil),
	}
}

func (e *testEnv) host(t *testing.T, template string) *models.Node {
	t.Helper()
	h, err := e.service.CreateHost(e.ctx, editorID, template, "page")
	require.NoError(t, err)
	return h
}

func (e *testEnv) field(t *testing.T, id int64) *fields.Field {
	t.Helper()
	f, ok := e.registry.Repeater(id)
	require.True(t, ok)
	return f
}

func ids(items []*Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID())
	}
	return out
}

// countingStore counts node lookups made through it.
type countingStore struct {
	Store
	gets atomic.Int64
}

func (s *countingStore) GetNode(ctx context.Context, id int64) (*models.Node, error) {
	s.gets.Add(1)
	return s.Store.GetNode(ctx, id)
}

// failingStore fails the nth DeleteNode call.
type failingStore struct {
	Store
	failAt  int
	deletes int
}

var errInjected = errors.New("injected storage failure")

func (s *failingStore) DeleteNode(ctx context.Context, id int64) error {
	s.deletes++
	if s.deletes == s.failAt {
		return errInjected
	}
	return s.Store.DeleteNode(ctx, id)
}
