package repeater

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/models"
)

// seedItems saves n active items on the gallery field of host and returns
// them in saved order.
func seedItems(t *testing.T, env *testEnv, host *models.Node, n int) []*Item {
	t.Helper()
	field := env.field(t, galleryID)
	adapter := NewAdapter(env.queries, env.registry, nil)
	var items []*Item
	for i := range n {
		it, err := adapter.NewDraft(env.ctx, host, field, editorID)
		require.NoError(t, err)
		require.NoError(t, it.Publish())
		it.Values["caption"] = string(rune('a' + i))
		items = append(items, it)
	}
	require.NoError(t, adapter.Save(env.ctx, host, field, items))
	return items
}

func TestLoadCreatesContainers(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)

	items, err := NewAdapter(env.queries, env.registry, nil).Load(env.ctx, host, field)
	require.NoError(t, err)
	assert.Empty(t, items)

	fieldNode, err := env.queries.GetChild(env.ctx, models.RepeatersID, "for-field-10")
	require.NoError(t, err)
	hostNode, err := env.queries.GetChild(env.ctx, fieldNode.ID, OwnerName(host.ID))
	require.NoError(t, err)
	assert.True(t, hostNode.Has(models.FlagSystem))
}

func TestLoadOrderAndFilter(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 3)

	adapter := NewAdapter(env.queries, env.registry, nil)
	_, err := adapter.NewDraft(env.ctx, host, field, editorID)
	require.NoError(t, err)

	// a pending-delete marker left behind by an interrupted session
	items[1].Node.Set(models.FlagPendingDelete)
	require.NoError(t, env.queries.UpdateNode(env.ctx, items[1].Node))

	loaded, err := adapter.Load(env.ctx, host, field)
	require.NoError(t, err)
	assert.Equal(t, []int64{items[0].ID(), items[2].ID()}, ids(loaded))
	assert.Equal(t, "a", loaded[0].Values["caption"])
}

func TestLoadTiesBreakByCreation(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	items := seedItems(t, env, host, 3)
	for _, it := range items {
		it.Node.Sort = 0
		require.NoError(t, env.queries.UpdateNode(env.ctx, it.Node))
	}

	loaded, err := NewAdapter(env.queries, env.registry, nil).Load(env.ctx, host, env.field(t, galleryID))
	require.NoError(t, err)
	assert.Equal(t, ids(items), ids(loaded))
}

func TestSaveLoadIdempotent(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 3)
	require.NoError(t, items[1].Toggle())
	require.NoError(t, NewAdapter(env.queries, env.registry, nil).Save(env.ctx, host, field, items))

	snapshot := func() []models.Node {
		loaded, err := NewAdapter(env.queries, env.registry, nil).Load(env.ctx, host, field)
		require.NoError(t, err)
		out := make([]models.Node, 0, len(loaded))
		for _, it := range loaded {
			n := *it.Node
			n.UpdatedAt = n.CreatedAt
			out = append(out, n)
		}
		return out
	}
	before := snapshot()

	adapter := NewAdapter(env.queries, env.registry, nil)
	loaded, err := adapter.Load(env.ctx, host, field)
	require.NoError(t, err)
	require.NoError(t, adapter.Save(env.ctx, host, field, loaded))

	assert.Equal(t, before, snapshot())
}

func TestSaveReorderPermutation(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 5)

	perm := []int{3, 0, 4, 2, 1}
	reordered := make([]*Item, len(perm))
	for i, p := range perm {
		reordered[i] = items[p]
	}
	require.NoError(t, NewAdapter(env.queries, env.registry, nil).Save(env.ctx, host, field, reordered))

	loaded, err := NewAdapter(env.queries, env.registry, nil).Load(env.ctx, host, field)
	require.NoError(t, err)
	assert.Equal(t, ids(reordered), ids(loaded))
	for i, it := range loaded {
		assert.Equal(t, i, it.Node.Sort)
	}
}

func TestSaveDeletesPendingAndRenumbers(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 3)

	require.NoError(t, items[0].MarkDelete())
	adapter := NewAdapter(env.queries, env.registry, nil)
	require.NoError(t, adapter.Save(env.ctx, host, field, items))
	assert.Equal(t, StateDeleted, items[0].State())

	_, err := env.queries.GetNode(env.ctx, items[0].ID())
	assert.ErrorIs(t, err, db.ErrNotFound)

	loaded, err := adapter.Load(env.ctx, host, field)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 0, loaded[0].Node.Sort)
	assert.Equal(t, 1, loaded[1].Node.Sort)
}

func TestSaveRejectsForeignItems(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	other := env.host(t, "basic")
	foreign := seedItems(t, env, other, 1)

	err := NewAdapter(env.queries, env.registry, nil).Save(env.ctx, host, env.field(t, galleryID), foreign)
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestSaveIsAtomicInTransaction(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 4)

	for _, it := range items[:3] {
		require.NoError(t, it.MarkDelete())
	}
	err := env.queries.InTx(env.ctx, func(tx *db.Queries) error {
		store := &failingStore{Store: tx, failAt: 2}
		return NewAdapter(store, env.registry, nil).Save(env.ctx, host, field, items)
	})
	require.ErrorIs(t, err, errInjected)

	loaded, err := NewAdapter(env.queries, env.registry, nil).Load(env.ctx, host, field)
	require.NoError(t, err)
	assert.Len(t, loaded, 4, "the first delete was rolled back with the rest")
}

func TestSaveDropsUnknownValues(t *testing.T) {
	env := newTestEnv(t)
	host := env.host(t, "basic")
	field := env.field(t, galleryID)
	items := seedItems(t, env, host, 1)

	items[0].Values["url"] = "not a gallery sub-field"
	require.NoError(t, NewAdapter(env.queries, env.registry, nil).Save(env.ctx, host, field, items))

	values, err := env.queries.Values(env.ctx, items[0].ID())
	require.NoError(t, err)
	assert.NotContains(t, values, "url")
	assert.Equal(t, "a", values["caption"])
}
