// Package client models the browser side of the repeater protocol: an
// ordered list of items whose every mutation goes through one method, so
// ordering and add idempotence can be checked without a UI.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/esnunes/repeater/internal/repeater"
)

var (
	ErrAddInFlight = errors.New("an add is already in progress")
	ErrUnknownItem = errors.New("unknown item")
)

type Item struct {
	// Key identifies the item on the client, before and after it has an ID.
	Key     string
	ID      int64
	State   repeater.State
	Publish repeater.PublishFlag
	Sort    int
	Label   string
	// Fragment is the edit representation returned by the server.
	Fragment string
	// added marks items obtained through an add in this session.
	added bool
}

// List is the client state of one repeater field on one host.
type List struct {
	Field string

	items     []*Item
	discarded []*Item
	adding    bool
	// pendingAdds counts added items not yet saved with the host.
	pendingAdds int
}

// Loaded describes an item rendered with the host edit page.
type Loaded struct {
	ID    int64
	State repeater.State
}

func NewList(field string, loaded []Loaded) *List {
	l := &List{Field: field}
	for _, it := range loaded {
		publish := repeater.PublishOn
		if it.State == repeater.StateOff {
			publish = repeater.PublishOff
		}
		l.items = append(l.items, &Item{
			Key:     uuid.NewString(),
			ID:      it.ID,
			State:   it.State,
			Publish: publish,
		})
	}
	l.renumber()
	return l
}

// Items returns the visible items in display order.
func (l *List) Items() []*Item {
	return slices.Clone(l.items)
}

func (l *List) PendingAdds() int {
	return l.pendingAdds
}

func (l *List) Adding() bool {
	return l.adding
}

// BeginAdd starts an add round trip and returns the ids to exclude from the
// server's candidates. Only one add may be in flight.
func (l *List) BeginAdd() ([]int64, error) {
	if l.adding {
		return nil, ErrAddInFlight
	}
	l.adding = true
	exclude := make([]int64, 0, len(l.items)+len(l.discarded))
	for _, it := range l.items {
		exclude = append(exclude, it.ID)
	}
	for _, it := range l.discarded {
		exclude = append(exclude, it.ID)
	}
	return exclude, nil
}

// CompleteAdd appends the draft the server returned. A draft already shown
// is not appended twice.
func (l *List) CompleteAdd(id int64, fragment string) *Item {
	l.adding = false
	for _, it := range l.items {
		if it.ID == id {
			return it
		}
	}
	it := &Item{
		Key:      uuid.NewString(),
		ID:       id,
		State:    repeater.StateDraft,
		Publish:  repeater.PublishOn,
		Fragment: fragment,
		added:    true,
	}
	l.items = append(l.items, it)
	l.pendingAdds++
	l.renumber()
	return it
}

// FailAdd ends an add round trip that produced no item. The list is unchanged.
func (l *List) FailAdd() {
	l.adding = false
}

func (l *List) find(key string) (int, *Item, error) {
	for i, it := range l.items {
		if it.Key == key {
			return i, it, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: %s", ErrUnknownItem, key)
}

// Remove drops an item added in this session from the list, or toggles the
// delete mark of a saved item.
func (l *List) Remove(key string) error {
	i, it, err := l.find(key)
	if err != nil {
		return err
	}
	if it.added {
		l.items = slices.Delete(l.items, i, i+1)
		it.State = repeater.StateDeleted
		l.discarded = append(l.discarded, it)
		l.pendingAdds--
		l.renumber()
		return nil
	}
	if it.State == repeater.StatePendingDelete {
		it.State = stateFor(it.Publish)
	} else {
		it.State = repeater.StatePendingDelete
	}
	return nil
}

// Toggle flips the publish value of an item. Drafts keep their state until
// the host is saved.
func (l *List) Toggle(key string) error {
	_, it, err := l.find(key)
	if err != nil {
		return err
	}
	if it.State == repeater.StatePendingDelete {
		return fmt.Errorf("%w: item %d is marked for deletion", repeater.ErrInvalidTransition, it.ID)
	}
	if it.Publish == repeater.PublishOff {
		it.Publish = repeater.PublishOn
	} else {
		it.Publish = repeater.PublishOff
	}
	if it.State.Attached() {
		it.State = stateFor(it.Publish)
	}
	return nil
}

func stateFor(p repeater.PublishFlag) repeater.State {
	if p == repeater.PublishOff {
		return repeater.StateOff
	}
	return repeater.StateActive
}

// Move places the item at from at index to. Sort values and labels are
// updated before Move returns.
func (l *List) Move(from, to int) error {
	if from < 0 || from >= len(l.items) || to < 0 || to >= len(l.items) {
		return fmt.Errorf("move %d -> %d: index out of range", from, to)
	}
	it := l.items[from]
	l.items = slices.Delete(l.items, from, from+1)
	l.items = slices.Insert(l.items, to, it)
	l.renumber()
	return nil
}

func (l *List) renumber() {
	for i, it := range l.items {
		it.Sort = i
		it.Label = "#" + strconv.Itoa(i+1)
	}
}

// Values encodes the hidden per-item fields for the host save request.
// Discarded drafts are sent with a delete mark so they are not orphaned.
func (l *List) Values() url.Values {
	form := url.Values{}
	for _, it := range l.items {
		sort := it.Sort
		sub := &repeater.Submission{
			ItemID:  it.ID,
			Sort:    &sort,
			Publish: it.Publish,
			Delete:  it.State == repeater.StatePendingDelete,
		}
		sub.Encode(l.Field, form)
	}
	for _, it := range l.discarded {
		sub := &repeater.Submission{ItemID: it.ID, Delete: true}
		sub.Encode(l.Field, form)
	}
	return form
}

// Saved records a successful host save: drafts become attached, deleted
// items leave the list and the pending add counter resets.
func (l *List) Saved() {
	l.items = slices.DeleteFunc(l.items, func(it *Item) bool {
		return it.State == repeater.StatePendingDelete
	})
	for _, it := range l.items {
		it.State = stateFor(it.Publish)
		it.added = false
	}
	l.discarded = nil
	l.pendingAdds = 0
	l.renumber()
}
