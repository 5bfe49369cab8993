package repeater

import (
	"errors"
	"fmt"

	"github.com/esnunes/repeater/internal/models"
)

// State is the lifecycle position of a repeater item.
type State int

const (
	// StateNew exists only on the client, before the server backs it with a node.
	StateNew State = iota
	// StateDraft has a node but is not part of the saved field value.
	StateDraft
	StateActive
	StateOff
	StatePendingDelete
	StateDeleted
)

var stateNames = [...]string{"new", "draft", "active", "off", "pending-delete", "deleted"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Attached reports whether the state is part of a saved field value.
func (s State) Attached() bool {
	return s == StateActive || s == StateOff
}

var ErrInvalidTransition = errors.New("invalid item state transition")

// draftFlags mark a freshly created, not yet attached item.
const draftFlags = models.FlagHidden | models.FlagUnpublished

// Item is one repeater entry backed by a tree node.
type Item struct {
	Node   *models.Node
	Values map[string]string

	deleted bool
}

func NewItem(n *models.Node, values map[string]string) *Item {
	if values == nil {
		values = make(map[string]string)
	}
	return &Item{Node: n, Values: values}
}

func (it *Item) ID() int64 {
	if it.Node == nil {
		return 0
	}
	return it.Node.ID
}

// State derives the lifecycle state from the node flags.
func (it *Item) State() State {
	switch {
	case it.deleted:
		return StateDeleted
	case it.Node == nil || it.Node.ID == 0:
		return StateNew
	case it.Node.Has(models.FlagPendingDelete):
		return StatePendingDelete
	case it.Node.Has(models.FlagHidden):
		return StateDraft
	case it.Node.Has(models.FlagUnpublished):
		return StateOff
	default:
		return StateActive
	}
}

func (it *Item) transition(to State) error {
	return fmt.Errorf("%w: item %d %s -> %s", ErrInvalidTransition, it.ID(), it.State(), to)
}

// Publish moves a draft or off item to active.
func (it *Item) Publish() error {
	switch it.State() {
	case StateDraft, StateOff, StateActive:
		it.Node.Clear(models.FlagHidden | models.FlagUnpublished)
		return nil
	}
	return it.transition(StateActive)
}

// Unpublish moves a draft or active item to off.
func (it *Item) Unpublish() error {
	switch it.State() {
	case StateDraft, StateActive, StateOff:
		it.Node.Clear(models.FlagHidden)
		it.Node.Set(models.FlagUnpublished)
		return nil
	}
	return it.transition(StateOff)
}

// Toggle flips an attached item between active and off.
func (it *Item) Toggle() error {
	switch it.State() {
	case StateActive:
		return it.Unpublish()
	case StateOff:
		return it.Publish()
	}
	return it.transition(StateOff)
}

// MarkDelete flags the item for removal at the next save. The previous
// state is kept in the remaining flags, so Restore can undo it.
func (it *Item) MarkDelete() error {
	switch it.State() {
	case StateDraft, StateActive, StateOff:
		it.Node.Set(models.FlagPendingDelete)
		return nil
	case StatePendingDelete:
		return nil
	}
	return it.transition(StatePendingDelete)
}

func (it *Item) Restore() error {
	switch it.State() {
	case StatePendingDelete:
		it.Node.Clear(models.FlagPendingDelete)
		return nil
	case StateDraft, StateActive, StateOff:
		return nil
	}
	return it.transition(StateActive)
}

// attach turns a draft into part of the field value; the unpublished flag
// decides between active and off.
func (it *Item) attach() {
	if it.State() == StateDraft {
		it.Node.Clear(models.FlagHidden)
	}
}

func (it *Item) markDeleted() {
	it.deleted = true
}
