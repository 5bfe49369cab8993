package models

import "time"

// Flag is a bitmask of node states.
type Flag int

const (
	FlagUnpublished Flag = 1 << iota
	FlagHidden
	FlagTrashed
	FlagSystem
	FlagPendingDelete
)

const (
	HomeID      int64 = 1
	SystemID    int64 = 2
	RepeatersID int64 = 3
)

type Node struct {
	ID            int64
	ParentID      int64
	Name          string
	Template      string
	Flags         Flag
	Sort          int
	CreatedUserID int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NullNode stands in for a record that could not be found or resolved.
// It is never public and never persisted.
var NullNode = &Node{}

func (n *Node) IsNull() bool {
	return n == nil || n.ID == 0
}

func (n *Node) Has(f Flag) bool {
	return n.Flags&f != 0
}

func (n *Node) Set(f Flag) {
	n.Flags |= f
}

func (n *Node) Clear(f Flag) {
	n.Flags &^= f
}

// IsPublic reports whether a host record is visible: not null, not unpublished, not trashed.
func (n *Node) IsPublic() bool {
	if n.IsNull() {
		return false
	}
	return !n.Has(FlagUnpublished) && !n.Has(FlagTrashed)
}

func (n *Node) Status() string {
	switch {
	case n.IsNull():
		return "missing"
	case n.Has(FlagTrashed):
		return "trashed"
	case n.Has(FlagUnpublished):
		return "unpublished"
	default:
		return "published"
	}
}

type User struct {
	ID     int64
	Name   string
	Editor bool
}
