package repeater

import (
	"context"

	"github.com/esnunes/repeater/internal/models"
)

// Authorizer decides whether a user may edit a host record and its fields.
type Authorizer interface {
	CanEdit(ctx context.Context, userID int64, host *models.Node) bool
}

// UserAuthorizer lets editors change any host and other known users only
// the hosts they created.
type UserAuthorizer struct {
	users map[int64]models.User
}

func NewUserAuthorizer(users []models.User) *UserAuthorizer {
	m := make(map[int64]models.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &UserAuthorizer{users: m}
}

func (a *UserAuthorizer) CanEdit(_ context.Context, userID int64, host *models.Node) bool {
	u, ok := a.users[userID]
	if !ok || host.IsNull() || host.Has(models.FlagSystem) {
		return false
	}
	return u.Editor || host.CreatedUserID == userID
}
