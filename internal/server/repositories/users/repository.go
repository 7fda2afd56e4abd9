package users

import (
	"context"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// FindByRef resolves a user by id, username or email.
	FindByRef(ctx context.Context, ref string) (*models.User, error)
}
