package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/gotta-go/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already in use")
)

type UserRepository interface {
	Create(ctx context.Context, p model.Profile) error
	FindByEmail(ctx context.Context, email string) (model.Profile, error)
	FindByID(ctx context.Context, uid string) (model.Profile, error)
	UpdateEmail(ctx context.Context, uid, email string) error
	UpdatePassword(ctx context.Context, uid, hash string) error
	Delete(ctx context.Context, uid string) error
	List(ctx context.Context) ([]model.Member, error)
	Count(ctx context.Context) (int, error)
}

type SettingsRepository interface {
	GetMaintenance(ctx context.Context) (model.Maintenance, error)
	SaveMaintenance(ctx context.Context, m model.Maintenance) error
}
