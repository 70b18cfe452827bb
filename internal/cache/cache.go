package cache

import (
	"context"

	"github.com/Davemuriu/tac-shop/internal/domain"
)

// SessionStore keeps till session snapshots so a restart does not lose an
// open cart or its held carts.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.SessionSnapshot, bool, error)
	Save(ctx context.Context, snapshot domain.SessionSnapshot) error
	Delete(ctx context.Context, id string) error
}

type NoopSessionStore struct{}

func (NoopSessionStore) Load(_ context.Context, _ string) (*domain.SessionSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopSessionStore) Save(_ context.Context, _ domain.SessionSnapshot) error {
	return nil
}

func (NoopSessionStore) Delete(_ context.Context, _ string) error {
	return nil
}
