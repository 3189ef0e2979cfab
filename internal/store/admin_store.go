package store

import "context"

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

func (s *AdminStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var isAdmin bool
	err := s.db.GetContext(ctx, &isAdmin, `
		SELECT EXISTS(SELECT 1 FROM admins WHERE user_id = $1)
	`, userID)
	return isAdmin, err
}

func (s *AdminStore) HasAnyAdmin(ctx context.Context) (bool, error) {
	var hasAdmin bool
	err := s.db.GetContext(ctx, &hasAdmin, `
		SELECT EXISTS(SELECT 1 FROM admins)
	`)
	return hasAdmin, err
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}
