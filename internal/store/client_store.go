package store

import (
	"context"
	"database/sql"
	"errors"

	"billing/internal/models"
)

var ErrClientNotFound = errors.New("client not found")

type ClientStore struct {
	db DB
}

func NewClientStore(db DB) *ClientStore {
	return &ClientStore{db: db}
}

func (s *ClientStore) Create(ctx context.Context, tx Execer, id, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO clients (id, user_id)
		VALUES ($1, $2)
	`, id, userID)
	return err
}

func (s *ClientStore) GetByUserID(ctx context.Context, userID string) (models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, `
		SELECT id, user_id, company_name, inn, address, created_at
		FROM clients
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Client{}, ErrClientNotFound
	}
	if err != nil {
		return models.Client{}, err
	}
	return client, nil
}

func (s *ClientStore) GetByID(ctx context.Context, clientID string) (models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, `
		SELECT id, user_id, company_name, inn, address, created_at
		FROM clients
		WHERE id = $1
	`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Client{}, ErrClientNotFound
	}
	if err != nil {
		return models.Client{}, err
	}
	return client, nil
}
