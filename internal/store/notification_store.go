package store

import "context"

type NotificationStore struct {
	db DB
}

func NewNotificationStore(db DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// InsertForClient fans a notification out to the user owning the client
// profile, matching the original notification feed shape.
func (s *NotificationStore) InsertForClient(ctx context.Context, tx Execer, clientID, notifType, title, message string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message)
		SELECT gen_random_uuid()::text, c.user_id, $2, $3, $4
		FROM clients c
		WHERE c.id = $1
	`, clientID, notifType, title, message)
	return err
}
