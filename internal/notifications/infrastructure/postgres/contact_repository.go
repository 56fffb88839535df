package postgres

import (
	"context"
	"database/sql"
	"errors"

	"coldchain-cloud/internal/notifications/notify"
)

// ContactRepository resolves notification recipients from storage. Contacts
// carry a priority tier; escalation steps address a tier, not individuals.
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository constructs a repository.
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Resolve returns the contacts at one priority tier. Priority 0 means the
// default tier. An empty tier returns no contacts and no error; the caller
// decides whether that is a delivery failure.
func (r *ContactRepository) Resolve(ctx context.Context, priority int) ([]notify.Contact, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("contact repo: nil db")
	}
	if priority < 0 {
		return nil, errors.New("contact repo: invalid priority")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
FROM notification_contacts
WHERE priority = $1
ORDER BY name ASC`, priority)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.Contact
	for rows.Next() {
		var contact notify.Contact
		if err := rows.Scan(&contact.ID, &contact.Name, &contact.Email, &contact.Phone); err != nil {
			return nil, err
		}
		result = append(result, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
