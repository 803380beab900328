package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ContactMessage is a message submitted through the contact form.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// SaveContactMessage stores one contact form submission.
func (s *Store) SaveContactMessage(ctx context.Context, msg ContactMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO contact_messages (id, name, email, message, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.NewString(), msg.Name, msg.Email, msg.Message)
	if err != nil {
		return fmt.Errorf("insert contact message: %w", err)
	}
	return nil
}
