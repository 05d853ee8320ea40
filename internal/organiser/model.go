package organiser

import (
	"time"

	"github.com/google/uuid"
)

// Organiser is a platform operator account. Organisers run elections and
// read audit trails; they are never voters and hold no ballot credentials.
type Organiser struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}
