package models

import "time"

// UserRole — роли портала, приходят в JWT клеймах.
type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RolePlayer    UserRole = "player"
)

// User — учётка портала. Таблицей владеет сервис идентификации, здесь
// читаем только то, что нужно регистрации и посеву (email, rating).
type User struct {
	ID        int       `json:"id" db:"id"`
	Nickname  string    `json:"nickname" db:"nickname"`
	Email     string    `json:"email" db:"email"`
	Rating    int       `json:"rating" db:"rating"`
	Role      UserRole  `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
