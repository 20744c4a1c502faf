package places

import (
	"slices"
	"strings"
	"time"
)

// Location is a point given as latitude and longitude.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a point of interest owned by exactly one User.
type Place struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Location    Location  `json:"location"`
	Image       string    `json:"image"`
	CreatorID   string    `json:"creator"`
	Version     int64     `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewPlace carries the caller-supplied fields of a place to create.
// Shape validation happens before it reaches the Linker.
type NewPlace struct {
	Title       string
	Description string
	Address     string
	Location    Location
	Image       string
}

// PlaceUpdate lists the fields an owner may change. Nil fields are left as they are.
type PlaceUpdate struct {
	Title       *string
	Description *string
}

// User owns places. Places is the back-reference list: it always holds exactly
// the ids of the places whose CreatorID is this user's id.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Image        string    `json:"image"`
	Places       []string  `json:"places"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewUser carries the fields of a user to register.
type NewUser struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=72"`
	Image    string `validate:"required"`
}

// OwnsPlace reports whether id is in the back-reference list.
func (u *User) OwnsPlace(id string) bool {
	return slices.Contains(u.Places, id)
}

// linkPlace appends id to the back-reference list.
func (u *User) linkPlace(id string) {
	u.Places = append(u.Places, id)
}

// unlinkPlace removes every occurrence of id, keeping the order of the rest.
func (u *User) unlinkPlace(id string) {
	u.Places = slices.DeleteFunc(u.Places, func(p string) bool { return p == id })
}

// NormalizeEmail lower-cases and trims an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
