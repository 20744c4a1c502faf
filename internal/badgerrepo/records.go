package badgerrepo

import (
	"time"

	"github.com/chandank04/your-places-backend/places"
)

// userRecord is the stored form of a user. Unlike the API view it keeps the
// password hash and the version.
type userRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Image        string    `json:"image"`
	Places       []string  `json:"places"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newUserRecord(u *places.User) userRecord {
	return userRecord{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Image:        u.Image,
		Places:       append([]string{}, u.Places...),
		Version:      u.Version,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (r userRecord) toUser() *places.User {
	placeIDs := r.Places
	if placeIDs == nil {
		placeIDs = []string{}
	}
	return &places.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Image:        r.Image,
		Places:       placeIDs,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type placeRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Image       string    `json:"image"`
	CreatorID   string    `json:"creator_id"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newPlaceRecord(p *places.Place) placeRecord {
	return placeRecord{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Address:     p.Address,
		Lat:         p.Location.Lat,
		Lng:         p.Location.Lng,
		Image:       p.Image,
		CreatorID:   p.CreatorID,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (r placeRecord) toPlace() *places.Place {
	return &places.Place{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Address:     r.Address,
		Location:    places.Location{Lat: r.Lat, Lng: r.Lng},
		Image:       r.Image,
		CreatorID:   r.CreatorID,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
