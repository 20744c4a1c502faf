package dynamorepo

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/chandank04/your-places-backend/places"
	"github.com/chandank04/your-places-backend/store"
)

const (
	userEntityType  = "user"
	placeEntityType = "place"
)

// userRecord is a user item in the users table. It implements store.Entity
// and store.UniqueFielder so the email is reserved in the unique table.
type userRecord struct {
	table string

	ID           string   `dynamodbav:"id"`
	Name         string   `dynamodbav:"name"`
	Email        string   `dynamodbav:"email"`
	PasswordHash string   `dynamodbav:"password_hash"`
	Image        string   `dynamodbav:"image"`
	Places       []string `dynamodbav:"places"`
	CreatedAt    string   `dynamodbav:"created_at,omitempty"`
	UpdatedAt    string   `dynamodbav:"updated_at,omitempty"`
}

func (r userRecord) TableName() string  { return r.table }
func (r userRecord) EntityRef() string  { return userEntityType + "#" + r.ID }
func (r userRecord) EntityType() string { return userEntityType }
func (r userRecord) GetKey() store.PK {
	return store.PK{"id": &types.AttributeValueMemberS{Value: r.ID}}
}

func (r userRecord) UniqueScope() string { return store.GlobalScope }
func (r userRecord) UniqueFields() map[string]string {
	return map[string]string{"email": places.NormalizeEmail(r.Email)}
}

func newUserRecord(table string, u *places.User) userRecord {
	return userRecord{
		table:        table,
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Image:        u.Image,
		Places:       append([]string{}, u.Places...),
		CreatedAt:    formatTime(u.CreatedAt),
		UpdatedAt:    formatTime(u.UpdatedAt),
	}
}

func (r userRecord) toUser(version int64) *places.User {
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
		Version:      version,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

// placeRecord is a place item in the places table.
type placeRecord struct {
	table string

	ID          string   `dynamodbav:"id"`
	Title       string   `dynamodbav:"title"`
	Description string   `dynamodbav:"description"`
	Address     string   `dynamodbav:"address"`
	Location    location `dynamodbav:"location"`
	Image       string   `dynamodbav:"image"`
	CreatorID   string   `dynamodbav:"creator_id"`
	CreatedAt   string   `dynamodbav:"created_at,omitempty"`
	UpdatedAt   string   `dynamodbav:"updated_at,omitempty"`
}

type location struct {
	Lat float64 `dynamodbav:"lat"`
	Lng float64 `dynamodbav:"lng"`
}

func (r placeRecord) TableName() string  { return r.table }
func (r placeRecord) EntityRef() string  { return placeEntityType + "#" + r.ID }
func (r placeRecord) EntityType() string { return placeEntityType }
func (r placeRecord) GetKey() store.PK {
	return store.PK{"id": &types.AttributeValueMemberS{Value: r.ID}}
}

func newPlaceRecord(table string, p *places.Place) placeRecord {
	return placeRecord{
		table:       table,
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Address:     p.Address,
		Location:    location{Lat: p.Location.Lat, Lng: p.Location.Lng},
		Image:       p.Image,
		CreatorID:   p.CreatorID,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

func (r placeRecord) toPlace(version int64) *places.Place {
	return &places.Place{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Address:     r.Address,
		Location:    places.Location{Lat: r.Location.Lat, Lng: r.Location.Lng},
		Image:       r.Image,
		CreatorID:   r.CreatorID,
		Version:     version,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts the RFC 3339 timestamps the store writes. Bad values read as zero.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
