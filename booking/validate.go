package booking

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxUserNameLength  = 100
	MaxPromoCodeLength = 50
)

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email has the local@domain.tld shape.
func ValidEmail(email string) bool {
	return emailShape.MatchString(email)
}

// ValidID reports whether id is a syntactically valid identifier.
func ValidID(id string) bool {
	_, ok := CanonicalID(id)
	return ok
}

// CanonicalID returns id in lowercase hyphenated form.
func CanonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// NewID returns a fresh identifier for experiences, slots and bookings.
func NewID() string {
	return uuid.NewString()
}

// CreateRequest is the input to Engine.CreateBooking.
type CreateRequest struct {
	ExperienceID string
	SlotID       string
	UserName     string
	UserEmail    string
	PromoCode    string // optional
}

// normalize trims and validates the request. It never touches the store.
func (r CreateRequest) normalize() (CreateRequest, error) {
	out := CreateRequest{
		ExperienceID: strings.TrimSpace(r.ExperienceID),
		SlotID:       strings.TrimSpace(r.SlotID),
		UserName:     strings.TrimSpace(r.UserName),
		UserEmail:    NormalizeEmail(r.UserEmail),
		PromoCode:    NormalizeCode(r.PromoCode),
	}

	switch {
	case out.ExperienceID == "":
		return out, &ValidationError{Field: "experienceId", Reason: "is required"}
	case out.SlotID == "":
		return out, &ValidationError{Field: "slotId", Reason: "is required"}
	case r.UserEmail == "":
		return out, &ValidationError{Field: "userEmail", Reason: "is required"}
	}
	var ok bool
	if out.ExperienceID, ok = CanonicalID(out.ExperienceID); !ok {
		return r, &ValidationError{Field: "experienceId", Reason: "is not a valid id"}
	}
	if out.SlotID, ok = CanonicalID(out.SlotID); !ok {
		return r, &ValidationError{Field: "slotId", Reason: "is not a valid id"}
	}
	if out.UserName == "" {
		return out, &ValidationError{Field: "userName", Reason: "cannot be empty"}
	}
	if len([]rune(out.UserName)) > MaxUserNameLength {
		return out, &ValidationError{Field: "userName", Reason: "cannot exceed 100 characters"}
	}
	if !ValidEmail(out.UserEmail) {
		return out, &ValidationError{Field: "userEmail", Reason: "must be a valid email address"}
	}
	return out, nil
}
