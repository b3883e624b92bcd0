package student

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Record is a student as held in local storage.
type Record struct {
	ID                 string `json:"id"`
	Name               string `json:"name" validate:"notblank"`
	RegistrationNumber string `json:"registrationNumber" validate:"notblank"`
	Course             string `json:"course" validate:"notblank"`
	Email              string `json:"email,omitempty" validate:"omitempty,email"`
	Phone              string `json:"phone,omitempty"`
	PhotoURL           string `json:"photoUrl,omitempty"`
	Address            string `json:"address,omitempty"`
	DateOfBirth        int64  `json:"dateOfBirth,omitempty"`
	Gender             string `json:"gender,omitempty"`
	EmergencyContact   string `json:"emergencyContact,omitempty"`
	Notes              string `json:"notes,omitempty"`
	RemoteID           string `json:"remoteId,omitempty"`
	IsSynced           bool   `json:"isSynced"`
	CreatedAt          int64  `json:"createdAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

// SyncStats summarises how much of local storage matches the backend of record.
type SyncStats struct {
	Total      int `json:"total"`
	Synced     int `json:"synced"`
	Percentage int `json:"percentage"`
}

// NewSyncStats derives the percentage. An empty store counts as fully synced.
func NewSyncStats(total, synced int) SyncStats {
	pct := 100
	if total > 0 {
		pct = synced * 100 / total
	}
	return SyncStats{Total: total, Synced: synced, Percentage: pct}
}

// NowMillis is the timestamp unit used for createdAt/updatedAt.
func NowMillis() int64 { return time.Now().UnixMilli() }

// EnsureIdentity assigns an id and creation timestamps when they are missing.
func (r *Record) EnsureIdentity(now int64) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	if r.UpdatedAt == 0 {
		r.UpdatedAt = now
	}
}

// Touch marks a user edit: newer timestamp, not yet pushed.
func (r *Record) Touch(now int64) {
	if now <= r.UpdatedAt {
		now = r.UpdatedAt + 1
	}
	r.UpdatedAt = now
	r.IsSynced = false
}

// SameContent reports whether two records carry the same user-editable fields.
func SameContent(a, b Record) bool {
	return a.Name == b.Name &&
		a.RegistrationNumber == b.RegistrationNumber &&
		a.Course == b.Course &&
		a.Email == b.Email &&
		a.Phone == b.Phone &&
		a.PhotoURL == b.PhotoURL &&
		a.Address == b.Address &&
		a.DateOfBirth == b.DateOfBirth &&
		a.Gender == b.Gender &&
		a.EmergencyContact == b.EmergencyContact &&
		a.Notes == b.Notes
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate checks required fields and the email format.
func Validate(r Record) error {
	return validate.Struct(r)
}
