package restapi

import "smis/internal/student"

// APIStudent is a student as served by the REST backend. ID is the backend's id,
// which the device stores as remoteId.
type APIStudent struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	RegNumber        string `json:"regNumber"`
	Course           string `json:"course"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	PhotoURL         string `json:"photoUrl,omitempty"`
	Address          string `json:"address,omitempty"`
	DateOfBirth      int64  `json:"dateOfBirth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
	IsSynced         bool   `json:"isSynced"`
}

// ToRecord converts to a local record. Backend copies are synced by definition and
// the backend id doubles as the local id for records first seen remotely.
func (a APIStudent) ToRecord() student.Record {
	return student.Record{
		ID:                 a.ID,
		Name:               a.Name,
		RegistrationNumber: a.RegNumber,
		Course:             a.Course,
		Email:              a.Email,
		Phone:              a.Phone,
		PhotoURL:           a.PhotoURL,
		Address:            a.Address,
		DateOfBirth:        a.DateOfBirth,
		Gender:             a.Gender,
		EmergencyContact:   a.EmergencyContact,
		Notes:              a.Notes,
		RemoteID:           a.ID,
		IsSynced:           true,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

// FromRecord builds the server-side view of a record.
func FromRecord(r student.Record) APIStudent {
	return APIStudent{
		ID:               r.ID,
		Name:             r.Name,
		RegNumber:        r.RegistrationNumber,
		Course:           r.Course,
		Email:            r.Email,
		Phone:            r.Phone,
		PhotoURL:         r.PhotoURL,
		Address:          r.Address,
		DateOfBirth:      r.DateOfBirth,
		Gender:           r.Gender,
		EmergencyContact: r.EmergencyContact,
		Notes:            r.Notes,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		IsSynced:         true,
	}
}

// StudentRequest is the create/update body. It carries no sync bookkeeping.
// ID only names the backend record in a bulk sync; create and update ignore it.
type StudentRequest struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name" binding:"required"`
	RegNumber        string `json:"regNumber" binding:"required"`
	Course           string `json:"course" binding:"required"`
	Email            string `json:"email,omitempty" binding:"omitempty,email"`
	Phone            string `json:"phone,omitempty"`
	PhotoURL         string `json:"photoUrl,omitempty"`
	Address          string `json:"address,omitempty"`
	DateOfBirth      int64  `json:"dateOfBirth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	EmergencyContact string `json:"emergencyContact,omitempty"`
	Notes            string `json:"notes,omitempty"`
	// UpdatedAt lets the bulk sync endpoint compare versions. Zero means "now".
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// NewStudentRequest builds the request body for a local record.
func NewStudentRequest(r student.Record) StudentRequest {
	return StudentRequest{
		Name:             r.Name,
		RegNumber:        r.RegistrationNumber,
		Course:           r.Course,
		Email:            r.Email,
		Phone:            r.Phone,
		PhotoURL:         r.PhotoURL,
		Address:          r.Address,
		DateOfBirth:      r.DateOfBirth,
		Gender:           r.Gender,
		EmergencyContact: r.EmergencyContact,
		Notes:            r.Notes,
		UpdatedAt:        r.UpdatedAt,
	}
}

// Apply copies the request fields onto r. Identity and timestamps are untouched.
func (q StudentRequest) Apply(r *student.Record) {
	r.Name = q.Name
	r.RegistrationNumber = q.RegNumber
	r.Course = q.Course
	r.Email = q.Email
	r.Phone = q.Phone
	r.PhotoURL = q.PhotoURL
	r.Address = q.Address
	r.DateOfBirth = q.DateOfBirth
	r.Gender = q.Gender
	r.EmergencyContact = q.EmergencyContact
	r.Notes = q.Notes
}

// Response is the envelope around every REST payload.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful envelope.
func OK[T any](data T, message string) Response[T] {
	return Response[T]{Success: true, Data: &data, Message: message}
}

// Fail builds an error envelope.
func Fail(err string) Response[struct{}] {
	return Response[struct{}]{Success: false, Error: err}
}

// SyncResult reports the outcome of a bulk sync. Accepted lists the ids of the
// records the backend now holds at the sent version.
type SyncResult struct {
	Synced    int      `json:"synced"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors"`
	Accepted  []string `json:"accepted"`
}

// LoginRequest is the body of POST auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Tokens is returned by a successful login.
type Tokens struct {
	UserID       string `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}
