// Package certs implements certificate generation, verification and the
// event lifecycle around them.
package certs

import (
	"errors"
	"time"

	"certhub.org/internal/auth"
	"certhub.org/internal/overlay"
)

// EventStatus is the event lifecycle: not_started -> started -> finished.
// finished is terminal; there is no re-open transition.
type EventStatus string

const (
	StatusNotStarted EventStatus = "not_started"
	StatusStarted    EventStatus = "started"
	StatusFinished   EventStatus = "finished"
)

// User is a campus account with its profile fields. Students carry a USN
// and an assigned mentor; club accounts administer a club.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	USN         string    `json:"usn,omitempty"`
	Role        auth.Role `json:"role"`
	MentorID    string    `json:"mentor_id,omitempty"`
	AictePoints int       `json:"aicte_points"`
	CreatedAt   time.Time `json:"created_at"`
}

// Club owns events. Exactly one user administers a club.
type Club struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a club-run happening that may award certificates.
type Event struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ClubID           string      `json:"club_id"`
	Date             time.Time   `json:"date"`
	Description      string      `json:"description"`
	Status           EventStatus `json:"status"`
	AictePoints      int         `json:"aicte_points"`
	ParticipantLimit int         `json:"participant_limit"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Template is the certificate template attached to exactly one event.
// Format is the stored discriminator; generation never re-sniffs the bytes.
type Template struct {
	ID         string         `json:"id"`
	EventID    string         `json:"event_id"`
	Format     overlay.Format `json:"format"`
	Content    []byte         `json:"-"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// Participant is one student's registration for one event. A student
// registers for a given event at most once.
type Participant struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	StudentID string `json:"student_id"`
}

// Certificate is the generated artifact for one (event, participant) pair.
// The fingerprint is a SHA-256 over the final artifact bytes, computed once
// at generation time; lookups trust the stored value.
type Certificate struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	ParticipantID string    `json:"participant_id"`
	Content       []byte    `json:"-"`
	Fingerprint   string    `json:"fingerprint"`
	GeneratedAt   time.Time `json:"generated_at"`
	Verified      bool      `json:"verified"`
}

// GenerationFailure records one participant whose certificate could not be
// produced. Carried in the report, never raised.
type GenerationFailure struct {
	ParticipantID string `json:"participant_id"`
	Error         string `json:"error"`
}

// GenerationReport aggregates a whole generation run. Status "finished"
// means generation was attempted for everyone on the roster, not that every
// certificate succeeded; callers must inspect the failure list.
type GenerationReport struct {
	Status       string              `json:"status"`
	SuccessCount int                 `json:"success_count"`
	FailureCount int                 `json:"failure_count"`
	Failures     []GenerationFailure `json:"failures"`
}

// VerificationResult answers an anonymous fingerprint lookup. It carries
// provenance metadata only, deliberately never the artifact bytes.
type VerificationResult struct {
	Found     bool      `json:"found"`
	EventName string    `json:"event_name,omitempty"`
	Holder    string    `json:"holder,omitempty"`
	Verified  bool      `json:"verified,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitzero"`
}

var (
	ErrNotFound             = errors.New("certs: not found")
	ErrNotAuthorized        = errors.New("certs: not authorized")
	ErrMissingTemplate      = errors.New("certs: event has no certificate template")
	ErrNoParticipants       = errors.New("certs: event has no participants")
	ErrGenerationInProgress = errors.New("certs: generation already in progress for event")
	ErrEventFinished        = errors.New("certs: event is finished")
	ErrEventClosed          = errors.New("certs: event registration is closed")
	ErrEventFull            = errors.New("certs: event is full")
	ErrAlreadyRegistered    = errors.New("certs: student already registered")
	ErrInvalidInput         = errors.New("certs: invalid input")
)

// ErrUnsupportedFormat mirrors the overlay engine's sentinel so callers can
// branch on it without importing the engine.
var ErrUnsupportedFormat = overlay.ErrUnsupportedFormat
