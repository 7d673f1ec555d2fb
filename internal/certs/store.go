package certs

import "context"

// Store is the persistence boundary for the certificate subsystem. Two
// implementations exist: the in-memory store in this package and the
// Postgres store in internal/store/pg.
type Store interface {
	// Directory.
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	MenteeIDs(ctx context.Context, mentorID string) ([]string, error)
	CreditPoints(ctx context.Context, userID string, points int) error

	CreateClub(ctx context.Context, c *Club) error
	FindClub(ctx context.Context, id string) (*Club, error)
	FindClubByAdmin(ctx context.Context, adminID string) (*Club, error)

	// Events and registrations.
	CreateEvent(ctx context.Context, e *Event) error
	FindEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	// SetEventStatus writes the status unless the event is already
	// finished; finished is terminal.
	SetEventStatus(ctx context.Context, id string, status EventStatus) error

	AttachTemplate(ctx context.Context, t *Template) error
	TemplateForEvent(ctx context.Context, eventID string) (*Template, error)

	// AddParticipant inserts the registration only while the event's roster
	// is below limit; the count and insert happen atomically.
	AddParticipant(ctx context.Context, p *Participant, limit int) error
	FindParticipant(ctx context.Context, id string) (*Participant, error)
	Roster(ctx context.Context, eventID string) ([]Participant, error)

	// Certificates. Upsert replaces the row for (event, participant) if one
	// exists, keeping exactly one certificate per pair.
	UpsertCertificate(ctx context.Context, c *Certificate) error
	FindCertificate(ctx context.Context, id string) (*Certificate, error)
	MarkCertificateVerified(ctx context.Context, id string) (*Certificate, error)
	CertificateByFingerprint(ctx context.Context, fingerprint string) (*Certificate, error)
	CertificatesByStudents(ctx context.Context, studentIDs []string) ([]Certificate, error)
}

// Policy is the access-control boundary: who may trigger generation and who
// may verify. Consulted, never bypassed, by the service.
type Policy interface {
	IsClubAdminOf(ctx context.Context, userID string, e *Event) (bool, error)
	IsMentorOf(ctx context.Context, userID string, p *Participant) (bool, error)
}

type storePolicy struct {
	store Store
}

// NewPolicy builds the default Policy backed by directory data in the store.
func NewPolicy(store Store) Policy {
	return &storePolicy{store: store}
}

func (p *storePolicy) IsClubAdminOf(ctx context.Context, userID string, e *Event) (bool, error) {
	if userID == "" || e == nil {
		return false, nil
	}
	club, err := p.store.FindClub(ctx, e.ClubID)
	if err != nil {
		return false, err
	}
	return club.AdminID == userID, nil
}

func (p *storePolicy) IsMentorOf(ctx context.Context, userID string, part *Participant) (bool, error) {
	if userID == "" || part == nil {
		return false, nil
	}
	student, err := p.store.FindUser(ctx, part.StudentID)
	if err != nil {
		return false, err
	}
	return student.MentorID != "" && student.MentorID == userID, nil
}
