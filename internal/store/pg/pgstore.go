package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"certhub.org/internal/auth"
	"certhub.org/internal/certs"
	"certhub.org/internal/overlay"
)

// Store implements certs.Store on Postgres.
type Store struct {
	db *sql.DB
}

var _ certs.Store = (*Store)(nil)

const uniqueViolation = "23505"

// Open connects to Postgres with pooled defaults tuned for the API workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (tests use this with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- directory ---

func (s *Store) CreateUser(ctx context.Context, u *certs.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, username, email, full_name, usn, role, mentor_id, aicte_points, created_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,nullif($7,''),$8,$9)
	`, u.ID, u.Username, u.Email, u.FullName, u.USN, string(u.Role), u.MentorID, u.AictePoints, u.CreatedAt)
	return err
}

func (s *Store) scanUser(row *sql.Row) (*certs.User, error) {
	var u certs.User
	var usn, mentorID sql.NullString
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &usn, &role, &mentorID, &u.AictePoints, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.USN = usn.String
	u.MentorID = mentorID.String
	u.Role = auth.Role(role)
	return &u, nil
}

const userColumns = `id, username, email, full_name, usn, role, mentor_id, aicte_points, created_at`

func (s *Store) FindUser(ctx context.Context, id string) (*certs.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*certs.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username=$1`, username))
}

func (s *Store) MenteeIDs(ctx context.Context, mentorID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select id from users where mentor_id=$1 order by id`, mentorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreditPoints(ctx context.Context, userID string, points int) error {
	res, err := s.db.ExecContext(ctx, `update users set aicte_points = aicte_points + $2 where id=$1`, userID, points)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) CreateClub(ctx context.Context, c *certs.Club) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into clubs(id, name, admin_id, created_at) values ($1,$2,$3,$4)
	`, c.ID, c.Name, c.AdminID, c.CreatedAt)
	return err
}

func (s *Store) scanClub(row *sql.Row) (*certs.Club, error) {
	var c certs.Club
	err := row.Scan(&c.ID, &c.Name, &c.AdminID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindClub(ctx context.Context, id string) (*certs.Club, error) {
	return s.scanClub(s.db.QueryRowContext(ctx, `select id, name, admin_id, created_at from clubs where id=$1`, id))
}

func (s *Store) FindClubByAdmin(ctx context.Context, adminID string) (*certs.Club, error) {
	return s.scanClub(s.db.QueryRowContext(ctx, `select id, name, admin_id, created_at from clubs where admin_id=$1`, adminID))
}

// --- events ---

const eventColumns = `id, name, club_id, date, description, status, aicte_points, participant_limit, created_at`

func (s *Store) CreateEvent(ctx context.Context, e *certs.Event) error {
	if e.Status == "" {
		e.Status = certs.StatusNotStarted
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into events(id, name, club_id, date, description, status, aicte_points, participant_limit, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.Name, e.ClubID, e.Date, e.Description, string(e.Status), e.AictePoints, e.ParticipantLimit, e.CreatedAt)
	return err
}

func scanEvent(scan func(dest ...any) error) (*certs.Event, error) {
	var e certs.Event
	var status string
	err := scan(&e.ID, &e.Name, &e.ClubID, &e.Date, &e.Description, &status, &e.AictePoints, &e.ParticipantLimit, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = certs.EventStatus(status)
	return &e, nil
}

func (s *Store) FindEvent(ctx context.Context, id string) (*certs.Event, error) {
	row := s.db.QueryRowContext(ctx, `select `+eventColumns+` from events where id=$1`, id)
	return scanEvent(row.Scan)
}

func (s *Store) ListEvents(ctx context.Context) ([]certs.Event, error) {
	rows, err := s.db.QueryContext(ctx, `select `+eventColumns+` from events order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []certs.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// SetEventStatus refuses to leave the terminal state: the predicate makes
// the finished transition a compare-and-swap, so concurrent generation runs
// set it exactly once.
func (s *Store) SetEventStatus(ctx context.Context, id string, status certs.EventStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update events set status=$2 where id=$1 and status <> 'finished'
	`, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.FindEvent(ctx, id); err != nil {
			return err
		}
		return certs.ErrEventFinished
	}
	return nil
}

// --- templates ---

func (s *Store) AttachTemplate(ctx context.Context, t *certs.Template) error {
	if t.UploadedAt.IsZero() {
		t.UploadedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		insert into templates(id, event_id, format, content, uploaded_at)
		values ($1,$2,$3,$4,$5)
		on conflict (event_id) do update
		set id = excluded.id, format = excluded.format,
		    content = excluded.content, uploaded_at = excluded.uploaded_at
	`, t.ID, t.EventID, string(t.Format), t.Content, t.UploadedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) TemplateForEvent(ctx context.Context, eventID string) (*certs.Template, error) {
	var t certs.Template
	var format string
	err := s.db.QueryRowContext(ctx, `
		select id, event_id, format, content, uploaded_at from templates where event_id=$1
	`, eventID).Scan(&t.ID, &t.EventID, &format, &t.Content, &t.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Format = overlay.Format(format)
	return &t, nil
}

// --- participants ---

// AddParticipant counts the roster inside the insert statement so two
// concurrent registrations cannot both pass a limit check and overshoot.
func (s *Store) AddParticipant(ctx context.Context, p *certs.Participant, limit int) error {
	res, err := s.db.ExecContext(ctx, `
		insert into participants(id, event_id, student_id)
		select $1, $2, $3
		where (select count(*) from participants where event_id = $2) < $4
	`, p.ID, p.EventID, p.StudentID, limit)
	if isUniqueViolation(err) {
		return certs.ErrAlreadyRegistered
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return certs.ErrEventFull
	}
	return nil
}

func (s *Store) FindParticipant(ctx context.Context, id string) (*certs.Participant, error) {
	var p certs.Participant
	err := s.db.QueryRowContext(ctx, `
		select id, event_id, student_id from participants where id=$1
	`, id).Scan(&p.ID, &p.EventID, &p.StudentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) Roster(ctx context.Context, eventID string) ([]certs.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, event_id, student_id from participants where event_id=$1 order by id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []certs.Participant
	for rows.Next() {
		var p certs.Participant
		if err := rows.Scan(&p.ID, &p.EventID, &p.StudentID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- certificates ---

const certificateColumns = `id, event_id, participant_id, content, fingerprint, generated_at, verified`

// UpsertCertificate keeps at most one certificate per (event, participant).
// A replaced certificate keeps its original identifier and always drops its
// verified flag; regeneration requires re-verification.
func (s *Store) UpsertCertificate(ctx context.Context, c *certs.Certificate) error {
	var id string
	err := s.db.QueryRowContext(ctx, `
		insert into certificates(id, event_id, participant_id, content, fingerprint, generated_at, verified)
		values ($1,$2,$3,$4,$5,$6,false)
		on conflict (event_id, participant_id) do update
		set content = excluded.content, fingerprint = excluded.fingerprint,
		    generated_at = excluded.generated_at, verified = false
		returning id
	`, c.ID, c.EventID, c.ParticipantID, c.Content, c.Fingerprint, c.GeneratedAt).Scan(&id)
	if err != nil {
		return err
	}
	c.ID = id
	c.Verified = false
	return nil
}

func scanCertificate(scan func(dest ...any) error) (*certs.Certificate, error) {
	var c certs.Certificate
	err := scan(&c.ID, &c.EventID, &c.ParticipantID, &c.Content, &c.Fingerprint, &c.GeneratedAt, &c.Verified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, certs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCertificate(ctx context.Context, id string) (*certs.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `select `+certificateColumns+` from certificates where id=$1`, id)
	return scanCertificate(row.Scan)
}

func (s *Store) MarkCertificateVerified(ctx context.Context, id string) (*certs.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `
		update certificates set verified=true where id=$1
		returning `+certificateColumns+`
	`, id)
	return scanCertificate(row.Scan)
}

func (s *Store) CertificateByFingerprint(ctx context.Context, fingerprint string) (*certs.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `select `+certificateColumns+` from certificates where fingerprint=$1`, fingerprint)
	return scanCertificate(row.Scan)
}

func (s *Store) CertificatesByStudents(ctx context.Context, studentIDs []string) ([]certs.Certificate, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select c.id, c.event_id, c.participant_id, c.content, c.fingerprint, c.generated_at, c.verified
		from certificates c
		join participants p on p.id = c.participant_id
		where p.student_id = any($1)
		order by c.id
	`, studentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []certs.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return certs.ErrNotFound
	}
	return nil
}
