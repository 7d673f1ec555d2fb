package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"certhub.org/internal/certs"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestUpsertCertificateReplacesAndResetsVerified(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// The conflict path returns the pre-existing row id.
	mock.ExpectQuery(`on conflict \(event_id, participant_id\) do update`).
		WithArgs("new-id", "ev1", "p1", []byte("artifact"), "fp", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("old-id"))

	cert := &certs.Certificate{
		ID:            "new-id",
		EventID:       "ev1",
		ParticipantID: "p1",
		Content:       []byte("artifact"),
		Fingerprint:   "fp",
		GeneratedAt:   time.Now().UTC(),
		Verified:      true, // must come back false
	}
	if err := store.UpsertCertificate(ctx, cert); err != nil {
		t.Fatalf("UpsertCertificate: %v", err)
	}
	if cert.ID != "old-id" {
		t.Fatalf("expected identity of replaced row, got %s", cert.ID)
	}
	if cert.Verified {
		t.Fatal("upsert must reset verified")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetEventStatusIsTerminalAware(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update events set status=.*status <> 'finished'").
		WithArgs("ev1", "finished").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SetEventStatus(ctx, "ev1", certs.StatusFinished); err != nil {
		t.Fatalf("SetEventStatus: %v", err)
	}

	// Second attempt matches no row; the event exists, so it is terminal.
	mock.ExpectExec("update events set status=.*status <> 'finished'").
		WithArgs("ev1", "finished").
		WillReturnResult(sqlmock.NewResult(0, 0))
	eventRows := sqlmock.NewRows([]string{
		"id", "name", "club_id", "date", "description", "status", "aicte_points", "participant_limit", "created_at",
	}).AddRow("ev1", "Robo Sumo", "club1", time.Now(), "", "finished", 10, 100, time.Now())
	mock.ExpectQuery("select .* from events where id=").WithArgs("ev1").WillReturnRows(eventRows)

	if err := store.SetEventStatus(ctx, "ev1", certs.StatusFinished); !errors.Is(err, certs.ErrEventFinished) {
		t.Fatalf("expected ErrEventFinished, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddParticipantMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`insert into participants\(id, event_id, student_id\)`).
		WithArgs("p1", "ev1", "stu1", 50).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := store.AddParticipant(ctx, &certs.Participant{ID: "p1", EventID: "ev1", StudentID: "stu1"}, 50)
	if !errors.Is(err, certs.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddParticipantFullRosterInsertsNothing(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`insert into participants\(id, event_id, student_id\)`).
		WithArgs("p1", "ev1", "stu1", 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.AddParticipant(ctx, &certs.Participant{ID: "p1", EventID: "ev1", StudentID: "stu1"}, 2)
	if !errors.Is(err, certs.ErrEventFull) {
		t.Fatalf("expected ErrEventFull, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindUserMapsNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "username", "email", "full_name", "usn", "role", "mentor_id", "aicte_points", "created_at",
	}).AddRow("u1", "bob", "bob@students.git.edu", "", nil, "student", nil, 0, time.Now())
	mock.ExpectQuery("select .* from users where id=").WithArgs("u1").WillReturnRows(rows)

	u, err := store.FindUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if u.USN != "" || u.MentorID != "" {
		t.Fatalf("null columns must map to empty strings: %+v", u)
	}
	if u.Role != "student" {
		t.Fatalf("unexpected role: %s", u.Role)
	}

	mock.ExpectQuery("select .* from users where id=").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	if _, err := store.FindUser(ctx, "nope"); !errors.Is(err, certs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTemplateUpsertReplacesForEvent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(`on conflict \(event_id\) do update`).
		WithArgs("t1", "ev1", "png", []byte{1, 2, 3}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AttachTemplate(ctx, &certs.Template{
		ID: "t1", EventID: "ev1", Format: "png", Content: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("AttachTemplate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
