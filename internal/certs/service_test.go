package certs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"certhub.org/internal/auth"
	"certhub.org/internal/ids"
	"certhub.org/internal/overlay"
)

type fixture struct {
	store   *InMemory
	service *Service
	club    *Club
	admin   *User
	mentor  *User
	event   *Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewInMemory()
	ctx := context.Background()

	admin := &User{ID: ids.New(), Username: "robotics-admin", Role: auth.RoleClub}
	mentor := &User{ID: ids.New(), Username: "dr-rao", Role: auth.RoleMentor}
	for _, u := range []*User{admin, mentor} {
		if err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	club := &Club{ID: ids.New(), Name: "Robotics Club", AdminID: admin.ID}
	if err := store.CreateClub(ctx, club); err != nil {
		t.Fatalf("seed club: %v", err)
	}

	event := &Event{
		ID:               ids.New(),
		Name:             "Robo Sumo 2026",
		ClubID:           club.ID,
		Date:             time.Now().AddDate(0, 1, 0),
		Status:           StatusNotStarted,
		AictePoints:      10,
		ParticipantLimit: 100,
	}
	if err := store.CreateEvent(ctx, event); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	return &fixture{
		store:   store,
		service: NewService(store),
		club:    club,
		admin:   admin,
		mentor:  mentor,
		event:   event,
	}
}

func (f *fixture) addStudent(t *testing.T, username, fullName, usn string) *User {
	t.Helper()
	u := &User{
		ID:       ids.New(),
		Username: username,
		FullName: fullName,
		USN:      usn,
		Role:     auth.RoleStudent,
		MentorID: f.mentor.ID,
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed student: %v", err)
	}
	return u
}

func (f *fixture) register(t *testing.T, student *User) *Participant {
	t.Helper()
	p, err := f.service.Register(context.Background(), f.event.ID, student.ID)
	if err != nil {
		t.Fatalf("register %s: %v", student.Username, err)
	}
	return p
}

func (f *fixture) attachPNGTemplate(t *testing.T) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 600, 450))
	for y := 0; y < 450; y++ {
		for x := 0; x < 600; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode template: %v", err)
	}
	if _, err := f.service.UploadTemplate(context.Background(), f.event.ID, f.admin.ID, buf.Bytes(), "png"); err != nil {
		t.Fatalf("upload template: %v", err)
	}
}

func TestGenerateOneCertificatePerParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	bob := f.addStudent(t, "bob", "", "") // no full name, no USN
	f.register(t, alice)
	f.register(t, bob)
	f.attachPNGTemplate(t)

	report, err := f.service.Generate(ctx, f.event.ID, f.admin.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != "finished" || report.SuccessCount != 2 || report.FailureCount != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	certsList, err := f.service.ListFor(ctx, alice)
	if err != nil || len(certsList) != 1 {
		t.Fatalf("expected 1 certificate for alice, got %d (%v)", len(certsList), err)
	}
	if certsList[0].Verified {
		t.Fatal("new certificates must start unverified")
	}
	if certsList[0].Fingerprint == "" {
		t.Fatal("fingerprint must be computed at generation time")
	}

	event, _ := f.store.FindEvent(ctx, f.event.ID)
	if event.Status != StatusFinished {
		t.Fatalf("event status = %s, want finished", event.Status)
	}
}

func TestGenerateIsIdempotentOnCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	f.register(t, alice)
	f.attachPNGTemplate(t)

	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	first, _ := f.service.ListFor(ctx, alice)
	if len(first) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(first))
	}
	// Simulate a mentor verification, then regenerate: the count must not
	// grow and the verified flag must reset.
	if _, err := f.service.Verify(ctx, first[0].ID, f.mentor.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The event is finished now; a regeneration run is modeled by resetting
	// status through the store, since finished is terminal to the service.
	f.store.mu.Lock()
	f.store.events[f.event.ID].Status = StatusStarted
	f.store.mu.Unlock()

	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	second, _ := f.service.ListFor(ctx, alice)
	if len(second) != 1 {
		t.Fatalf("regeneration duplicated certificates: %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("certificate identity changed on regeneration: %s -> %s", first[0].ID, second[0].ID)
	}
	if second[0].Verified {
		t.Fatal("regeneration must reset the verified flag")
	}
}

func TestGenerateMissingTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))

	_, err := f.service.Generate(ctx, f.event.ID, f.admin.ID)
	if !errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("expected ErrMissingTemplate, got %v", err)
	}
	event, _ := f.store.FindEvent(ctx, f.event.ID)
	if event.Status != StatusNotStarted {
		t.Fatalf("status must be unchanged, got %s", event.Status)
	}
}

func TestGenerateEmptyRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.attachPNGTemplate(t)

	_, err := f.service.Generate(ctx, f.event.ID, f.admin.ID)
	if !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
	event, _ := f.store.FindEvent(ctx, f.event.ID)
	if event.Status != StatusNotStarted {
		t.Fatalf("status must be unchanged, got %s", event.Status)
	}
}

func TestGenerateUnsupportedFormatWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	f.register(t, alice)

	// Bypass upload validation to model a corrupt stored discriminator.
	f.store.mu.Lock()
	f.store.templates[f.event.ID] = &Template{
		ID:      ids.New(),
		EventID: f.event.ID,
		Format:  overlay.Format("docx"),
		Content: []byte("not really a template"),
	}
	f.store.mu.Unlock()

	_, err := f.service.Generate(ctx, f.event.ID, f.admin.ID)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if got, _ := f.service.ListFor(ctx, alice); len(got) != 0 {
		t.Fatalf("no certificate may be written, got %d", len(got))
	}
	event, _ := f.store.FindEvent(ctx, f.event.ID)
	if event.Status != StatusNotStarted {
		t.Fatalf("status must be unchanged, got %s", event.Status)
	}
}

func TestGenerateRequiresOwningClubAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))
	f.attachPNGTemplate(t)

	outsider := &User{ID: ids.New(), Username: "other-club", Role: auth.RoleClub}
	if err := f.store.CreateUser(ctx, outsider); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Generate(ctx, f.event.ID, outsider.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestGenerateOnFinishedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))
	f.attachPNGTemplate(t)

	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); !errors.Is(err, ErrEventFinished) {
		t.Fatalf("expected ErrEventFinished, got %v", err)
	}
}

// faultyTemplateStore simulates a storage outage on template loads.
type faultyTemplateStore struct {
	Store
	err error
}

func (f *faultyTemplateStore) TemplateForEvent(ctx context.Context, eventID string) (*Template, error) {
	return nil, f.err
}

func TestGenerateTemplateStoreOutageIsNotMissingTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))

	outage := errors.New("pg: connection refused")
	svc := NewService(&faultyTemplateStore{Store: f.store, err: outage})

	_, err := svc.Generate(ctx, f.event.ID, f.admin.ID)
	if errors.Is(err, ErrMissingTemplate) {
		t.Fatalf("store outage must not masquerade as a missing template: %v", err)
	}
	if !errors.Is(err, outage) {
		t.Fatalf("expected the store error to propagate, got %v", err)
	}

	event, err := f.store.FindEvent(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if event.Status == StatusFinished {
		t.Fatal("failed run must not finish the event")
	}
}

// blockingStore parks Roster until released, to hold a generation run open.
type blockingStore struct {
	Store
	enter chan struct{}
	exit  chan struct{}
}

func (b *blockingStore) Roster(ctx context.Context, eventID string) ([]Participant, error) {
	close(b.enter)
	<-b.exit
	return b.Store.Roster(ctx, eventID)
}

func TestGenerateConcurrentRunFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))
	f.attachPNGTemplate(t)

	bs := &blockingStore{Store: f.store, enter: make(chan struct{}), exit: make(chan struct{})}
	svc := NewService(bs)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, f.event.ID, f.admin.ID)
		done <- err
	}()

	<-bs.enter
	if _, err := svc.Generate(ctx, f.event.ID, f.admin.ID); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected ErrGenerationInProgress, got %v", err)
	}
	close(bs.exit)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestGenerateCancellationLeavesStatusUnchanged(t *testing.T) {
	f := newFixture(t)
	f.register(t, f.addStudent(t, "alice", "Alice Example", "1AB21CS001"))
	f.attachPNGTemplate(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Generate(ctx, f.event.ID, f.admin.ID)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	event, _ := f.store.FindEvent(context.Background(), f.event.ID)
	if event.Status == StatusFinished {
		t.Fatal("cancelled run must not finish the event")
	}
}

func TestVerifyOwnershipAndIdempotency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	f.register(t, alice)
	f.attachPNGTemplate(t)

	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	certsList, _ := f.service.ListFor(ctx, alice)
	certID := certsList[0].ID

	stranger := &User{ID: ids.New(), Username: "other-mentor", Role: auth.RoleMentor}
	if err := f.store.CreateUser(ctx, stranger); err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.Verify(ctx, certID, stranger.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for foreign mentor, got %v", err)
	}

	verified, err := f.service.Verify(ctx, certID, f.mentor.ID)
	if err != nil || !verified.Verified {
		t.Fatalf("verify by assigned mentor failed: %v", err)
	}
	again, err := f.service.Verify(ctx, certID, f.mentor.ID)
	if err != nil || !again.Verified {
		t.Fatalf("repeat verify must be a no-op success: %v", err)
	}

	if _, err := f.service.Verify(ctx, "no-such-cert", f.mentor.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupByFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	f.register(t, alice)
	f.attachPNGTemplate(t)

	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	certsList, _ := f.service.ListFor(ctx, alice)
	fp := certsList[0].Fingerprint

	res, err := f.service.Lookup(ctx, fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !res.Found || res.EventName != f.event.Name || res.Holder != "1AB21CS001" {
		t.Fatalf("unexpected lookup result: %+v", res)
	}
	if res.IssuedAt.IsZero() {
		t.Fatal("lookup must report the issue timestamp")
	}

	miss, err := f.service.Lookup(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("Lookup miss: %v", err)
	}
	if miss.Found {
		t.Fatal("unknown fingerprint must report found=false")
	}
}

func TestListForFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	f.register(t, alice)
	f.attachPNGTemplate(t)
	if _, err := f.service.Generate(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, err := f.service.ListFor(ctx, f.admin) // club role: no certificate view
	if err != nil || len(got) != 0 {
		t.Fatalf("club caller must get an empty set, got %d (%v)", len(got), err)
	}
	got, err = f.service.ListFor(ctx, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("anonymous caller must get an empty set, got %d (%v)", len(got), err)
	}

	mentorView, err := f.service.ListFor(ctx, f.mentor)
	if err != nil || len(mentorView) != 1 {
		t.Fatalf("mentor must see mentee certificates, got %d (%v)", len(mentorView), err)
	}
}

func TestRegistrationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")

	if _, err := f.service.Register(ctx, f.event.ID, alice.ID); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.service.Register(ctx, f.event.ID, alice.ID); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	u, _ := f.store.FindUser(ctx, alice.ID)
	if u.AictePoints != f.event.AictePoints {
		t.Fatalf("points not credited: got %d, want %d", u.AictePoints, f.event.AictePoints)
	}

	if _, err := f.service.Start(ctx, f.event.ID, f.admin.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	bob := f.addStudent(t, "bob", "Bob Example", "")
	if _, err := f.service.Register(ctx, f.event.ID, bob.ID); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("expected ErrEventClosed after start, got %v", err)
	}
}

func TestRegistrationCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.mu.Lock()
	f.store.events[f.event.ID].ParticipantLimit = 1
	f.store.mu.Unlock()

	alice := f.addStudent(t, "alice", "Alice Example", "1AB21CS001")
	bob := f.addStudent(t, "bob", "Bob Example", "1AB21CS002")
	if _, err := f.service.Register(ctx, f.event.ID, alice.ID); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.service.Register(ctx, f.event.ID, bob.ID); !errors.Is(err, ErrEventFull) {
		t.Fatalf("expected ErrEventFull, got %v", err)
	}
}

func TestRegistrationCapacityUnderContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const limit = 3
	const contenders = 10
	f.store.mu.Lock()
	f.store.events[f.event.ID].ParticipantLimit = limit
	f.store.mu.Unlock()

	students := make([]*User, contenders)
	for i := range students {
		students[i] = f.addStudent(t, fmt.Sprintf("student%02d", i), fmt.Sprintf("Student %02d", i), "")
	}

	errs := make(chan error, contenders)
	var wg sync.WaitGroup
	for _, stu := range students {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.service.Register(ctx, f.event.ID, id)
			errs <- err
		}(stu.ID)
	}
	wg.Wait()
	close(errs)

	admitted, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrEventFull):
			full++
		default:
			t.Fatalf("unexpected register error: %v", err)
		}
	}
	if admitted != limit || full != contenders-limit {
		t.Fatalf("got %d admitted / %d rejected, want %d / %d", admitted, full, limit, contenders-limit)
	}
	roster, err := f.store.Roster(ctx, f.event.ID)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(roster) != limit {
		t.Fatalf("roster holds %d participants, want %d", len(roster), limit)
	}
}
