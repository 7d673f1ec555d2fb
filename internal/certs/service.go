package certs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"certhub.org/internal/audit"
	"certhub.org/internal/auth"
	"certhub.org/internal/ids"
	"certhub.org/internal/obs"
	"certhub.org/internal/overlay"
	"certhub.org/internal/stream"
)

// Fixed field layout: name roughly mid-page with the identifier beneath it,
// in bottom-left page coordinates.
const (
	fieldX     = 200
	nameY      = 400
	usnY       = 368
	namePoints = 24
	usnPoints  = 18

	// usnPlaceholder stands in when a student has no USN on record.
	usnPlaceholder = "N/A"
)

// Service drives certificate generation and verification on top of a Store.
type Service struct {
	store    Store
	engine   *overlay.Engine
	policy   Policy
	sink     audit.Sink
	issuance *stream.Stream

	// One generation run per event at a time. The guard covers this
	// process; across processes, SetEventStatus refuses to leave the
	// terminal state, so finished is set exactly once either way.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the default store-backed access policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAuditSink injects the audit capability.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithIssuanceStream publishes one notice per issued certificate.
func WithIssuanceStream(st *stream.Stream) Option {
	return func(s *Service) { s.issuance = st }
}

// NewService wires a Service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		engine:   overlay.NewEngine(),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = NewPolicy(store)
	}
	if s.sink == nil {
		s.sink = audit.LogSink{}
	}
	return s
}

// Generate runs certificate generation for every participant of the event.
//
// Precondition failures (authorization, missing template, empty roster,
// unsupported format, terminal event) abort before any write. Once the
// roster loop starts, per-participant failures are collected into the
// report and never abort the batch; the event transitions to finished after
// the roster is exhausted regardless of individual outcomes. Cancellation
// between participants stops the run, keeps certificates already written
// and leaves the event status unchanged.
func (s *Service) Generate(ctx context.Context, eventID, actorID string) (GenerationReport, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return GenerationReport{}, err
	}

	ok, err := s.policy.IsClubAdminOf(ctx, actorID, event)
	if err != nil {
		return GenerationReport{}, err
	}
	if !ok {
		return GenerationReport{}, fmt.Errorf("%w: only the owning club admin may generate certificates", ErrNotAuthorized)
	}

	if event.Status == StatusFinished {
		return GenerationReport{}, ErrEventFinished
	}

	if !s.acquire(eventID) {
		return GenerationReport{}, ErrGenerationInProgress
	}
	defer s.release(eventID)

	template, err := s.store.TemplateForEvent(ctx, eventID)
	if err != nil {
		// Only an absent template is the precondition failure; store
		// outages propagate as themselves.
		if errors.Is(err, ErrNotFound) {
			return GenerationReport{}, fmt.Errorf("%w: event %s", ErrMissingTemplate, eventID)
		}
		return GenerationReport{}, err
	}
	format, err := overlay.ParseFormat(string(template.Format))
	if err != nil {
		return GenerationReport{}, err
	}

	roster, err := s.store.Roster(ctx, eventID)
	if err != nil {
		return GenerationReport{}, err
	}
	if len(roster) == 0 {
		return GenerationReport{}, fmt.Errorf("%w: event %s", ErrNoParticipants, eventID)
	}

	var report GenerationReport
	for _, participant := range roster {
		if err := ctx.Err(); err != nil {
			// Already-written certificates stay valid; status untouched.
			return report, err
		}
		if err := s.generateOne(ctx, event, template, format, participant); err != nil {
			report.FailureCount++
			report.Failures = append(report.Failures, GenerationFailure{
				ParticipantID: participant.ID,
				Error:         err.Error(),
			})
			obs.CountGenerated(false)
			continue
		}
		report.SuccessCount++
		obs.CountGenerated(true)
	}

	// Finished means "attempted for everyone", deliberately also when some
	// or even all participants failed.
	if err := s.store.SetEventStatus(ctx, eventID, StatusFinished); err != nil {
		return report, err
	}
	report.Status = string(StatusFinished)

	s.sink.Record(ctx, "certificate.generate", map[string]any{
		"event_id":  eventID,
		"successes": report.SuccessCount,
		"failures":  report.FailureCount,
	})
	return report, nil
}

func (s *Service) generateOne(ctx context.Context, event *Event, template *Template, format overlay.Format, participant Participant) error {
	student, err := s.store.FindUser(ctx, participant.StudentID)
	if err != nil {
		return fmt.Errorf("resolve student: %w", err)
	}

	name := student.FullName
	if name == "" {
		name = student.Username
	}
	usn := student.USN
	if usn == "" {
		usn = usnPlaceholder
	}

	fields := []overlay.Field{
		{Text: "Name: " + name, X: fieldX, Y: nameY, Points: namePoints},
		{Text: "USN: " + usn, X: fieldX, Y: usnY, Points: usnPoints},
	}
	artifact, err := s.engine.Overlay(template.Content, format, fields)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(artifact)
	cert := &Certificate{
		ID:            ids.New(),
		EventID:       event.ID,
		ParticipantID: participant.ID,
		Content:       artifact,
		Fingerprint:   hex.EncodeToString(sum[:]),
		GeneratedAt:   time.Now().UTC(),
		Verified:      false,
	}
	if err := s.store.UpsertCertificate(ctx, cert); err != nil {
		return fmt.Errorf("persist certificate: %w", err)
	}

	if s.issuance != nil {
		s.issuance.Publish(stream.Notice{
			EventName:   event.Name,
			Holder:      name,
			Fingerprint: cert.Fingerprint,
			IssuedAt:    cert.GeneratedAt,
		})
	}
	return nil
}

func (s *Service) acquire(eventID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[eventID]; busy {
		return false
	}
	s.inflight[eventID] = struct{}{}
	return true
}

func (s *Service) release(eventID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, eventID)
}

// Verify lets a mentor confirm a mentee's certificate. Only the mentor on
// record for the certificate holder may verify; repeating a verification is
// a no-op success.
func (s *Service) Verify(ctx context.Context, certificateID, actorID string) (*Certificate, error) {
	cert, err := s.store.FindCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	participant, err := s.store.FindParticipant(ctx, cert.ParticipantID)
	if err != nil {
		return nil, err
	}
	ok, err := s.policy.IsMentorOf(ctx, actorID, participant)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: certificate holder is not a mentee of the caller", ErrNotAuthorized)
	}
	if cert.Verified {
		return cert, nil
	}
	updated, err := s.store.MarkCertificateVerified(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	s.sink.Record(ctx, "certificate.verify", map[string]any{
		"certificate_id": certificateID,
	})
	return updated, nil
}

// Lookup resolves a certificate by its stored content fingerprint. A miss
// is a negative result, not an error, and the artifact bytes are never
// included either way.
func (s *Service) Lookup(ctx context.Context, fingerprint string) (VerificationResult, error) {
	cert, err := s.store.CertificateByFingerprint(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		obs.CountLookup(false)
		return VerificationResult{Found: false}, nil
	}
	if err != nil {
		return VerificationResult{}, err
	}

	event, err := s.store.FindEvent(ctx, cert.EventID)
	if err != nil {
		return VerificationResult{}, err
	}
	participant, err := s.store.FindParticipant(ctx, cert.ParticipantID)
	if err != nil {
		return VerificationResult{}, err
	}
	student, err := s.store.FindUser(ctx, participant.StudentID)
	if err != nil {
		return VerificationResult{}, err
	}
	holder := student.USN
	if holder == "" {
		holder = student.Username
	}
	obs.CountLookup(true)
	return VerificationResult{
		Found:     true,
		EventName: event.Name,
		Holder:    holder,
		Verified:  cert.Verified,
		IssuedAt:  cert.GeneratedAt,
	}, nil
}

// ListFor returns certificates scoped to the caller's role: students see
// their own, mentors see their mentees', everyone else gets an empty set.
func (s *Service) ListFor(ctx context.Context, actor *User) ([]Certificate, error) {
	if actor == nil {
		return []Certificate{}, nil
	}
	switch actor.Role {
	case auth.RoleStudent:
		return s.store.CertificatesByStudents(ctx, []string{actor.ID})
	case auth.RoleMentor:
		mentees, err := s.store.MenteeIDs(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if len(mentees) == 0 {
			return []Certificate{}, nil
		}
		return s.store.CertificatesByStudents(ctx, mentees)
	}
	// Fail closed for any other role.
	return []Certificate{}, nil
}
