package certs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"certhub.org/internal/ids"
	"certhub.org/internal/overlay"
)

// EventInput is the caller-supplied portion of a new event.
type EventInput struct {
	Name             string
	Date             time.Time
	Description      string
	AictePoints      int
	ParticipantLimit int
}

// CreateEvent registers a new event owned by the acting club admin's club.
func (s *Service) CreateEvent(ctx context.Context, in EventInput, actorID string) (*Event, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	club, err := s.store.FindClubByAdmin(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("%w: caller administers no club", ErrNotAuthorized)
	}
	limit := in.ParticipantLimit
	if limit <= 0 {
		limit = 100
	}
	event := &Event{
		ID:               ids.New(),
		Name:             strings.TrimSpace(in.Name),
		ClubID:           club.ID,
		Date:             in.Date,
		Description:      in.Description,
		Status:           StatusNotStarted,
		AictePoints:      in.AictePoints,
		ParticipantLimit: limit,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// GetEvent loads one event.
func (s *Service) GetEvent(ctx context.Context, id string) (*Event, error) {
	return s.store.FindEvent(ctx, id)
}

// ListEvents returns all events.
func (s *Service) ListEvents(ctx context.Context) ([]Event, error) {
	return s.store.ListEvents(ctx)
}

// Start closes registration: not_started -> started. Only the owning club
// admin may trigger it.
func (s *Service) Start(ctx context.Context, eventID, actorID string) (*Event, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ok, err := s.policy.IsClubAdminOf(ctx, actorID, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: only the owning club admin may start the event", ErrNotAuthorized)
	}
	if event.Status != StatusNotStarted {
		return nil, fmt.Errorf("%w: event is %s", ErrEventClosed, event.Status)
	}
	if err := s.store.SetEventStatus(ctx, eventID, StatusStarted); err != nil {
		return nil, err
	}
	event.Status = StatusStarted
	return event, nil
}

// Register adds a student to an event's roster and credits the event's
// AICTE points. Registration is open only while the event has not started,
// capacity permitting, and at most once per student.
func (s *Service) Register(ctx context.Context, eventID, studentID string) (*Participant, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != StatusNotStarted {
		return nil, ErrEventClosed
	}
	participant := &Participant{
		ID:        ids.New(),
		EventID:   eventID,
		StudentID: studentID,
	}
	// Capacity is enforced inside the insert so concurrent registrations
	// cannot slip past the limit.
	if err := s.store.AddParticipant(ctx, participant, event.ParticipantLimit); err != nil {
		return nil, err
	}
	if event.AictePoints > 0 {
		if err := s.store.CreditPoints(ctx, studentID, event.AictePoints); err != nil {
			return nil, err
		}
	}
	s.sink.Record(ctx, "event.register", map[string]any{
		"event_id":   eventID,
		"student_id": studentID,
	})
	return participant, nil
}

// UploadTemplate attaches (or replaces) the event's certificate template.
// The declared format is validated here so generation can trust it later.
func (s *Service) UploadTemplate(ctx context.Context, eventID, actorID string, content []byte, rawFormat string) (*Template, error) {
	event, err := s.store.FindEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ok, err := s.policy.IsClubAdminOf(ctx, actorID, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: only the owning club admin may upload a template", ErrNotAuthorized)
	}
	if event.Status == StatusFinished {
		return nil, ErrEventFinished
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: template content is required", ErrInvalidInput)
	}
	format, err := overlay.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}
	template := &Template{
		ID:         ids.New(),
		EventID:    eventID,
		Format:     format,
		Content:    content,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.store.AttachTemplate(ctx, template); err != nil {
		return nil, err
	}
	s.sink.Record(ctx, "event.template.upload", map[string]any{
		"event_id": eventID,
		"format":   string(format),
	})
	return template, nil
}
