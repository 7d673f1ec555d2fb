package certs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Tests and
// the smoke tool run on it; production runs on the Postgres store.
type InMemory struct {
	mu           sync.RWMutex
	users        map[string]*User
	clubs        map[string]*Club
	events       map[string]*Event
	templates    map[string]*Template    // keyed by event id
	participants map[string]*Participant // keyed by participant id
	certificates map[string]*Certificate // keyed by certificate id
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:        make(map[string]*User),
		clubs:        make(map[string]*Club),
		events:       make(map[string]*Event),
		templates:    make(map[string]*Template),
		participants: make(map[string]*Participant),
		certificates: make(map[string]*Certificate),
	}
}

func (s *InMemory) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) FindUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) MenteeIDs(ctx context.Context, mentorID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, u := range s.users {
		if u.MentorID == mentorID {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemory) CreditPoints(ctx context.Context, userID string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.AictePoints += points
	return nil
}

func (s *InMemory) CreateClub(ctx context.Context, c *Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.clubs[c.ID] = &cp
	return nil
}

func (s *InMemory) FindClub(ctx context.Context, id string) (*Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clubs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) FindClubByAdmin(ctx context.Context, adminID string) (*Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clubs {
		if c.AdminID == adminID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) CreateEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Status == "" {
		e.Status = StatusNotStarted
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

func (s *InMemory) FindEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *InMemory) ListEvents(ctx context.Context) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) SetEventStatus(ctx context.Context, id string, status EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusFinished {
		return ErrEventFinished
	}
	e.Status = status
	return nil
}

func (s *InMemory) AttachTemplate(ctx context.Context, t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[t.EventID]; !ok {
		return ErrNotFound
	}
	if t.UploadedAt.IsZero() {
		t.UploadedAt = time.Now().UTC()
	}
	cp := *t
	cp.Content = append([]byte(nil), t.Content...)
	s.templates[t.EventID] = &cp
	return nil
}

func (s *InMemory) TemplateForEvent(ctx context.Context, eventID string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Content = append([]byte(nil), t.Content...)
	return &cp, nil
}

func (s *InMemory) AddParticipant(ctx context.Context, p *Participant, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[p.EventID]; !ok {
		return ErrNotFound
	}
	registered := 0
	for _, existing := range s.participants {
		if existing.EventID != p.EventID {
			continue
		}
		if existing.StudentID == p.StudentID {
			return ErrAlreadyRegistered
		}
		registered++
	}
	if registered >= limit {
		return ErrEventFull
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *InMemory) FindParticipant(ctx context.Context, id string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) Roster(ctx context.Context, eventID string) ([]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Participant
	for _, p := range s.participants {
		if p.EventID == eventID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) UpsertCertificate(ctx context.Context, c *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.certificates {
		if existing.EventID == c.EventID && existing.ParticipantID == c.ParticipantID {
			// Replace in place; the identifier is stable across regenerations.
			existing.Content = append([]byte(nil), c.Content...)
			existing.Fingerprint = c.Fingerprint
			existing.GeneratedAt = c.GeneratedAt
			existing.Verified = false
			c.ID = existing.ID
			return nil
		}
	}
	cp := *c
	cp.Content = append([]byte(nil), c.Content...)
	s.certificates[c.ID] = &cp
	return nil
}

func (s *InMemory) FindCertificate(ctx context.Context, id string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCertificate(c), nil
}

func (s *InMemory) MarkCertificateVerified(ctx context.Context, id string) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certificates[id]
	if !ok {
		return nil, ErrNotFound
	}
	c.Verified = true
	return copyCertificate(c), nil
}

func (s *InMemory) CertificateByFingerprint(ctx context.Context, fingerprint string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fingerprint == "" {
		return nil, ErrNotFound
	}
	for _, c := range s.certificates {
		if c.Fingerprint == fingerprint {
			return copyCertificate(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) CertificatesByStudents(ctx context.Context, studentIDs []string) ([]Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = struct{}{}
	}
	var out []Certificate
	for _, c := range s.certificates {
		p, ok := s.participants[c.ParticipantID]
		if !ok {
			continue
		}
		if _, ok := wanted[p.StudentID]; ok {
			out = append(out, *copyCertificate(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyCertificate(c *Certificate) *Certificate {
	cp := *c
	cp.Content = append([]byte(nil), c.Content...)
	return &cp
}
