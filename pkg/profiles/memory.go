package profiles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
)

// MemoryStore is the in-memory Store used by tests and single-node
// development. Profiles are deep-copied on the way in and out so callers
// cannot mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.TalentProfile
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*models.TalentProfile)}
}

func copyProfile(p *models.TalentProfile) *models.TalentProfile {
	c := *p
	c.Languages = append([]string(nil), p.Languages...)
	c.Skills = append([]string(nil), p.Skills...)
	if p.Availability != nil {
		w := *p.Availability
		c.Availability = &w
	}
	if p.Budget != nil {
		b := *p.Budget
		c.Budget = &b
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, profile *models.TalentProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[profile.ID]; exists {
		return apperrors.Newf(apperrors.KindValidation, "profile %s already exists", profile.ID)
	}
	if profile.Status == "" {
		profile.Status = models.TalentActive
	}
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.TalentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	return copyProfile(p), nil
}

func (s *MemoryStore) Update(_ context.Context, profile *models.TalentProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; !ok {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", profile.ID)
	}
	profile.UpdatedAt = time.Now().UTC()
	s.profiles[profile.ID] = copyProfile(profile)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	delete(s.profiles, id)
	return nil
}

func (s *MemoryStore) Archive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	p.Status = models.TalentArchived
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*models.TalentProfile, error) {
	s.mu.RLock()
	matched := make([]*models.TalentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.Location != "" && p.Location != opts.Location {
			continue
		}
		matched = append(matched, copyProfile(p))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Count(ctx context.Context, opts ListOptions) (int, error) {
	all, err := s.List(ctx, ListOptions{Status: opts.Status, Location: opts.Location})
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (s *MemoryStore) StaleSince(_ context.Context, cutoff time.Time) ([]*models.TalentProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TalentProfile
	for _, p := range s.profiles {
		if p.Status == models.TalentActive && !p.LastProjectAt.IsZero() && p.LastProjectAt.Before(cutoff) {
			out = append(out, copyProfile(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
