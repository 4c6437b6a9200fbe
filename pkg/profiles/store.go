// Package profiles persists talent profiles. Postgres is the system of
// record; an in-memory store backs tests and single-node development.
package profiles

import (
	"context"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
)

// ListOptions narrows List and Count
type ListOptions struct {
	Status   models.TalentStatus
	Location string
	Limit    int
	Offset   int
}

// Store is the profile persistence contract
type Store interface {
	// Create inserts a new profile; the id must not already exist
	Create(ctx context.Context, profile *models.TalentProfile) error
	// Get returns the profile, or KindNotFound
	Get(ctx context.Context, id string) (*models.TalentProfile, error)
	// Update replaces the stored profile
	Update(ctx context.Context, profile *models.TalentProfile) error
	// Delete removes the profile permanently
	Delete(ctx context.Context, id string) error
	// Archive flips the profile to archived without deleting it
	Archive(ctx context.Context, id string) error
	// List pages through profiles matching the options
	List(ctx context.Context, opts ListOptions) ([]*models.TalentProfile, error)
	// Count reports how many profiles match the options
	Count(ctx context.Context, opts ListOptions) (int, error)
	// StaleSince returns active profiles whose last project predates cutoff
	StaleSince(ctx context.Context, cutoff time.Time) ([]*models.TalentProfile, error)
	Close() error
}

func validateProfile(p *models.TalentProfile) error {
	if p == nil {
		return apperrors.New(apperrors.KindValidation, "profile is required")
	}
	if p.ID == "" {
		return apperrors.New(apperrors.KindValidation, "profile id is required")
	}
	if p.Name == "" {
		return apperrors.New(apperrors.KindValidation, "profile name is required")
	}
	if p.Budget != nil && p.Budget.Min > p.Budget.Max {
		return apperrors.Newf(apperrors.KindValidation, "profile %s budget min exceeds max", p.ID)
	}
	return nil
}
