package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// UpsertUserProfile creates profile or merges its non-zero fields into the
// stored one. On return profile holds the stored timestamps.
func (s *Store) UpsertUserProfile(ctx context.Context, profile *types.UserProfile) error {
	if profile == nil || strings.TrimSpace(profile.UserID) == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if profile.FarmSizeAcres < 0 || profile.ExperienceYears < 0 {
		return fmt.Errorf("%w: farm size and experience must not be negative", storage.ErrInvalidInput)
	}

	varieties := "[]"
	if len(profile.CoffeeVarieties) > 0 {
		b, err := json.Marshal(profile.CoffeeVarieties)
		if err != nil {
			return fmt.Errorf("%w: coffee varieties: %v", storage.ErrInvalidInput, err)
		}
		varieties = string(b)
	}
	now := formatTime(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles
			(user_id, name, phone, location, farm_size_acres, coffee_varieties,
			 experience_years, preferred_language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE user_profiles.name END,
			phone = CASE WHEN excluded.phone <> '' THEN excluded.phone ELSE user_profiles.phone END,
			location = CASE WHEN excluded.location <> '' THEN excluded.location ELSE user_profiles.location END,
			farm_size_acres = CASE WHEN excluded.farm_size_acres > 0 THEN excluded.farm_size_acres ELSE user_profiles.farm_size_acres END,
			coffee_varieties = CASE WHEN excluded.coffee_varieties <> '[]' THEN excluded.coffee_varieties ELSE user_profiles.coffee_varieties END,
			experience_years = CASE WHEN excluded.experience_years > 0 THEN excluded.experience_years ELSE user_profiles.experience_years END,
			preferred_language = CASE WHEN excluded.preferred_language <> '' THEN excluded.preferred_language ELSE user_profiles.preferred_language END,
			updated_at = excluded.updated_at`,
		profile.UserID, profile.Name, profile.Phone, profile.Location, profile.FarmSizeAcres,
		varieties, profile.ExperienceYears, profile.PreferredLanguage, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert user profile: %w", err)
	}

	stored, err := s.GetUserProfile(ctx, profile.UserID)
	if err != nil {
		return err
	}
	*profile = *stored
	return nil
}

// GetUserProfile retrieves a profile by user ID.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*types.UserProfile, error) {
	var (
		p                types.UserProfile
		varieties        string
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, phone, location, farm_size_acres, coffee_varieties,
		       experience_years, preferred_language, created_at, updated_at
		FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Name, &p.Phone, &p.Location, &p.FarmSizeAcres, &varieties,
			&p.ExperienceYears, &p.PreferredLanguage, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get user profile: %w", err)
	}

	if varieties != "" && varieties != "[]" {
		if err := json.Unmarshal([]byte(varieties), &p.CoffeeVarieties); err != nil {
			return nil, fmt.Errorf("sqlite: profile %s coffee varieties: %w", userID, err)
		}
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}
