package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"leboy/internal/commission"
	"leboy/internal/domain"
	"leboy/internal/repo"
)

// UpdateCommissionConfig validates and stores one category's pricing rule.
func (e Engine) UpdateCommissionConfig(ctx context.Context, cfg domain.CommissionConfig, actor Actor) (domain.CommissionConfig, error) {
	if err := requireRole(actor, "update commission config"); err != nil {
		return domain.CommissionConfig{}, err
	}
	if cfg.Category == "" {
		return domain.CommissionConfig{}, errors.New("category is required")
	}
	if err := commission.Validate(cfg); err != nil {
		return domain.CommissionConfig{}, err
	}
	cfg.UpdatedAt = e.nowStr()
	if err := e.Repo.UpsertCommissionConfig(ctx, cfg); err != nil {
		return domain.CommissionConfig{}, err
	}
	return cfg, nil
}

func (e Engine) ListCommissionConfigs(ctx context.Context) ([]domain.CommissionConfig, error) {
	return e.Repo.ListCommissionConfigs(ctx)
}

// DeleteCommissionConfig removes a category. The default category is
// protected because quotes fall back to it.
func (e Engine) DeleteCommissionConfig(ctx context.Context, category string, actor Actor) error {
	if err := requireRole(actor, "delete commission config"); err != nil {
		return err
	}
	if e.Config != nil && category == e.Config.Commission.DefaultCategory {
		return fmt.Errorf("deleting the default category %s is not allowed", category)
	}
	return e.Repo.DeleteCommissionConfig(ctx, category)
}

// CreateAPIKey provisions a key bound to a role and email. The raw key is
// returned exactly once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, role domain.Role, email, name string, actor Actor) (domain.APIKey, string, error) {
	if err := requireRole(actor, "create api key"); err != nil {
		return domain.APIKey{}, "", err
	}
	if !role.Valid() {
		return domain.APIKey{}, "", fmt.Errorf("unknown role %q", role)
	}
	if email == "" {
		return domain.APIKey{}, "", errors.New("email is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "lby_" + hex.EncodeToString(buf)
	k := domain.APIKey{
		ID:        uuid.New().String(),
		Role:      role,
		Email:     email,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor Actor) ([]domain.APIKey, error) {
	if err := requireRole(actor, "list api keys"); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string, actor Actor) error {
	if err := requireRole(actor, "delete api key"); err != nil {
		return err
	}
	return e.Repo.DeleteAPIKey(ctx, id)
}

// MissionSummary aggregates active mission counts per state for dashboards.
func (e Engine) MissionSummary(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountMissionsByState(ctx)
}

// MissionEvents returns a mission's event history oldest first.
func (e Engine) MissionEvents(ctx context.Context, missionID string, limit int) ([]domain.Event, error) {
	return e.Repo.MissionEvents(ctx, missionID, limit)
}
