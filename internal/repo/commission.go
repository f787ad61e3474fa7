package repo

import (
	"context"
	"database/sql"

	"leboy/internal/domain"
)

const commissionColumns = `category,name,base_percent,min_commission,max_commission,risk_percent,enabled,updated_at`

func scanCommission(sc rowScanner) (domain.CommissionConfig, error) {
	var c domain.CommissionConfig
	var enabled int
	err := sc.Scan(&c.Category, &c.Name, &c.BasePercent, &c.MinCommission, &c.MaxCommission, &c.RiskPercent, &enabled, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Enabled = enabled != 0
	return c, nil
}

func (r Repo) UpsertCommissionConfig(ctx context.Context, c domain.CommissionConfig) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO commission_configs(`+commissionColumns+`) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(category) DO UPDATE SET name=excluded.name, base_percent=excluded.base_percent,
		min_commission=excluded.min_commission, max_commission=excluded.max_commission,
		risk_percent=excluded.risk_percent, enabled=excluded.enabled, updated_at=excluded.updated_at`,
		c.Category, c.Name, c.BasePercent, c.MinCommission, c.MaxCommission, c.RiskPercent, boolToInt(c.Enabled), c.UpdatedAt)
	return err
}

// SeedCommissionConfig inserts a category only if it does not exist yet,
// so operator edits survive restarts.
func (r Repo) SeedCommissionConfig(ctx context.Context, c domain.CommissionConfig) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO commission_configs(`+commissionColumns+`) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(category) DO NOTHING`,
		c.Category, c.Name, c.BasePercent, c.MinCommission, c.MaxCommission, c.RiskPercent, boolToInt(c.Enabled), c.UpdatedAt)
	return err
}

func (r Repo) GetCommissionConfig(ctx context.Context, category string) (domain.CommissionConfig, error) {
	return scanCommission(r.DB.QueryRowContext(ctx, `SELECT `+commissionColumns+` FROM commission_configs WHERE category=?`, category))
}

func (r Repo) ListCommissionConfigs(ctx context.Context) ([]domain.CommissionConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commissionColumns+` FROM commission_configs ORDER BY category ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CommissionConfig
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCommissionConfig(ctx context.Context, category string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM commission_configs WHERE category=?`, category)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
