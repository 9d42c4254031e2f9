package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGVideoBot/internal/models"
)

type PackageRepository struct {
	db *sql.DB
}

func NewPackageRepository(db *sql.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) List(ctx context.Context) ([]models.CoinPackage, error) {
	const query = `SELECT id, coins, is_active, created_at, updated_at FROM coin_packages ORDER BY coins ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []models.CoinPackage
	for rows.Next() {
		var p models.CoinPackage
		if err := rows.Scan(&p.ID, &p.Coins, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

func (r *PackageRepository) ListActive(ctx context.Context) ([]models.CoinPackage, error) {
	const query = `SELECT id, coins, is_active, created_at, updated_at FROM coin_packages WHERE is_active = 1 ORDER BY coins ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active packages: %w", err)
	}
	defer rows.Close()

	var packages []models.CoinPackage
	for rows.Next() {
		var p models.CoinPackage
		if err := rows.Scan(&p.ID, &p.Coins, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.CoinPackage, error) {
	const query = `SELECT id, coins, is_active, created_at, updated_at FROM coin_packages WHERE id = ?`
	var p models.CoinPackage
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Coins, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &p, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CoinPackage) (*models.CoinPackage, error) {
	const query = `INSERT INTO coin_packages (coins, is_active) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Coins, pkg.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.CoinPackage) (*models.CoinPackage, error) {
	const query = `UPDATE coin_packages SET coins = ?, is_active = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Coins, pkg.IsActive, pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM coin_packages WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}

// EnsureDefaults seeds the preset top-up buttons on first run.
func (r *PackageRepository) EnsureDefaults(ctx context.Context, presets []int) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coin_packages`).Scan(&count); err != nil {
		return fmt.Errorf("count packages: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, coins := range presets {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO coin_packages (coins, is_active) VALUES (?, 1)`, coins); err != nil {
			return fmt.Errorf("seed package: %w", err)
		}
	}
	return nil
}
