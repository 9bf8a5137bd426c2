package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

// AddCamera registers a camera and returns its id.
func (d *Database) AddCamera(ctx context.Context, c models.Camera) (int64, error) {
	var id int64
	err := d.DB.QueryRowContext(ctx,
		`INSERT INTO cameras (name, source, description) VALUES ($1, $2, $3) RETURNING id`,
		c.Name,
		c.Source,
		c.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add camera: %w", err)
	}
	return id, nil
}

// UpdateCamera rewrites name, source and description. It reports whether the camera exists.
func (d *Database) UpdateCamera(ctx context.Context, c models.Camera) (bool, error) {
	res, err := d.DB.ExecContext(ctx,
		`UPDATE cameras SET name = $1, source = $2, description = $3 WHERE id = $4`,
		c.Name,
		c.Source,
		c.Description,
		c.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update camera %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *Database) DeleteCamera(ctx context.Context, id int64) (bool, error) {
	res, err := d.DB.ExecContext(ctx, "DELETE FROM cameras WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete camera %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetCameras returns all cameras ordered by id.
func (d *Database) GetCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT id, name, source, description, created_at FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get cameras: %w", err)
	}
	defer rows.Close()

	var cameras []models.Camera
	for rows.Next() {
		var c models.Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.Source, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		cameras = append(cameras, c)
	}
	return cameras, rows.Err()
}

// FindCamera looks a camera up by numeric id or, failing that, by name.
// It returns nil when nothing matches.
func (d *Database) FindCamera(ctx context.Context, ref string) (*models.Camera, error) {
	ref = strings.TrimSpace(ref)
	query := `SELECT id, name, source, description, created_at FROM cameras WHERE name = $1 ORDER BY id LIMIT 1`
	var arg any = ref
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		query = `SELECT id, name, source, description, created_at FROM cameras WHERE id = $1`
		arg = id
	}

	var c models.Camera
	err := d.DB.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Source, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find camera %q: %w", ref, err)
	}
	return &c, nil
}
