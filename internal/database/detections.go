package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const defaultLogLimit = 100

func (d *Database) LogDetection(ctx context.Context, imagePath string, confidence float64, matched bool, details, sourceID, className string) error {
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO detections (image_path, confidence, is_mounting, details, barn_id, class_name)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		imagePath,
		confidence,
		matched,
		details,
		sourceID,
		className,
	)
	if err != nil {
		return fmt.Errorf("failed to log detection: %w", err)
	}
	return nil
}

// GetLogs returns detection records, newest first. Source matches by prefix,
// dates compare on the calendar day of the record.
func (d *Database) GetLogs(ctx context.Context, f models.LogFilter) ([]models.LogRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Source != "" {
		args = append(args, f.Source+"%")
		where = append(where, fmt.Sprintf("barn_id LIKE $%d", len(args)))
	}
	if !f.StartDate.IsZero() {
		args = append(args, f.StartDate.Format("2006-01-02"))
		where = append(where, fmt.Sprintf("timestamp::date >= $%d::date", len(args)))
	}
	if !f.EndDate.IsZero() {
		args = append(args, f.EndDate.Format("2006-01-02"))
		where = append(where, fmt.Sprintf("timestamp::date <= $%d::date", len(args)))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	args = append(args, limit)

	query := `SELECT id, timestamp, image_path, confidence, is_mounting, details, barn_id, class_name FROM detections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []models.LogRecord
	for rows.Next() {
		var r models.LogRecord
		err := rows.Scan(
			&r.ID,
			&r.Timestamp,
			&r.ImagePath,
			&r.Confidence,
			&r.IsMounting,
			&r.Details,
			&r.SourceID,
			&r.ClassName,
		)
		if err != nil {
			return nil, err
		}
		logs = append(logs, r)
	}

	return logs, rows.Err()
}

// DeleteDetection removes one record. It reports whether a row was deleted.
func (d *Database) DeleteDetection(ctx context.Context, id int64) (bool, error) {
	res, err := d.DB.ExecContext(ctx, "DELETE FROM detections WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete detection %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
