package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real postgres when TEST_DATABASE_DSN is set.
func testDB(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	ctx := context.Background()
	db, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Init(ctx))
	_, err = db.DB.ExecContext(ctx, "TRUNCATE detections, cameras RESTART IDENTITY")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogDetectionRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.LogDetection(ctx, "data/images/detect_a.jpg", 0.8734, true, "Mounting behavior detected", "Barn 1", "Mounting"))

	logs, err := db.GetLogs(ctx, models.LogFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	r := logs[0]
	assert.Equal(t, 0.8734, r.Confidence)
	assert.Equal(t, "Mounting", r.ClassName)
	assert.Equal(t, "Barn 1", r.SourceID)
	assert.Equal(t, "data/images/detect_a.jpg", r.ImagePath)
	assert.True(t, r.IsMounting)
	assert.WithinDuration(t, time.Now(), r.Timestamp, time.Minute)
}

func TestGetLogsFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, src := range []string{"Barn 1", "Barn 12", "Barn 2", "Shed"} {
		require.NoError(t, db.LogDetection(ctx, "", 0.9, true, "", src, "Mounting"))
	}

	logs, err := db.GetLogs(ctx, models.LogFilter{Source: "Barn 1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Barn 12", logs[0].SourceID, "newest first")

	logs, err = db.GetLogs(ctx, models.LogFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	tomorrow := time.Now().AddDate(0, 0, 1)
	logs, err = db.GetLogs(ctx, models.LogFilter{StartDate: tomorrow})
	require.NoError(t, err)
	assert.Empty(t, logs)

	logs, err = db.GetLogs(ctx, models.LogFilter{StartDate: time.Now(), EndDate: tomorrow})
	require.NoError(t, err)
	assert.Len(t, logs, 4)
}

func TestDeleteDetection(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.LogDetection(ctx, "", 0.9, true, "", "Barn 1", "Mounting"))

	logs, err := db.GetLogs(ctx, models.LogFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)

	ok, err := db.DeleteDetection(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.DeleteDetection(ctx, logs[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
