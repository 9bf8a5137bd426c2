package pipeline

import (
	"strconv"
	"testing"
	"time"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
	"github.com/stretchr/testify/assert"
)

func names(id int) string {
	switch id {
	case 0:
		return "Normal"
	case 1:
		return "Mounting"
	}
	return "class_" + strconv.Itoa(id)
}

func TestFilterThresholdIsStrict(t *testing.T) {
	matched, conf, label := Filter([]models.Detection{{ClassID: 1, Score: 0.6}}, 1, 0.5, names)
	assert.True(t, matched)
	assert.Equal(t, 0.6, conf)
	assert.Equal(t, "Mounting", label)

	matched, conf, label = Filter([]models.Detection{{ClassID: 1, Score: 0.5}}, 1, 0.5, names)
	assert.False(t, matched)
	assert.Equal(t, 0.0, conf)
	assert.Equal(t, "Unknown", label)

	for _, c := range []float64{0, 0.1, 0.25, 0.49, 0.5, 0.51, 0.75, 0.99, 1} {
		for _, th := range []float64{0, 0.25, 0.5, 0.75, 1} {
			matched, _, _ := Filter([]models.Detection{{ClassID: 1, Score: c}}, 1, th, names)
			assert.Equal(t, c > th, matched, "conf=%v threshold=%v", c, th)
		}
	}
}

func TestFilterPicksMaximumOfTargetClass(t *testing.T) {
	dets := []models.Detection{
		{ClassID: 0, Score: 0.99},
		{ClassID: 1, Score: 0.7},
		{ClassID: 1, Score: 0.9},
		{ClassID: 1, Score: 0.4},
	}
	matched, conf, label := Filter(dets, 1, 0.5, names)
	assert.True(t, matched)
	assert.Equal(t, 0.9, conf)
	assert.Equal(t, "Mounting", label)
}

func TestFilterNoDetections(t *testing.T) {
	matched, conf, label := Filter(nil, 1, 0.5, names)
	assert.False(t, matched)
	assert.Zero(t, conf)
	assert.Equal(t, "Unknown", label)

	matched, _, _ = Filter([]models.Detection{{ClassID: 0, Score: 0.95}}, 1, 0.5, names)
	assert.False(t, matched)
}

func TestCooldownGate(t *testing.T) {
	g := NewCooldownGate(30 * time.Second)
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, g.ShouldNotify(t1))
	g.MarkNotified(t1)

	assert.False(t, g.ShouldNotify(t1.Add(10*time.Second)))
	assert.False(t, g.ShouldNotify(t1.Add(29*time.Second)))
	assert.True(t, g.ShouldNotify(t1.Add(30*time.Second)))

	g.SetCooldown(5 * time.Second)
	assert.True(t, g.ShouldNotify(t1.Add(6*time.Second)))
}
