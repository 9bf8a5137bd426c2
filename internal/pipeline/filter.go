package pipeline

import "github.com/Capitan-Parrot/barn-monitor/internal/models"

const unknownLabel = "Unknown"

// Filter scans raw detections once and returns the highest confidence among
// detections of the target class strictly above threshold. The label belongs
// to the first detection reaching that maximum.
func Filter(dets []models.Detection, target int, threshold float64, className func(int) string) (matched bool, confidence float64, label string) {
	label = unknownLabel
	for _, d := range dets {
		if d.ClassID != target || d.Score <= threshold {
			continue
		}
		matched = true
		if d.Score > confidence {
			confidence = d.Score
			label = className(d.ClassID)
		}
	}
	return matched, confidence, label
}
