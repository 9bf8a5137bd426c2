package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

const (
	timeLayout       = "2006-01-02 15:04:05"
	discordListLimit = 10
	productName      = "Barn Monitor"
)

var (
	heavyRule = strings.Repeat("=", 40)
	lightRule = strings.Repeat("-", 40)
)

func immediateSubject(e models.DetectionEvent) string {
	return fmt.Sprintf("[%s] %s Detected", productName, e.ClassLabel)
}

func summarySubject(n int) string {
	if n == 0 {
		return fmt.Sprintf("[%s] Daily Summary - No Detections", productName)
	}
	return fmt.Sprintf("[%s] Daily Summary (%d detections)", productName, n)
}

func reportBody(events []models.DetectionEvent, now time.Time) string {
	lines := []string{
		"Mating Behavior Detection Report",
		heavyRule,
		"",
		"Report Generated: " + now.Format(timeLayout),
		fmt.Sprintf("Total Detections: %d", len(events)),
		"",
		lightRule,
		"",
	}
	for i, e := range events {
		lines = append(lines,
			fmt.Sprintf("[%d] Barn: %s", i+1, e.SourceID),
			"    Class: "+e.ClassLabel,
			"    Time: "+e.Timestamp.Format(timeLayout),
			"    Confidence: "+percent(e.Confidence),
			"",
		)
	}
	lines = append(lines,
		lightRule,
		"",
		"This is an automated message from "+productName+".",
		"Do not reply to this email.",
	)
	return strings.Join(lines, "\n")
}

func noActivityBody(now time.Time) string {
	return strings.Join([]string{
		productName + " - Daily Summary",
		heavyRule,
		"",
		"Report Generated: " + now.Format(timeLayout),
		"",
		"No mating behavior was detected during the past 24 hours.",
		"",
		"This is a routine status report confirming that the monitoring system",
		"is operating normally and no mating activity was observed.",
		"",
		heavyRule,
		"This is an automated message from " + productName + ".",
	}, "\n")
}

func testEmailBody(now time.Time) string {
	return strings.Join([]string{
		productName + " - Test Email",
		heavyRule,
		"",
		"This is a test email to verify your notification settings.",
		"",
		"Sent at: " + now.Format(timeLayout),
		"",
		"If you received this email, your email notifications are working correctly!",
		"",
		heavyRule,
	}, "\n")
}

func discordDetection(e models.DetectionEvent) string {
	return strings.Join([]string{
		fmt.Sprintf("**%s Detected**", e.ClassLabel),
		"• Barn: " + e.SourceID,
		"• Class: " + e.ClassLabel,
		"• Confidence: " + percent(e.Confidence),
		"• Time: " + e.Timestamp.Format(timeLayout),
	}, "\n")
}

func discordSummary(events []models.DetectionEvent) string {
	if len(events) == 0 {
		return "**Daily Summary**\n\nNo mating behavior detected during the past 24 hours."
	}

	shown := events
	if len(shown) > discordListLimit {
		shown = shown[:discordListLimit]
	}
	lines := append([]string{"**Daily Summary**", ""}, lo.Map(shown, func(e models.DetectionEvent, _ int) string {
		return fmt.Sprintf("• %s [%s]: %s @ %s", e.SourceID, e.ClassLabel, percent(e.Confidence), e.Timestamp.Format(timeLayout))
	})...)
	if rest := len(events) - len(shown); rest > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", rest))
	}
	return strings.Join(lines, "\n")
}

func discordTest(now time.Time) string {
	return fmt.Sprintf("**%s - Test Notification**\n\nSent at: %s\n\nIf you see this message, Discord notifications are working!",
		productName, now.Format(timeLayout))
}

// percent renders 0.8734 as "87.3%".
func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
