package stats

import (
	"fmt"

	"github.com/unwatchhq/unwatch/internal/models"
)

// Summary is a one-shot overview used by the profile screen: raw session
// minutes, culprit categories and the session count. Unlike Compute it
// ignores focus/total overrides.
type Summary struct {
	TotalMinutes int      `json:"total_minutes"`
	Culprits     []string `json:"culprits"`
	SessionCount int      `json:"session_count"`
}

// Summarize folds sessions into a Summary.
func Summarize(sessions []models.FocusSession) Summary {
	categories := newRanking()
	total := 0
	for _, s := range sessions {
		minutes := MinutesBetween(s.StartTime, s.EndTime)
		total += minutes
		if s.BlockType != nil && *s.BlockType != "" {
			categories.add(*s.BlockType, minutes)
		}
	}
	return Summary{
		TotalMinutes: total,
		Culprits:     categories.top(MaxCulprits),
		SessionCount: len(sessions),
	}
}

// FormatDuration renders minutes as "Xh Ym", the screen-time label format.
func FormatDuration(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
