package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/unwatchhq/unwatch/internal/models"
)

// Text field limits, in characters.
const (
	MaxNameLength        = 100
	MaxNotesLength       = 2000
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
	MaxBlockTypeLength   = 100
	MaxApps              = 50
	MaxAppLength         = 200
)

// Categories offered by the session form.
var Categories = []string{"Work", "Study", "Exercise", "Meditation", "Other"}

// Moods offered by the session form.
var Moods = []string{"😃", "😐", "😔", "😡", "😴"}

// clockRegex matches a 24-hour HH:MM wall-clock time.
var clockRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateClock checks that s is a 24-hour "HH:MM" time.
func ValidateClock(field, s string) error {
	if !clockRegex.MatchString(s) {
		return fmt.Errorf("%s must be a 24-hour time in HH:MM format", field)
	}
	return nil
}

// FormatClock renders t as "HH:MM".
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}

// NormalizeFocusSession trims optional text fields and clears the empty
// ones, so "" is stored as absent.
func NormalizeFocusSession(s *models.NewFocusSession) {
	for _, p := range []**string{&s.BlockType, &s.Name, &s.Notes, &s.Mood, &s.Category} {
		if *p == nil {
			continue
		}
		v := strings.TrimSpace(**p)
		if v == "" {
			*p = nil
		} else {
			*p = &v
		}
	}
}

// ValidateFocusSession checks a focus session before it is stored.
// Call NormalizeFocusSession first.
func ValidateFocusSession(s *models.NewFocusSession) error {
	if s.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	if s.EndTime.IsZero() {
		return fmt.Errorf("end_time is required")
	}
	if s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("end_time must not be before start_time")
	}
	if s.FocusMinutes != nil && *s.FocusMinutes < 0 {
		return fmt.Errorf("focus_minutes must not be negative")
	}
	if s.TotalMinutes != nil && *s.TotalMinutes < 0 {
		return fmt.Errorf("total_minutes must not be negative")
	}
	if s.Category != nil && !slices.Contains(Categories, *s.Category) {
		return fmt.Errorf("category must be one of %s", strings.Join(Categories, ", "))
	}
	if s.Mood != nil && !slices.Contains(Moods, *s.Mood) {
		return fmt.Errorf("mood must be one of %s", strings.Join(Moods, " "))
	}
	if err := maxLength("block_type", s.BlockType, MaxBlockTypeLength); err != nil {
		return err
	}
	if err := maxLength("name", s.Name, MaxNameLength); err != nil {
		return err
	}
	return maxLength("notes", s.Notes, MaxNotesLength)
}

// NormalizeBlock trims text fields and drops blank app entries.
func NormalizeBlock(b *models.NewBlock) {
	b.Title = strings.TrimSpace(b.Title)
	b.Description = strings.TrimSpace(b.Description)
	b.StartTime = strings.TrimSpace(b.StartTime)
	b.EndTime = strings.TrimSpace(b.EndTime)
	apps := make([]string, 0, len(b.Apps))
	for _, app := range b.Apps {
		if app = strings.TrimSpace(app); app != "" {
			apps = append(apps, app)
		}
	}
	b.Apps = apps
}

// ValidateBlock checks a focus block before it is stored.
// Call NormalizeBlock first. A block may wrap past midnight, so end_time
// is not required to follow start_time.
func ValidateBlock(b *models.NewBlock) error {
	if b.Title == "" {
		return fmt.Errorf("title is required")
	}
	if err := maxLength("title", &b.Title, MaxTitleLength); err != nil {
		return err
	}
	if err := maxLength("description", &b.Description, MaxDescriptionLength); err != nil {
		return err
	}
	if err := ValidateClock("start_time", b.StartTime); err != nil {
		return err
	}
	if err := ValidateClock("end_time", b.EndTime); err != nil {
		return err
	}
	if b.StartTime == b.EndTime {
		return fmt.Errorf("end_time must differ from start_time")
	}
	if len(b.Apps) > MaxApps {
		return fmt.Errorf("at most %d apps may be listed", MaxApps)
	}
	for _, app := range b.Apps {
		if utf8.RuneCountInString(app) > MaxAppLength {
			return fmt.Errorf("app names must be at most %d characters", MaxAppLength)
		}
	}
	return nil
}

func maxLength(field string, s *string, limit int) error {
	if s == nil {
		return nil
	}
	if !utf8.ValidString(*s) {
		return fmt.Errorf("%s must be valid UTF-8", field)
	}
	if utf8.RuneCountInString(*s) > limit {
		return fmt.Errorf("%s must be at most %d characters", field, limit)
	}
	return nil
}
