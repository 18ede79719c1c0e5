package blocks

import (
	"time"

	"github.com/unwatchhq/unwatch/internal/models"
	"github.com/unwatchhq/unwatch/internal/validation"
)

const (
	// AdoptSessionDuration is the length of the focus session logged when
	// a preset is adopted.
	AdoptSessionDuration = 60 * time.Minute

	// CustomBlockDuration is the length of a quick custom block.
	CustomBlockDuration = 45 * time.Minute

	CustomBlockTitle       = "Custom Block"
	CustomBlockDescription = "Your personal deep work session."
)

// Adopt returns the block and focus session recorded when a user picks
// preset p at now. The session runs for AdoptSessionDuration and is tagged
// with the preset title.
func Adopt(p Preset, now time.Time) (*models.NewBlock, *models.NewFocusSession) {
	block := p.newBlock()
	title := p.Title
	session := &models.NewFocusSession{
		StartTime: now,
		EndTime:   now.Add(AdoptSessionDuration),
		BlockType: &title,
	}
	return block, session
}

// Custom returns a block covering now..now+CustomBlockDuration on the
// user's wall clock, and the matching focus session. now should carry the
// user's location.
func Custom(now time.Time) (*models.NewBlock, *models.NewFocusSession) {
	end := now.Add(CustomBlockDuration)
	block := &models.NewBlock{
		Title:       CustomBlockTitle,
		Description: CustomBlockDescription,
		StartTime:   validation.FormatClock(now),
		EndTime:     validation.FormatClock(end),
	}
	title := CustomBlockTitle
	session := &models.NewFocusSession{
		StartTime: now,
		EndTime:   end,
		BlockType: &title,
	}
	return block, session
}
