package analytics

import (
	"time"

	"github.com/thebtf/focusmate/pkg/models"
)

// TimelineGap is the pause that splits blocks and produces an explicit gap block.
const TimelineGap = 180 * time.Second

// Gap block text.
const (
	GapLabel  = "Inactive"
	GapReason = "Long pause between checks"
)

// CoalesceTimeline merges consecutive checks of the same type and category into blocks.
// A pause of TimelineGap or more closes the block and inserts a gap block.
func CoalesceTimeline(checks []*models.Check) []models.TimelineBlock {
	blocks := []models.TimelineBlock{}
	if len(checks) == 0 {
		return blocks
	}

	sorted := sortedChecks(checks)
	first := sorted[0]
	cur := models.TimelineBlock{
		Start:    first.CapturedAt,
		End:      first.CapturedAt,
		Type:     models.BlockTypeFor(first.Label),
		Label:    string(first.Label),
		Category: first.Category,
		Reason:   first.Reason,
	}

	for _, c := range sorted[1:] {
		gap := c.CapturedAt.Sub(cur.End)
		if models.BlockTypeFor(c.Label) == cur.Type && c.Category == cur.Category && gap < TimelineGap {
			cur.End = c.CapturedAt
			continue
		}

		cur.Duration = cur.End.Sub(cur.Start)
		blocks = append(blocks, cur)
		if gap >= TimelineGap {
			blocks = append(blocks, models.TimelineBlock{
				Start:    cur.End,
				End:      c.CapturedAt,
				Type:     models.BlockGap,
				Label:    GapLabel,
				Reason:   GapReason,
				Duration: gap,
			})
		}
		cur = models.TimelineBlock{
			Start:    c.CapturedAt,
			End:      c.CapturedAt,
			Type:     models.BlockTypeFor(c.Label),
			Label:    string(c.Label),
			Category: c.Category,
			Reason:   c.Reason,
		}
	}

	cur.Duration = cur.End.Sub(cur.Start)
	return append(blocks, cur)
}
