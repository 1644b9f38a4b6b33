package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/jw6ventures/planner/internal/store"
)

const dateLayout = "2006-01-02"

var eventColorIDs = map[store.Color]string{
	store.ColorBlue:   "9",
	store.ColorGreen:  "10",
	store.ColorPink:   "4",
	store.ColorPurple: "3",
}

// rangeColorIDs maps a range palette index to a provider color.
var rangeColorIDs = [store.RangePaletteSize]string{"1", "2", "5", "6", "7", "8", "11", "4"}

// EventPayload maps a timed event.
func EventPayload(e store.Event) Payload {
	return Payload{
		Summary:     e.Title,
		Description: e.Description,
		ColorID:     eventColorIDs[e.Color],
		Start:       e.Start.UTC(),
		End:         e.End.UTC(),
	}
}

// RangePayload maps a range to an all-day event. The end date is exclusive,
// so a one-day range ends on the following day.
func RangePayload(r store.Range) Payload {
	start, end := r.Normalized()
	p := Payload{
		Summary:   r.Label,
		AllDay:    true,
		StartDate: start.Format(dateLayout),
		EndDate:   end.AddDate(0, 0, 1).Format(dateLayout),
	}
	if idx := r.Color(); idx >= 0 {
		p.ColorID = rangeColorIDs[idx%store.RangePaletteSize]
		if p.Summary == "" {
			p.Summary = "Range " + strconv.Itoa(idx+1)
		}
	}
	if p.Summary == "" {
		p.Summary = "Range"
	}
	return p
}

// Fingerprint identifies a payload so unchanged records are not pushed again.
func Fingerprint(p Payload) string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
