package reminder

import (
	"fmt"
	"time"

	"campusdesk/internal/model"
)

const dateLayout = "2006-01-02"

// Window is the half-open interval [Start, End) of activity start times a
// tick is responsible for.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now+lead, now+lead+width). Successive ticks spaced
// width apart tile the timeline without gaps or overlaps.
func NewWindow(now time.Time, lead, width time.Duration) Window {
	start := now.Add(lead)
	return Window{Start: start, End: start.Add(width)}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DateRange is the inclusive span of calendar days the window touches.
func (w Window) DateRange() (string, string) {
	last := w.End
	if !last.After(w.Start) {
		last = w.Start
	} else {
		last = last.Add(-time.Nanosecond)
	}
	return w.Start.Format(dateLayout), last.Format(dateLayout)
}

// ActivityTime reads an activity's naive date and time as wall-clock time
// in loc. No timezone is stored with activities.
func ActivityTime(a model.Activity, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, a.Date+" "+a.Time, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("activity %s: bad date/time %q %q", a.ID, a.Date, a.Time)
}
