// Package deadline normalizes user-supplied deadlines into the single stored
// form shared by the scanner and the calendar mirror.
package deadline

import (
	"fmt"
	"strings"
	"time"
)

// StoredLayout is the format deadlines are persisted in.
const StoredLayout = time.RFC3339

const dateOnly = "2006-01-02"

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalizer turns raw deadline input into an absolute timestamp.
type Normalizer struct {
	loc         *time.Location
	defaultHour int
	defaultMin  int
}

// NewNormalizer builds a Normalizer. defaultTime is "HH:MM" and is applied to
// date-only inputs; loc is used for inputs without an explicit offset.
func NewNormalizer(defaultTime string, loc *time.Location) (*Normalizer, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.Parse("15:04", defaultTime)
	if err != nil {
		return nil, fmt.Errorf("invalid default time %q: expected HH:MM", defaultTime)
	}
	return &Normalizer{loc: loc, defaultHour: t.Hour(), defaultMin: t.Minute()}, nil
}

// Location returns the location naive inputs are interpreted in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Resolve parses raw input into an absolute time.
func (n *Normalizer) Resolve(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty deadline")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, n.loc); err == nil {
			return t, nil
		}
	}
	if d, err := time.ParseInLocation(dateOnly, s, n.loc); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), n.defaultHour, n.defaultMin, 0, 0, n.loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid deadline %q: expected YYYY-MM-DD or YYYY-MM-DDTHH:MM", raw)
}

// Normalize parses raw input and returns the stored representation.
func (n *Normalizer) Normalize(raw string) (string, error) {
	t, err := n.Resolve(raw)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// Format renders t in the stored layout.
func Format(t time.Time) string {
	return t.Format(StoredLayout)
}

// Parse reads a stored deadline. Values written by Normalize always parse;
// legacy or hand-edited rows may not.
func Parse(stored string) (time.Time, error) {
	t, err := time.Parse(StoredLayout, strings.TrimSpace(stored))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stored deadline %q: %w", stored, err)
	}
	return t, nil
}

// Human renders a deadline for reminder messages.
func Human(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("Mon, 02 Jan 2006 15:04 MST")
}
