package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format of the notification time field.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// timestampParseLayout accepts any number of fractional digits after the
// seconds field, as time.Parse does when the layout omits them.
const timestampParseLayout = "2006-01-02T15:04:05Z"

// ImageKind is the category of an image attached to a notification
type ImageKind string

const (
	ImageKindScene  ImageKind = "SCENE"
	ImageKindObject ImageKind = "OBJECT"
	ImageKindThumb  ImageKind = "THUMB"
	ImageKindFace   ImageKind = "FACE"
)

// ImageKinds lists the accepted image categories
var ImageKinds = []ImageKind{ImageKindScene, ImageKindObject, ImageKindThumb, ImageKindFace}

// ParseImageKind converts a case-insensitive name to an ImageKind
func ParseImageKind(s string) (ImageKind, error) {
	kind := ImageKind(strings.ToUpper(strings.TrimSpace(s)))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown image kind %q", s)
	}
	return kind, nil
}

// Valid reports whether k is one of the known image kinds
func (k ImageKind) Valid() bool {
	for _, known := range ImageKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Candidate is a possible identity match for an event
type Candidate struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name,omitempty"`

	// SimilarityScore is in [0,1], or nil when the sender reported a
	// non-numeric value such as an error string.
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

// Image is a decoded image payload
type Image struct {
	Kind      ImageKind `json:"kind"`
	Extension string    `json:"extension"`
	FileName  string    `json:"file_name,omitempty"`
	Data      []byte    `json:"-"`
}

// Event is one normalized notification
type Event struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	EventType  string     `json:"event_type"`
	Candidate  *Candidate `json:"candidate,omitempty"`
	Image      *Image     `json:"image,omitempty"`
	RawPayload []byte     `json:"-"`
}

// NewEvent creates an event with the best-match candidate taken from the
// head of candidates.
func NewEvent(id string, ts time.Time, eventType string, candidates []Candidate) *Event {
	e := &Event{
		ID:        id,
		Timestamp: ts,
		EventType: eventType,
	}
	if len(candidates) > 0 {
		best := candidates[0]
		e.Candidate = &best
	}
	return e
}

// PersonID returns the best-match candidate id, or nil
func (e *Event) PersonID() *int64 {
	if e.Candidate == nil {
		return nil
	}
	id := e.Candidate.ID
	return &id
}

// Confidence returns the best-match similarity score, or nil
func (e *Event) Confidence() *float64 {
	if e.Candidate == nil {
		return nil
	}
	return e.Candidate.SimilarityScore
}

// FileSafeID strips the braces the sender wraps around GUIDs so the id can
// be used as a file name.
func (e *Event) FileSafeID() string {
	return strings.NewReplacer("{", "", "}", "").Replace(e.ID)
}

// ParseTimestamp parses a notification time and applies the zone conversion
func ParseTimestamp(s string, zone TimeZone) (time.Time, error) {
	t, err := time.Parse(timestampParseLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return zone.Convert(t), nil
}
