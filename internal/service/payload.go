package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"ellen/internal/domain"
	"ellen/internal/logging"
)

// Payload is a Gorilla/Ivar event notification as posted to /savegorilla
type Payload struct {
	ID     string         `json:"id" validate:"required"`
	Common *CommonSection `json:"common" validate:"required"`
	Images []ImagePayload `json:"images"`
	FR     *FRSection     `json:"fr"`
}

// CommonSection carries the fields every notification has
type CommonSection struct {
	Time string `json:"time" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// ImagePayload is one captured image
type ImagePayload struct {
	Type         ImageTypes `json:"type"`
	DataType     string     `json:"dataType"`
	DataFileName string     `json:"dataFileName"`
	DataBase64   string     `json:"dataBase64"`
}

// FRSection holds face recognition results
type FRSection struct {
	Candidates []CandidatePayload `json:"candidates"`
}

// CandidatePayload is one recognition match. The score key keeps the
// sender's spelling.
type CandidatePayload struct {
	ID          json.RawMessage `json:"id"`
	DisplayName string          `json:"displayName"`
	Score       json.RawMessage `json:"similiarityScore"`
}

// ImageTypes is the image "type" field, sent either as one name or a list
type ImageTypes []string

// UnmarshalJSON accepts a string or an array of strings
func (t *ImageTypes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*t = ImageTypes{one}
	return nil
}

// Contains reports whether any listed type mentions kind
func (t ImageTypes) Contains(kind domain.ImageKind) bool {
	for _, name := range t {
		if strings.Contains(strings.ToUpper(name), string(kind)) {
			return true
		}
	}
	return false
}

// Normalizer turns payloads into domain events
type Normalizer struct {
	TimeZone         domain.TimeZone
	StoreImage       bool
	ImageKind        domain.ImageKind
	StoreFullPayload bool
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and validates a raw notification body
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadValidator.Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidPayload, fieldPath(verrs[0]))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}

// fieldPath renders a validation failure with the JSON field names
func fieldPath(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "Payload.ID":
		return "id"
	case "Payload.Common":
		return "common"
	case "Payload.Common.Time":
		return "common.time"
	case "Payload.Common.Type":
		return "common.type"
	}
	return fe.Field()
}

// Normalize converts a decoded payload into an event and its candidate list
func (n Normalizer) Normalize(ctx context.Context, p *Payload, raw []byte) (*domain.Event, []domain.Candidate, error) {
	log := logging.Ctx(ctx)

	ts, err := domain.ParseTimestamp(p.Common.Time, n.TimeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var candidates []domain.Candidate
	if p.FR != nil {
		for i, c := range p.FR.Candidates {
			id, err := parseCandidateID(c.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: fr.candidates[%d].id: %v", ErrInvalidPayload, i, err)
			}
			score, ok := parseScore(c.Score)
			if !ok {
				log.Warn().
					Str("event_id", p.ID).
					Int64("candidate_id", id).
					RawJSON("score", rawOrNull(c.Score)).
					Msg("candidate score is not a number, storing without score")
			}
			candidates = append(candidates, domain.Candidate{ID: id, DisplayName: c.DisplayName, SimilarityScore: score})
		}
	} else {
		log.Debug().Str("event_id", p.ID).Msg("notification has no fr section")
	}

	event := domain.NewEvent(p.ID, ts, p.Common.Type, candidates)

	if n.StoreImage {
		event.Image = n.pickImage(ctx, p)
	}
	if n.StoreFullPayload {
		event.RawPayload = append([]byte(nil), raw...)
	}
	return event, candidates, nil
}

// pickImage returns the first image of the configured kind that carries data
func (n Normalizer) pickImage(ctx context.Context, p *Payload) *domain.Image {
	log := logging.Ctx(ctx)
	for _, img := range p.Images {
		if !img.Type.Contains(n.ImageKind) {
			continue
		}
		if img.DataBase64 == "" {
			log.Warn().Str("event_id", p.ID).Msg("image has no dataBase64")
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.DataBase64)
		if err != nil {
			log.Warn().Err(err).Str("event_id", p.ID).Msg("image data is not valid base64")
			continue
		}
		return &domain.Image{
			Kind:      n.ImageKind,
			Extension: imageExtension(img.DataType),
			FileName:  img.DataFileName,
			Data:      data,
		}
	}
	return nil
}

// imageExtension maps "jpg", ".JPG" or "image/jpeg" style values to a bare
// lowercase extension.
func imageExtension(dataType string) string {
	ext := strings.ToLower(strings.TrimSpace(dataType))
	ext = strings.TrimPrefix(ext, "image/")
	ext = strings.TrimPrefix(ext, ".")
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// parseScore accepts a JSON number or a numeric string. Anything else, such
// as an error message or a non-finite value in the score slot, yields
// ok=false.
func parseScore(raw json.RawMessage) (score *float64, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, true
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finite(f)
		}
	}
	return nil, false
}

func finite(f float64) (*float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return &f, true
}

func parseCandidateID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("expected integer, got %s", rawOrNull(raw))
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
