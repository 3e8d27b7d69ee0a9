package moderation

import (
	"fmt"
	"strings"

	"github.com/mchmarny/photoguard/pkg/sensitivity"
)

// Status is the moderation state stored alongside a photo reference.
type Status string

const (
	StatusPending Status = "pending"
	StatusFlagged Status = "flagged"

	// WarningNudity is the content warning set on flagged photos.
	WarningNudity = "nudity"
)

// Statuses lists all supported moderation statuses.
var Statuses = []Status{StatusPending, StatusFlagged}

// Metadata is attached to every stored photo and read by the display layer.
type Metadata struct {
	ModerationStatus Status  `json:"moderationStatus" yaml:"moderationStatus"`
	ContentWarning   *string `json:"contentWarning" yaml:"contentWarning"`
	Score            float64 `json:"score" yaml:"score"`
}

// Pending returns metadata for a photo that has not been flagged.
func Pending() Metadata {
	return Metadata{ModerationStatus: StatusPending}
}

// FromResult maps a classification result onto moderation metadata.
func FromResult(r sensitivity.Result) Metadata {
	if !r.Sensitive {
		m := Pending()
		m.Score = r.Score
		return m
	}
	w := WarningNudity
	return Metadata{
		ModerationStatus: StatusFlagged,
		ContentWarning:   &w,
		Score:            r.Score,
	}
}

// ShouldBlur reports whether the display layer must blur the photo and
// overlay a warning.
func (m Metadata) ShouldBlur() bool {
	return m.ModerationStatus == StatusFlagged &&
		m.ContentWarning != nil && *m.ContentWarning == WarningNudity
}

// Warning returns the content warning or an empty string.
func (m Metadata) Warning() string {
	if m.ContentWarning == nil {
		return ""
	}
	return *m.ContentWarning
}

// ParseStatus converts s into a known status.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if v == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unsupported moderation status: %q", s)
}
