package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string    `json:"source_type"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	ObjectKey  string    `json:"object_key,omitempty"`
	Variants   []Variant `json:"variants"`
}

// Variant is one requested output: an ordered chain of transformation steps
// applied to the decoded source, plus the encoding of the result. An empty
// step chain is valid and re-encodes the source unchanged.
type Variant struct {
	ID      string     `json:"id"`
	Steps   []StepSpec `json:"steps"`
	Format  string     `json:"format,omitempty"`
	Quality int        `json:"quality,omitempty"`
}

// StepSpec is the wire form of a single transformation step. Which fields are
// meaningful depends on Action; the processor registry rejects specs whose
// required fields are missing.
type StepSpec struct {
	Action    string     `json:"action"`
	Width     int        `json:"width,omitempty"`
	Height    int        `json:"height,omitempty"`
	Mode      string     `json:"mode,omitempty"`
	Anchor    string     `json:"anchor,omitempty"`
	Sigma     float64    `json:"sigma,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	Angle     float64    `json:"angle,omitempty"`
	Watermark *Watermark `json:"watermark,omitempty"`
}

type Watermark struct {
	Text    string  `json:"text"`
	Opacity float64 `json:"opacity"`
	Gravity string  `json:"gravity"`
}

// ImageRequest identifies the source an image load originated from. It is
// carried read-only through processing as part of the per-call context.
type ImageRequest struct {
	JobID      string
	SourceType string
	ObjectKey  string
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Variants   []Variant
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Variants) == 0 {
		return errors.New("at least one variant is required")
	}

	seen := make(map[string]struct{}, len(r.Variants))
	for i, variant := range r.Variants {
		id := strings.TrimSpace(variant.ID)
		if id == "" {
			return fmt.Errorf("variants[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("variants[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}

		for j, step := range variant.Steps {
			if strings.TrimSpace(step.Action) == "" {
				return fmt.Errorf("variants[%d].steps[%d].action is required", i, j)
			}
		}
	}
	return nil
}
