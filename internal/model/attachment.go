package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentVideo    AttachmentType = "video"
)

// Attachment is a closed set of variants selected by Type. Values are built
// with NewImage/NewAudio/NewDocument/NewVideo; decoding runs the same checks.
type Attachment struct {
	Type       AttachmentType `json:"type"`
	URL        string         `json:"url"`
	Name       string         `json:"name"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	MimeType   string         `json:"mime_type,omitempty"`
}

func NewImage(url, name string, width, height int) (Attachment, error) {
	a := Attachment{Type: AttachmentImage, URL: url, Name: name, Width: width, Height: height}
	return a, a.Validate()
}

func NewAudio(url, name string, d time.Duration) (Attachment, error) {
	a := Attachment{Type: AttachmentAudio, URL: url, Name: name, DurationMs: d.Milliseconds()}
	return a, a.Validate()
}

func NewDocument(url, name, mimeType string) (Attachment, error) {
	a := Attachment{Type: AttachmentDocument, URL: url, Name: name, MimeType: mimeType}
	return a, a.Validate()
}

func NewVideo(url, name string, d time.Duration) (Attachment, error) {
	a := Attachment{Type: AttachmentVideo, URL: url, Name: name, DurationMs: d.Milliseconds()}
	return a, a.Validate()
}

func (a Attachment) Validate() error {
	if a.URL == "" || a.Name == "" {
		return fmt.Errorf("%w: %s attachment needs url and name", ErrInvalidState, a.Type)
	}
	switch a.Type {
	case AttachmentImage:
		if a.Width < 0 || a.Height < 0 {
			return fmt.Errorf("%w: image dimensions must not be negative", ErrInvalidState)
		}
		if a.DurationMs != 0 || a.MimeType != "" {
			return fmt.Errorf("%w: image attachment carries foreign fields", ErrInvalidState)
		}
	case AttachmentAudio, AttachmentVideo:
		if a.DurationMs <= 0 {
			return fmt.Errorf("%w: %s attachment needs a positive duration", ErrInvalidState, a.Type)
		}
		if a.Width != 0 || a.Height != 0 || a.MimeType != "" {
			return fmt.Errorf("%w: %s attachment carries foreign fields", ErrInvalidState, a.Type)
		}
	case AttachmentDocument:
		if a.MimeType == "" {
			return fmt.Errorf("%w: document attachment needs a mime type", ErrInvalidState)
		}
		if a.Width != 0 || a.Height != 0 || a.DurationMs != 0 {
			return fmt.Errorf("%w: document attachment carries foreign fields", ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: unknown attachment type %q", ErrInvalidState, a.Type)
	}
	return nil
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	type plain Attachment
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if err := Attachment(p).Validate(); err != nil {
		return err
	}
	*a = Attachment(p)
	return nil
}

// ValidateAttachments checks every attachment in order.
func ValidateAttachments(list []Attachment) error {
	for i, a := range list {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
	}
	return nil
}
