package email

import (
	"errors"
	"fmt"
	"io"
	"maps"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoContentSource is returned for an attachment without path, data or stream.
	ErrNoContentSource = errors.New("attachment has no content source")
	// ErrMultipleContentSources is returned when more than one of path, data
	// and stream is set.
	ErrMultipleContentSources = errors.New("attachment has more than one content source")
)

// Source identifies where an attachment's content comes from.
type Source int

const (
	SourceNone Source = iota
	SourcePath
	SourceData
	SourceStream
)

// defaultAlternativeType is used for alternative parts without an explicit type.
const defaultAlternativeType = "text/html"

// Attachment is a file attached to a message. Exactly one of Path, Data or
// Stream must be set.
type Attachment struct {
	// Path is a file on the local filesystem.
	Path string `yaml:"path"`
	// Data is the inline content. With Encoded set it is already base64.
	Data string `yaml:"data"`
	// Stream provides the content. It is read once, when the message is sent.
	Stream io.Reader `yaml:"-"`

	Type        string            `yaml:"type"`
	Name        string            `yaml:"name"`
	Alternative bool              `yaml:"alternative"`
	Inline      bool              `yaml:"inline"`
	Encoded     bool              `yaml:"encoded"`
	Headers     map[string]string `yaml:"headers"`
	Related     []Attachment      `yaml:"related"`
}

// Source reports which content source is set. It returns SourceNone when
// the attachment is invalid.
func (a Attachment) Source() Source {
	if a.Validate() != nil {
		return SourceNone
	}
	switch {
	case a.Path != "":
		return SourcePath
	case a.Data != "":
		return SourceData
	default:
		return SourceStream
	}
}

// Validate checks the attachment and all related attachments.
func (a Attachment) Validate() error {
	n := 0
	if a.Path != "" {
		n++
	}
	if a.Data != "" {
		n++
	}
	if a.Stream != nil {
		n++
	}
	switch {
	case n == 0:
		return ErrNoContentSource
	case n > 1:
		return ErrMultipleContentSources
	}

	for i, rel := range a.Related {
		if err := rel.Validate(); err != nil {
			return fmt.Errorf("related attachment %d: %w", i, err)
		}
	}
	return nil
}

// ContentType returns the attachment type, defaulting alternative parts to text/html.
func (a Attachment) ContentType() string {
	if a.Type == "" && a.Alternative {
		return defaultAlternativeType
	}
	return a.Type
}

func (a Attachment) clone() Attachment {
	c := a
	c.Headers = maps.Clone(a.Headers)
	if a.Related != nil {
		c.Related = make([]Attachment, len(a.Related))
		for i, rel := range a.Related {
			c.Related[i] = rel.clone()
		}
	}
	return c
}

// Attachments is one attachment or a list of them.
type Attachments []Attachment

func (as Attachments) clone() Attachments {
	if as == nil {
		return nil
	}
	c := make(Attachments, len(as))
	for i, a := range as {
		c[i] = a.clone()
	}
	return c
}

// UnmarshalYAML accepts a single attachment mapping or a sequence of them.
func (as *Attachments) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var a Attachment
		if err := node.Decode(&a); err != nil {
			return err
		}
		*as = Attachments{a}
		return nil
	case yaml.SequenceNode:
		var list []Attachment
		if err := node.Decode(&list); err != nil {
			return err
		}
		*as = list
		return nil
	default:
		return fmt.Errorf("attachment: unexpected YAML node at line %d", node.Line)
	}
}
