// ABOUTME: Message and Part types shared by both protocol adapters
// ABOUTME: Parts are tagged variants (text/file/data) validated at the adapter boundary

package convo

import (
	"fmt"
	"strings"
)

// Role identifies which side of the conversation authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates the Part variants.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is one unit of message content. Exactly one variant field is
// populated, selected by Kind.
type Part struct {
	Kind PartKind       `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FileContent carries a file either inline (Bytes) or as a remote
// reference (URI). At most one of the two is set.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// FilePart builds an inline file part.
func FilePart(name, mimeType string, data []byte) Part {
	return Part{Kind: PartKindFile, File: &FileContent{Name: name, MimeType: mimeType, Bytes: data}}
}

// FileRefPart builds a file part referencing remote content.
func FileRefPart(name, mimeType, uri string) Part {
	return Part{Kind: PartKindFile, File: &FileContent{Name: name, MimeType: mimeType, URI: uri}}
}

// DataPart builds a free-form structured payload part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Validate checks that the part's variant matches its kind.
func (p Part) Validate() error {
	switch p.Kind {
	case PartKindText:
		return nil
	case PartKindFile:
		if p.File == nil {
			return fmt.Errorf("file part has no file content")
		}
		if len(p.File.Bytes) > 0 && p.File.URI != "" {
			return fmt.Errorf("file part %q has both inline bytes and a URI", p.File.Name)
		}
		return nil
	case PartKindData:
		if p.Data == nil {
			return fmt.Errorf("data part has no payload")
		}
		return nil
	default:
		return fmt.Errorf("unknown part kind %q", p.Kind)
	}
}

// Message is a single conversational turn fragment. MessageID is unique
// within a conversation; it is caller-supplied or adapter-generated at send
// time and never reused.
type Message struct {
	Role      Role   `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartKindText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Validate checks every part of the message and requires a message ID.
func (m *Message) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message has no message ID")
	}
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("message %s has unknown role %q", m.MessageID, m.Role)
	}
	for i, p := range m.Parts {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}
