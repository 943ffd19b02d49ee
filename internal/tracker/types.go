// Package tracker is the client for the project-tracking service: it
// queries work items, lists and downloads their attachments, and writes
// back single fields.
package tracker

import (
	"fmt"
	"strings"
	"time"
)

// Well-known work-item field names.
const (
	FieldID                = "System.Id"
	FieldTitle             = "System.Title"
	FieldAreaPath          = "System.AreaPath"
	FieldState             = "System.State"
	FieldCreatedDate       = "System.CreatedDate"
	FieldChangedDate       = "System.ChangedDate"
	FieldWorkItemType      = "System.WorkItemType"
	FieldProposalNumber    = "Custom.ProposalNumber"
	FieldDocumentationLink = "Custom.DocumentationLink"
)

// WorkItem is the raw tracking-service representation of one item.
type WorkItem struct {
	ID        int                `json:"id"`
	Rev       int                `json:"rev"`
	Fields    map[string]any     `json:"fields"`
	Relations []WorkItemRelation `json:"relations,omitempty"`
	URL       string             `json:"url,omitempty"`
}

// WorkItemRelation is one entry of a work item's relations list.
// Attachments appear with Rel == "AttachedFile".
type WorkItemRelation struct {
	Rel        string         `json:"rel"`
	URL        string         `json:"url"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attachment describes one attached file: its display name and the
// opaque reference used to download its content.
type Attachment struct {
	Name        string
	DownloadRef string
	Size        int64
}

// StringField returns a trimmed string field value, or "" when the
// field is absent or not a string.
func (wi WorkItem) StringField(name string) string {
	v, ok := wi.Fields[name]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// TimeField parses an ISO-8601 timestamp field. The zero time is
// returned for absent or malformed values.
func (wi WorkItem) TimeField(name string) time.Time {
	raw := wi.StringField(name)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Attachments extracts the attachment descriptors from the work item's
// relations. Relations without a recognizable download reference are
// skipped; a missing display name falls back to the reference.
func (wi WorkItem) Attachments() []Attachment {
	var out []Attachment
	for _, rel := range wi.Relations {
		if rel.Rel != "AttachedFile" {
			continue
		}
		ref := attachmentRef(rel.URL)
		if ref == "" {
			continue
		}
		name := ""
		if rel.Attributes != nil {
			if v, ok := rel.Attributes["name"].(string); ok {
				name = strings.TrimSpace(v)
			}
		}
		if name == "" {
			name = "attachment_" + ref
		}
		var size int64
		if rel.Attributes != nil {
			if v, ok := rel.Attributes["resourceSize"].(float64); ok {
				size = int64(v)
			}
		}
		out = append(out, Attachment{Name: name, DownloadRef: ref, Size: size})
	}
	return out
}

func attachmentRef(url string) string {
	const marker = "/attachments/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	ref := url[idx+len(marker):]
	if q := strings.IndexByte(ref, '?'); q >= 0 {
		ref = ref[:q]
	}
	return strings.TrimSpace(ref)
}

// Scope selects which work items a snapshot covers. AreaPath filters
// with hierarchical UNDER semantics; WorkItemType is usually "Feature".
type Scope struct {
	AreaPath     string
	WorkItemType string
}

// Key is the stable identity of this scope, used to key the cursor.
func (s Scope) Key() string {
	return fmt.Sprintf("%s|%s", strings.TrimSpace(s.WorkItemType), strings.TrimSpace(s.AreaPath))
}

// ValidationError is a validation-class rejection from the tracking
// service: the write was understood and refused, so retrying the same
// request cannot succeed.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tracking service rejected request (%d): %s", e.StatusCode, e.Message)
}
