package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trackdocs/foldersync/internal/transport"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(ClientOptions{
		BaseURL: server.URL,
		Org:     "acme",
		Project: "Delivery",
		PAT:     "secret-pat",
		Retry:   transport.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client, server
}

func TestQueryWorkItemsHydratesMatches(t *testing.T) {
	var gotQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "wit/wiql"):
			var body struct {
				Query string `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotQuery = body.Query
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workItems": []map[string]int{{"id": 101}, {"id": 100}},
			})
		case strings.Contains(r.URL.Path, "wit/workitems"):
			if r.URL.Query().Get("$expand") != "all" {
				t.Errorf("expected $expand=all, got %q", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": 100, "rev": 1, "fields": map[string]any{FieldTitle: "Portal"}},
					{"id": 101, "rev": 2, "fields": map[string]any{FieldTitle: "Billing"}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
	client, _ := newTestClient(t, handler)

	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items, err := client.QueryWorkItems(context.Background(), Scope{AreaPath: `Org\Projects`, WorkItemType: "Feature"}, &since)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !strings.Contains(gotQuery, "[System.WorkItemType] = 'Feature'") {
		t.Fatalf("type filter missing from query: %q", gotQuery)
	}
	if !strings.Contains(gotQuery, `[System.AreaPath] UNDER 'Org\Projects'`) {
		t.Fatalf("area filter missing from query: %q", gotQuery)
	}
	if !strings.Contains(gotQuery, "[System.ChangedDate] > '2025-06-01T12:00:00Z'") {
		t.Fatalf("incremental boundary missing from query: %q", gotQuery)
	}
}

func TestQueryWorkItemsOmitsBoundaryOnFullScan(t *testing.T) {
	var gotQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body.Query
		_ = json.NewEncoder(w).Encode(map[string]any{"workItems": []map[string]int{}})
	})
	client, _ := newTestClient(t, handler)
	if _, err := client.QueryWorkItems(context.Background(), Scope{WorkItemType: "Feature"}, nil); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if strings.Contains(gotQuery, "ChangedDate") {
		t.Fatalf("full scan must not filter by changed date: %q", gotQuery)
	}
}

func TestGetWorkItemNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	client, _ := newTestClient(t, handler)
	if _, err := client.GetWorkItem(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "rev": 1, "fields": map[string]any{}})
	})
	client, _ := newTestClient(t, handler)
	wi, err := client.GetWorkItem(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if wi.ID != 7 {
		t.Fatalf("expected item 7, got %d", wi.ID)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestUpdateFieldValidationError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json-patch+json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "field ProposalNumber is required"})
	})
	client, _ := newTestClient(t, handler)
	err := client.UpdateField(context.Background(), 42, FieldDocumentationLink, "https://example.test/folder")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(verr.Message, "ProposalNumber") {
		t.Fatalf("expected service message preserved, got %q", verr.Message)
	}
}

func TestUpdateFieldNeverRetriesValidation(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	client, _ := newTestClient(t, handler)
	var verr *ValidationError
	if err := client.UpdateField(context.Background(), 1, FieldDocumentationLink, "x"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("validation errors must not be retried, got %d attempts", calls.Load())
	}
}

func TestDownloadAttachment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "wit/attachments/att-1") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("pdf-bytes"))
	})
	client, _ := newTestClient(t, handler)
	content, err := client.DownloadAttachment(context.Background(), "att-1")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(content) != "pdf-bytes" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestWorkItemAttachments(t *testing.T) {
	wi := WorkItem{
		ID: 1,
		Relations: []WorkItemRelation{
			{Rel: "AttachedFile", URL: "https://svc/_apis/wit/attachments/abc?fileName=spec.pdf", Attributes: map[string]any{"name": "spec.pdf", "resourceSize": float64(1024)}},
			{Rel: "Hierarchy-Forward", URL: "https://svc/_apis/wit/workItems/2"},
			{Rel: "AttachedFile", URL: "https://svc/_apis/wit/attachments/def"},
		},
	}
	atts := wi.Attachments()
	if len(atts) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(atts))
	}
	if atts[0].Name != "spec.pdf" || atts[0].DownloadRef != "abc" || atts[0].Size != 1024 {
		t.Fatalf("unexpected first attachment %+v", atts[0])
	}
	if atts[1].Name != "attachment_def" {
		t.Fatalf("expected fallback name, got %q", atts[1].Name)
	}
}

func TestWorkItemFieldHelpers(t *testing.T) {
	wi := WorkItem{Fields: map[string]any{
		FieldTitle:       "  Portal  ",
		FieldCreatedDate: "2025-03-09T10:30:00Z",
	}}
	if got := wi.StringField(FieldTitle); got != "Portal" {
		t.Fatalf("expected trimmed title, got %q", got)
	}
	created := wi.TimeField(FieldCreatedDate)
	if created.Year() != 2025 || created.Month() != time.March {
		t.Fatalf("unexpected created time %v", created)
	}
	if !wi.TimeField("missing").IsZero() {
		t.Fatalf("expected zero time for missing field")
	}
}
