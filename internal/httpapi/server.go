// Package httpapi exposes the sync engine over HTTP: a webhook
// receiver for tracking-service change notifications, a manual
// single-entity sync trigger, and a health probe.
package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/trackdocs/foldersync/internal/engine"
	"github.com/trackdocs/foldersync/internal/tracker"
)

// webhookSchema validates change-notification payloads before any
// field access. Unknown extra fields pass; missing structure does not.
const webhookSchema = `{
  "type": "object",
  "required": ["eventType", "resource"],
  "properties": {
    "eventType": {"type": "string", "minLength": 1},
    "resource": {
      "type": "object",
      "properties": {
        "id": {"type": "integer", "minimum": 1},
        "workItemId": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

// Syncer is the engine surface the API needs. *engine.Orchestrator
// implements it.
type Syncer interface {
	SyncOne(ctx context.Context, id int) (engine.Result, error)
}

type ServerConfig struct {
	WebhookSecret string
	MaxBodyBytes  int64
}

type Server struct {
	syncer Syncer
	cfg    ServerConfig
	schema *jsonschema.Schema
	logger engine.Logger
}

func NewServer(syncer Syncer, cfg ServerConfig, logger engine.Logger) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if logger == nil {
		logger = nopLogger{}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, fmt.Errorf("httpapi: parse webhook schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook.json", doc); err != nil {
		return nil, fmt.Errorf("httpapi: register webhook schema: %w", err)
	}
	schema, err := compiler.Compile("webhook.json")
	if err != nil {
		return nil, fmt.Errorf("httpapi: compile webhook schema: %w", err)
	}
	return &Server{syncer: syncer, cfg: cfg, schema: schema, logger: logger}, nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/webhooks/workitems" && r.Method == http.MethodPost {
		s.handleWebhook(w, r)
		return
	}
	if id, ok := strings.CutPrefix(r.URL.Path, "/v1/sync/features/"); ok && r.Method == http.MethodPost {
		s.handleManualSync(w, r, id)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if !hmac.Equal([]byte(got), []byte(s.cfg.WebhookSecret)) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "webhook secret mismatch", correlationID)
			return
		}
	}
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	payload, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid json", correlationID)
		return
	}
	if err := s.schema.Validate(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error(), correlationID)
		return
	}

	obj := payload.(map[string]any)
	eventType, _ := obj["eventType"].(string)
	if !strings.HasPrefix(eventType, "workitem.") {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "event type out of scope"})
		return
	}
	id := workItemID(obj["resource"])
	if id == 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "resource carries no work item id", correlationID)
		return
	}
	s.runSync(w, r, id, correlationID, true)
}

func (s *Server) handleManualSync(w http.ResponseWriter, r *http.Request, rawID string) {
	correlationID := getCorrelationID(r)
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "feature id must be a positive integer", correlationID)
		return
	}
	s.runSync(w, r, id, correlationID, false)
}

// runSync drives one single-entity reconciliation and maps its result
// to a response. Webhooks treat an out-of-scope work item type as an
// acknowledged no-op; the manual endpoint reports it as an error.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, id int, correlationID string, fromWebhook bool) {
	res, err := s.syncer.SyncOne(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrWrongType):
		if fromWebhook {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "work item type out of scope"})
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "wrong_type", err.Error(), correlationID)
		return
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("work item %d not found", id), correlationID)
		return
	default:
		s.logger.Printf("sync of entity %d failed: %v", id, err)
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error(), correlationID)
		return
	}

	status := http.StatusOK
	if res.Outcome == engine.OutcomeFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, syncResponse(res))
}

func syncResponse(res engine.Result) map[string]any {
	out := map[string]any{
		"entityId":          res.EntityID,
		"outcome":           res.Outcome.String(),
		"folderEnsured":     res.FolderEnsured,
		"attachmentsSynced": res.AttachmentsSynced,
		"link":              res.Link.String(),
	}
	if len(res.FailedAttachments) > 0 {
		out["failedAttachments"] = res.FailedAttachments
	}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	return out
}

// workItemID digs the numeric id out of the notification resource.
// Updated-item events carry workItemId; created/deleted events carry
// id directly.
func workItemID(resource any) int {
	obj, ok := resource.(map[string]any)
	if !ok {
		return 0
	}
	for _, key := range []string{"workItemId", "id"} {
		if n, ok := obj[key].(json.Number); ok {
			if id, err := n.Int64(); err == nil && id > 0 {
				return int(id)
			}
		}
		if f, ok := obj[key].(float64); ok && f > 0 {
			return int(f)
		}
	}
	return 0
}

func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
