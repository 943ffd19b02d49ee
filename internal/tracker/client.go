package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackdocs/foldersync/internal/transport"
)

// ErrNotFound is returned when a work item id does not exist.
var ErrNotFound = errors.New("work item not found")

// detailBatchSize is the tracking API's page limit for batched
// work-item hydration.
const detailBatchSize = 200

// ClientOptions configures HTTPClient. BaseURL, Org, Project and PAT
// are required.
type ClientOptions struct {
	BaseURL    string
	Org        string
	Project    string
	PAT        string
	APIVersion string
	HTTPClient *http.Client
	Retry      transport.RetryPolicy
}

// HTTPClient talks to the tracking service's REST API.
type HTTPClient struct {
	baseURL    string
	project    string
	authHeader string
	apiVersion string
	httpClient *http.Client
	retry      transport.RetryPolicy
}

// NewHTTPClient builds a tracking-service client.
func NewHTTPClient(opts ClientOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://dev.azure.com"
	}
	org := strings.TrimSpace(opts.Org)
	if org == "" {
		return nil, fmt.Errorf("tracker: org is required")
	}
	project := strings.TrimSpace(opts.Project)
	if project == "" {
		return nil, fmt.Errorf("tracker: project is required")
	}
	pat := strings.TrimSpace(opts.PAT)
	if pat == "" {
		return nil, fmt.Errorf("tracker: personal access token is required")
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "7.1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := opts.Retry
	if retry.MaxRetries <= 0 {
		retry = transport.DefaultRetryPolicy()
	}
	return &HTTPClient{
		baseURL:    baseURL + "/" + url.PathEscape(org),
		project:    project,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+pat)),
		apiVersion: apiVersion,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// QueryWorkItems runs a scoped query and hydrates the matches with
// fields and relations. When since is non-nil only items whose changed
// timestamp is strictly after it are returned.
func (c *HTTPClient) QueryWorkItems(ctx context.Context, scope Scope, since *time.Time) ([]WorkItem, error) {
	query := buildScopeQuery(scope, since)
	body := map[string]string{"query": query}
	var out struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.projectPath("wit/wiql"), nil, body, &out); err != nil {
		return nil, err
	}
	if len(out.WorkItems) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(out.WorkItems))
	for _, wi := range out.WorkItems {
		ids = append(ids, wi.ID)
	}
	sort.Ints(ids)
	return c.GetWorkItems(ctx, ids)
}

// GetWorkItems hydrates work items by id in API-page-sized batches.
func (c *HTTPClient) GetWorkItems(ctx context.Context, ids []int) ([]WorkItem, error) {
	var out []WorkItem
	for start := 0; start < len(ids); start += detailBatchSize {
		end := start + detailBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, strconv.Itoa(id))
		}
		q := url.Values{}
		q.Set("ids", strings.Join(batch, ","))
		q.Set("$expand", "all")
		var page struct {
			Value []WorkItem `json:"value"`
		}
		if err := c.doJSON(ctx, http.MethodGet, c.projectPath("wit/workitems")+"&"+q.Encode(), nil, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

// GetWorkItem fetches one work item with relations expanded. ErrNotFound
// is returned for unknown ids.
func (c *HTTPClient) GetWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	path := c.projectPath(fmt.Sprintf("wit/workitems/%d", id)) + "&$expand=all"
	var wi WorkItem
	err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &wi)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wi, nil
}

// DownloadAttachment fetches an attachment's raw content by reference.
func (c *HTTPClient) DownloadAttachment(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("tracker: attachment ref is empty")
	}
	path := c.projectPath("wit/attachments/" + url.PathEscape(ref))
	var content []byte
	err := c.doRaw(ctx, http.MethodGet, path, "", nil, func(body []byte) error {
		content = body
		return nil
	})
	return content, err
}

// UpdateField replaces one field on a work item using a JSON-Patch
// document. A 4xx response other than 404/429 surfaces as a
// *ValidationError and must not be retried.
func (c *HTTPClient) UpdateField(ctx context.Context, id int, field, value string) error {
	patch := []map[string]string{{
		"op":    "replace",
		"path":  "/fields/" + field,
		"value": value,
	}}
	payload, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	path := c.projectPath(fmt.Sprintf("wit/workitems/%d", id))
	return c.doRaw(ctx, http.MethodPatch, path, "application/json-patch+json", payload, nil)
}

func (c *HTTPClient) projectPath(endpoint string) string {
	return "/" + url.PathEscape(c.project) + "/_apis/" + endpoint + "?api-version=" + url.QueryEscape(c.apiVersion)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.do(ctx, method, requestPath, "application/json", headers, payload, func(respBody []byte) error {
		if out == nil || len(respBody) == 0 {
			return nil
		}
		return json.Unmarshal(respBody, out)
	})
}

func (c *HTTPClient) doRaw(ctx context.Context, method, requestPath, contentType string, payload []byte, handle func([]byte) error) error {
	return c.do(ctx, method, requestPath, contentType, nil, payload, handle)
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath, contentType string, headers map[string]string, payload []byte, handle func([]byte) error) error {
	correlationID := "track_" + uuid.NewString()
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", c.authHeader)
		req.Header.Set("X-Correlation-Id", correlationID)
		if payload != nil && contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.retry.MaxRetries {
				if waitErr := transport.Sleep(ctx, c.retry.Delay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if handle == nil {
				return nil
			}
			return handle(respBody)
		}

		if transport.RetryableStatus(resp.StatusCode) && attempt < c.retry.MaxRetries {
			if waitErr := transport.Sleep(ctx, c.retry.Delay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		message := errorMessage(respBody)
		if method == http.MethodPatch && resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusTooManyRequests {
			return &ValidationError{StatusCode: resp.StatusCode, Message: message}
		}
		return &transport.Error{StatusCode: resp.StatusCode, Message: message}
	}
}

func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && strings.TrimSpace(parsed.Message) != "" {
		return strings.TrimSpace(parsed.Message)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}

func buildScopeQuery(scope Scope, since *time.Time) string {
	itemType := strings.TrimSpace(scope.WorkItemType)
	if itemType == "" {
		itemType = "Feature"
	}
	var b strings.Builder
	b.WriteString("SELECT [System.Id] FROM WorkItems WHERE [System.WorkItemType] = '")
	b.WriteString(escapeQueryLiteral(itemType))
	b.WriteString("'")
	if area := strings.TrimSpace(scope.AreaPath); area != "" {
		b.WriteString(" AND [System.AreaPath] UNDER '")
		b.WriteString(escapeQueryLiteral(area))
		b.WriteString("'")
	}
	if since != nil {
		b.WriteString(" AND [System.ChangedDate] > '")
		b.WriteString(since.UTC().Format("2006-01-02T15:04:05Z"))
		b.WriteString("'")
	}
	b.WriteString(" ORDER BY [System.Id]")
	return b.String()
}

func escapeQueryLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
