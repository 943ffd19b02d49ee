// Package storage is the client for the hierarchical document-storage
// service: folders, file uploads, and sharing links, addressed by
// opaque item references within one drive.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackdocs/foldersync/internal/transport"
)

// ErrExists reports that an upload target already holds a file with the
// requested name. Uploads never overwrite; callers treat this as the
// file being present.
var ErrExists = errors.New("item already exists")

// uploadSessionThreshold is the largest payload sent as a single
// request; bigger content goes through a chunked upload session.
const uploadSessionThreshold = 4 << 20

const uploadChunkSize = 4 << 20

// Child is one direct member of a folder listing.
type Child struct {
	ID     string
	Name   string
	Folder bool
	Size   int64
}

// ClientOptions configures HTTPClient. Either DriveID or SiteID (for
// lazy drive discovery, optionally biased by DriveName) is required.
type ClientOptions struct {
	BaseURL    string
	SiteID     string
	DriveID    string
	DriveName  string
	Tokens     TokenSource
	HTTPClient *http.Client
	Retry      transport.RetryPolicy
}

// HTTPClient talks to the storage service's REST API.
type HTTPClient struct {
	baseURL    string
	siteID     string
	driveName  string
	tokens     TokenSource
	httpClient *http.Client
	retry      transport.RetryPolicy

	driveMu sync.Mutex
	driveID string
}

// NewHTTPClient builds a storage-service client.
func NewHTTPClient(opts ClientOptions) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://graph.microsoft.com/v1.0"
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("storage: token source is required")
	}
	driveID := strings.TrimSpace(opts.DriveID)
	siteID := strings.TrimSpace(opts.SiteID)
	if driveID == "" && siteID == "" {
		return nil, fmt.Errorf("storage: drive id or site id is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	retry := opts.Retry
	if retry.MaxRetries <= 0 {
		retry = transport.DefaultRetryPolicy()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		siteID:     siteID,
		driveID:    driveID,
		driveName:  strings.TrimSpace(opts.DriveName),
		tokens:     opts.Tokens,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

// RootRef is the reference of the drive root folder.
func (c *HTTPClient) RootRef() string { return "root" }

// ListChildren lists the direct members of a folder.
func (c *HTTPClient) ListChildren(ctx context.Context, itemRef string) ([]Child, error) {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return nil, err
	}
	var out struct {
		Value []struct {
			ID     string         `json:"id"`
			Name   string         `json:"name"`
			Size   int64          `json:"size"`
			Folder map[string]any `json:"folder"`
		} `json:"value"`
	}
	path := fmt.Sprintf("/drives/%s/items/%s/children", url.PathEscape(driveID), url.PathEscape(itemRef))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	children := make([]Child, 0, len(out.Value))
	for _, item := range out.Value {
		children = append(children, Child{
			ID:     item.ID,
			Name:   item.Name,
			Folder: item.Folder != nil,
			Size:   item.Size,
		})
	}
	return children, nil
}

// CreateFolder creates a child folder under parentRef and returns its
// reference. A name conflict is success: the existing folder's
// reference is looked up and returned instead.
func (c *HTTPClient) CreateFolder(ctx context.Context, parentRef, name string) (string, error) {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/drives/%s/items/%s/children", url.PathEscape(driveID), url.PathEscape(parentRef))
	err = c.doJSON(ctx, http.MethodPost, path, body, &created)
	if err == nil {
		return created.ID, nil
	}
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.StatusCode != http.StatusConflict {
		return "", err
	}
	// Lost a create race; the sibling that won is the folder we want.
	children, listErr := c.ListChildren(ctx, parentRef)
	if listErr != nil {
		return "", listErr
	}
	for _, child := range children {
		if child.Folder && strings.EqualFold(child.Name, name) {
			return child.ID, nil
		}
	}
	return "", fmt.Errorf("storage: folder %q conflicted on create but is missing from listing", name)
}

// UploadFile puts content into a folder under the given name without
// overwriting: ErrExists is returned when the name is already taken.
// Content above the session threshold goes through a chunked upload.
func (c *HTTPClient) UploadFile(ctx context.Context, folderRef, name string, content []byte) error {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return err
	}
	if len(content) > uploadSessionThreshold {
		return c.uploadLarge(ctx, driveID, folderRef, name, content)
	}
	path := fmt.Sprintf("/drives/%s/items/%s:/%s:/content?@microsoft.graph.conflictBehavior=fail",
		url.PathEscape(driveID), url.PathEscape(folderRef), url.PathEscape(name))
	err = c.doBytes(ctx, http.MethodPut, path, "application/octet-stream", content, nil)
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusConflict {
		return ErrExists
	}
	return err
}

func (c *HTTPClient) uploadLarge(ctx context.Context, driveID, folderRef, name string, content []byte) error {
	sessionPath := fmt.Sprintf("/drives/%s/items/%s:/%s:/createUploadSession",
		url.PathEscape(driveID), url.PathEscape(folderRef), url.PathEscape(name))
	body := map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": "fail",
			"name":                              name,
		},
	}
	var session struct {
		UploadURL string `json:"uploadUrl"`
	}
	err := c.doJSON(ctx, http.MethodPost, sessionPath, body, &session)
	var terr *transport.Error
	if errors.As(err, &terr) && terr.StatusCode == http.StatusConflict {
		return ErrExists
	}
	if err != nil {
		return err
	}
	if session.UploadURL == "" {
		return fmt.Errorf("storage: upload session missing uploadUrl")
	}

	total := len(content)
	for start := 0; start < total; start += uploadChunkSize {
		end := start + uploadChunkSize
		if end > total {
			end = total
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(content[start:end]))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		default:
			return &transport.Error{StatusCode: resp.StatusCode, Message: "upload session chunk rejected"}
		}
	}
	return nil
}

// DownloadItem fetches a file item's raw content.
func (c *HTTPClient) DownloadItem(ctx context.Context, itemRef string) ([]byte, error) {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/drives/%s/items/%s/content", url.PathEscape(driveID), url.PathEscape(itemRef))
	var content []byte
	err = c.doBytes(ctx, http.MethodGet, path, "", nil, func(body []byte) error {
		content = body
		return nil
	})
	return content, err
}

// DeleteItem removes an item (a folder is removed with its contents).
func (c *HTTPClient) DeleteItem(ctx context.Context, itemRef string) error {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/drives/%s/items/%s", url.PathEscape(driveID), url.PathEscape(itemRef))
	return c.doBytes(ctx, http.MethodDelete, path, "", nil, nil)
}

// CreateSharingLink returns a view-only, organization-scoped sharing
// URL for the item. The service returns the existing link when one was
// already created, so the URL is stable across passes.
func (c *HTTPClient) CreateSharingLink(ctx context.Context, itemRef string) (string, error) {
	driveID, err := c.resolveDrive(ctx)
	if err != nil {
		return "", err
	}
	body := map[string]string{"type": "view", "scope": "organization"}
	var out struct {
		Link struct {
			WebURL string `json:"webUrl"`
		} `json:"link"`
		WebURL string `json:"webUrl"`
	}
	path := fmt.Sprintf("/drives/%s/items/%s/createLink", url.PathEscape(driveID), url.PathEscape(itemRef))
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.Link.WebURL != "" {
		return out.Link.WebURL, nil
	}
	if out.WebURL != "" {
		return out.WebURL, nil
	}
	return "", fmt.Errorf("storage: createLink response missing webUrl")
}

// resolveDrive returns the configured drive id, discovering it from the
// site's drive list on first use when only a site id was given.
func (c *HTTPClient) resolveDrive(ctx context.Context) (string, error) {
	c.driveMu.Lock()
	defer c.driveMu.Unlock()
	if c.driveID != "" {
		return c.driveID, nil
	}
	var out struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	path := fmt.Sprintf("/sites/%s/drives", url.PathEscape(c.siteID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if len(out.Value) == 0 {
		return "", fmt.Errorf("storage: site %s has no drives", c.siteID)
	}
	preferred := []string{}
	if c.driveName != "" {
		preferred = append(preferred, c.driveName)
	}
	preferred = append(preferred, "Shared Documents", "Documents")
	for _, want := range preferred {
		for _, drive := range out.Value {
			if strings.Contains(strings.ToLower(drive.Name), strings.ToLower(want)) {
				c.driveID = drive.ID
				return c.driveID, nil
			}
		}
	}
	c.driveID = out.Value[0].ID
	return c.driveID, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.doBytes(ctx, method, requestPath, "application/json", payload, func(respBody []byte) error {
		if out == nil || len(respBody) == 0 {
			return nil
		}
		return json.Unmarshal(respBody, out)
	})
}

func (c *HTTPClient) doBytes(ctx context.Context, method, requestPath, contentType string, payload []byte, handle func([]byte) error) error {
	correlationID := "store_" + uuid.NewString()
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Correlation-Id", correlationID)
		if payload != nil && contentType != "" {
			req.Header.Set("Content-Type", contentType)
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

		var parsed struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &parsed)
		return &transport.Error{
			StatusCode: resp.StatusCode,
			Code:       parsed.Error.Code,
			Message:    parsed.Error.Message,
		}
	}
}
