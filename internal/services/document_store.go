// Document store [RemoteStore] implementation
//
// Talks to a realtime-database style REST API where every node of the tree is
// addressable as GET {base}/{path}.json and children can be range-scanned by key.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/desertthunder/hymnal/internal/shared"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL string = "http://localhost:9000"

	// ConnectedPath is the backend's own connectivity signal.
	ConnectedPath string = ".info/connected"
	// ServerClockPath is a volatile server-side clock value. Any response proves reachability.
	ServerClockPath string = ".info/serverTimeOffset"
)

// DocumentStore implements [RemoteStore] over HTTP.
type DocumentStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewDocumentStore creates a document store client for baseURL.
//
// A non-empty token is sent as a bearer token on every request through an [oauth2.Transport].
func NewDocumentStore(baseURL, token string, client *http.Client) *DocumentStore {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		client = &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: client.Transport},
			Timeout:   client.Timeout,
		}
	}

	return &DocumentStore{baseURL: baseURL, httpClient: client}
}

// Get performs a point read of path.
func (d *DocumentStore) Get(ctx context.Context, path string, out any) (bool, error) {
	body, err := d.doRequest(ctx, path, nil)
	if err != nil {
		return false, err
	}
	if isNull(body) {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return false, fmt.Errorf("%w: %s: %v", shared.ErrParseFailure, path, err)
		}
	}
	return true, nil
}

// Scan reads the children of path ordered by key.
//
// The server filters by orderBy/startAt/limitToFirst but returns an unordered
// object, so the page is sorted client-side with [KeyLess].
func (d *DocumentStore) Scan(ctx context.Context, path string, opts ScanOpts) ([]Node, error) {
	query := url.Values{}
	query.Set("orderBy", `"$key"`)
	if opts.StartAt != "" {
		query.Set("startAt", strconv.Quote(opts.StartAt))
	}
	if opts.Limit > 0 {
		query.Set("limitToFirst", strconv.Itoa(opts.Limit))
	}

	body, err := d.doRequest(ctx, path, query)
	if err != nil {
		return nil, err
	}

	nodes, err := DecodeChildren(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrParseFailure, path, err)
	}

	// servers that ignore the query parameters still get the scan semantics
	if opts.StartAt != "" {
		start := sort.Search(len(nodes), func(i int) bool { return !KeyLess(nodes[i].Key, opts.StartAt) })
		nodes = nodes[start:]
	}
	if opts.Limit > 0 && len(nodes) > opts.Limit {
		nodes = nodes[:opts.Limit]
	}
	return nodes, nil
}

// Exists probes path with a shallow read.
func (d *DocumentStore) Exists(ctx context.Context, path string) (bool, error) {
	query := url.Values{}
	query.Set("shallow", "true")

	body, err := d.doRequest(ctx, path, query)
	if err != nil {
		return false, err
	}
	return !isNull(body), nil
}

func (d *DocumentStore) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	apiURL := d.baseURL + "/" + Join(path) + ".json"
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", shared.ErrTimeout, path)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrRemoteRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", shared.ErrTimeout, path)
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s (status %d)", shared.ErrAccessDenied, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("%w: status %d: %s", shared.ErrRemoteRequest, resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("%w: status %d", shared.ErrRemoteRequest, resp.StatusCode)
	}

	return body, nil
}

// DecodeChildren turns an object or sparse array node into key-ordered children.
// Null children are dropped.
func DecodeChildren(body []byte) ([]Node, error) {
	body = bytes.TrimSpace(body)
	if isNull(body) {
		return []Node{}, nil
	}

	var nodes []Node
	switch body[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, err
		}
		nodes = make([]Node, 0, len(obj))
		for k, v := range obj {
			if !isNull(v) {
				nodes = append(nodes, Node{Key: k, Value: v})
			}
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, err
		}
		nodes = make([]Node, 0, len(arr))
		for i, v := range arr {
			if !isNull(v) {
				nodes = append(nodes, Node{Key: strconv.Itoa(i), Value: v})
			}
		}
	default:
		return nil, fmt.Errorf("node is a scalar, not a partition")
	}

	sort.Slice(nodes, func(i, j int) bool { return KeyLess(nodes[i].Key, nodes[j].Key) })
	return nodes, nil
}

func isNull(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
