package systemb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaysync/engine/internal/errkind"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/ratelimit"
	"github.com/relaysync/engine/internal/retry"
	"github.com/relaysync/engine/internal/wiretime"
)

// HTTPClient is the production SystemBClient, rate-limited via Limiter and
// retried via retry.Policy, per spec §4.4.
type HTTPClient struct {
	BaseURL     string
	APIKey      string
	HTTP        *http.Client
	Limiter     *ratelimit.Limiter
	Retry       retry.Policy
	ListTimeout time.Duration
	PageTimeout time.Duration
}

func NewHTTPClient(baseURL, apiKey string, limiter *ratelimit.Limiter) *HTTPClient {
	return &HTTPClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		HTTP:        &http.Client{},
		Limiter:     limiter,
		Retry:       retry.Default(),
		ListTimeout: 60 * time.Second,
		PageTimeout: 20 * time.Second,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	return c.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := c.Limiter.Execute(ctx, func(ctx context.Context) (any, error) {
			return nil, c.doOnce(ctx, op, method, path, query, body, out)
		})
		return err
	})
}

func (c *HTTPClient) doOnce(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errkind.NonRetryablef(op, "marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errkind.NonRetryablef(op, "build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errkind.Transientf(op, "request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return retry.ClassifyHTTPStatus(op, resp.StatusCode, fmt.Errorf("unexpected status from %s", path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Transientf(op, "decode response: %w", err)
	}
	return nil
}

type wireProperty struct {
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	Number      *float64  `json:"number,omitempty"`
	SelectName  string    `json:"selectName,omitempty"`
	MultiSelect []string  `json:"multiSelect,omitempty"`
	DateStart   string    `json:"dateStart,omitempty"`
	Checkbox    bool      `json:"checkbox,omitempty"`
}

func toWireProperty(p model.BProperty) wireProperty {
	return wireProperty{
		Type: string(p.Type), Text: p.Text, Number: p.Number, SelectName: p.SelectName,
		MultiSelect: p.MultiSelect, DateStart: p.DateStart, Checkbox: p.Checkbox,
	}
}

func fromWireProperty(w wireProperty) model.BProperty {
	return model.BProperty{
		Type: model.BPropertyType(w.Type), Text: w.Text, Number: w.Number, SelectName: w.SelectName,
		MultiSelect: w.MultiSelect, DateStart: w.DateStart, Checkbox: w.Checkbox,
	}
}

type wireDatabase struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties"`
}

func (d wireDatabase) toDef() DatabaseDef {
	props := make(map[string]model.BPropertyType, len(d.Properties))
	for k, v := range d.Properties {
		props[k] = model.BPropertyType(v)
	}
	return DatabaseDef{ID: d.ID, Name: d.Name, Properties: props}
}

func (c *HTTPClient) ListDatabases(ctx context.Context) ([]DatabaseDef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	var out struct {
		Databases []wireDatabase `json:"databases"`
	}
	if err := c.doJSON(ctx, "systemb.listDatabases", http.MethodGet, "/databases", nil, nil, &out); err != nil {
		return nil, err
	}
	defs := make([]DatabaseDef, len(out.Databases))
	for i, d := range out.Databases {
		defs[i] = d.toDef()
	}
	return defs, nil
}

func (c *HTTPClient) GetDatabase(ctx context.Context, dbRef string) (*DatabaseDef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	var wire wireDatabase
	if err := c.doJSON(ctx, "systemb.getDatabase", http.MethodGet, "/databases/"+dbRef, nil, nil, &wire); err != nil {
		return nil, err
	}
	def := wire.toDef()
	return &def, nil
}

type wirePage struct {
	ID           string                  `json:"id"`
	ParentDBRef  string                  `json:"parentDatabaseId"`
	Properties   map[string]wireProperty `json:"properties"`
	LastEditedAt string                  `json:"lastEditedAt"`
}

func decodePage(w wirePage) model.PageB {
	props := make(map[string]model.BProperty, len(w.Properties))
	for k, v := range w.Properties {
		props[k] = fromWireProperty(v)
	}
	lastEdited, _ := wiretime.ParseFlexible(w.LastEditedAt)
	return model.PageB{
		PageID:       w.ID,
		ParentDBRef:  w.ParentDBRef,
		Properties:   props,
		LastEditedAt: lastEdited,
	}
}

// QueryDatabase resolves all pages across cursor pages, per spec §4.4.
func (c *HTTPClient) QueryDatabase(ctx context.Context, dbRef string) ([]model.PageB, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	var out []model.PageB
	cursor := ""
	for {
		query := url.Values{}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var page struct {
			Pages      []wirePage `json:"pages"`
			NextCursor string     `json:"nextCursor"`
		}
		if err := c.doJSON(ctx, "systemb.queryDatabase", http.MethodPost, "/databases/"+dbRef+"/query", query, nil, &page); err != nil {
			return nil, err
		}

		for _, wp := range page.Pages {
			out = append(out, decodePage(wp))
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return out, nil
}

func (c *HTTPClient) CreatePage(ctx context.Context, dbRef string, properties map[string]model.BProperty) (*model.PageB, error) {
	ctx, cancel := context.WithTimeout(ctx, c.PageTimeout)
	defer cancel()

	wireProps := make(map[string]wireProperty, len(properties))
	for k, v := range properties {
		wireProps[k] = toWireProperty(v)
	}
	body := struct {
		ParentDBRef string                  `json:"parentDatabaseId"`
		Properties  map[string]wireProperty `json:"properties"`
	}{ParentDBRef: dbRef, Properties: wireProps}

	var wp wirePage
	if err := c.doJSON(ctx, "systemb.createPage", http.MethodPost, "/pages", nil, body, &wp); err != nil {
		return nil, err
	}
	page := decodePage(wp)
	return &page, nil
}

func (c *HTTPClient) UpdatePage(ctx context.Context, pageID string, properties map[string]model.BProperty) (*model.PageB, error) {
	ctx, cancel := context.WithTimeout(ctx, c.PageTimeout)
	defer cancel()

	wireProps := make(map[string]wireProperty, len(properties))
	for k, v := range properties {
		wireProps[k] = toWireProperty(v)
	}
	body := struct {
		Properties map[string]wireProperty `json:"properties"`
	}{Properties: wireProps}

	var wp wirePage
	if err := c.doJSON(ctx, "systemb.updatePage", http.MethodPatch, "/pages/"+pageID, nil, body, &wp); err != nil {
		return nil, err
	}
	page := decodePage(wp)
	return &page, nil
}

// ArchivePage marks a page archived. Never a hard delete (spec §3, §8's
// never-delete-A invariant's B-side counterpart in spec §4.8's cleanup).
func (c *HTTPClient) ArchivePage(ctx context.Context, pageID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.PageTimeout)
	defer cancel()

	body := struct {
		Archived bool `json:"archived"`
	}{Archived: true}
	return c.doJSON(ctx, "systemb.archivePage", http.MethodPatch, "/pages/"+pageID, nil, body, nil)
}

func (c *HTTPClient) AddProperty(ctx context.Context, dbRef, name string, propType model.BPropertyType) error {
	ctx, cancel := context.WithTimeout(ctx, c.PageTimeout)
	defer cancel()

	body := struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}{Name: name, Type: string(propType)}
	return c.doJSON(ctx, "systemb.addProperty", http.MethodPost, "/databases/"+dbRef+"/properties", nil, body, nil)
}
