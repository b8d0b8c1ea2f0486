package systema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaysync/engine/internal/errkind"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/ratelimit"
	"github.com/relaysync/engine/internal/retry"
	"github.com/relaysync/engine/internal/wiretime"
)

// HTTPClient is the production SystemAClient, rate-limited via Limiter and
// retried via retry.Policy, per spec §4.3.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTP       *http.Client
	Limiter    *ratelimit.Limiter
	Retry      retry.Policy
	ListTimeout time.Duration
	EntryTimeout time.Duration
}

// NewHTTPClient wires the defaults from spec §5 (list ops 60s, entry ops
// 20s) and §4.1 (rlA defaults to 2/s, configured by the caller).
func NewHTTPClient(baseURL, apiKey string, limiter *ratelimit.Limiter) *HTTPClient {
	return &HTTPClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTP:         &http.Client{},
		Limiter:      limiter,
		Retry:        retry.Default(),
		ListTimeout:  60 * time.Second,
		EntryTimeout: 20 * time.Second,
	}
}

var _ Client = (*HTTPClient)(nil)

// fieldIDFromWire strips the "field-" prefix inconsistently added by the
// source system (spec §9's open question), normalizing to a bare int at
// the client boundary so it never reaches the engine core.
func fieldIDFromWire(raw string) (int, error) {
	trimmed := strings.TrimPrefix(raw, "field-")
	return strconv.Atoi(trimmed)
}

func fieldIDToWire(id int) string {
	return "field-" + strconv.Itoa(id)
}

type wireField struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

type wireEntry struct {
	ID             string      `json:"id"`
	EntityID       int64       `json:"entityId"`
	EntityType     string      `json:"entityType"`
	Name           string      `json:"name"`
	Domains        []string    `json:"domains,omitempty"`
	Fields         []wireField `json:"fields"`
	OwningOrgID    int64       `json:"owningOrganizationId,omitempty"`
	LastModifiedAt string      `json:"lastModifiedAt"`
}

type entriesPage struct {
	Entries    []wireEntry `json:"entries"`
	NextCursor string      `json:"nextCursor"`
}

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

func (c *HTTPClient) ListLists(ctx context.Context) ([]ListDef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	var out struct {
		Lists []ListDef `json:"lists"`
	}
	if err := c.doJSON(ctx, "systema.listLists", http.MethodGet, "/lists", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Lists, nil
}

func (c *HTTPClient) ListFields(ctx context.Context, listRef string) ([]FieldDef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	var wire struct {
		Fields []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"fields"`
	}
	if err := c.doJSON(ctx, "systema.listFields", http.MethodGet, "/lists/"+listRef+"/fields", nil, nil, &wire); err != nil {
		return nil, err
	}

	out := make([]FieldDef, 0, len(wire.Fields))
	for _, f := range wire.Fields {
		id, err := fieldIDFromWire(f.ID)
		if err != nil {
			continue
		}
		out = append(out, FieldDef{ID: id, Name: f.Name, Type: f.Type})
	}
	return out, nil
}

// ListEntries resolves the full, finite, ordered, single-pass set of
// entries across cursor pages (spec §4.3's pagination guarantee). When a
// status field id and status values are supplied, the filter is sent as
// query params and also re-applied client-side to every page; without a
// status field id, no status filter is applied.
func (c *HTTPClient) ListEntries(ctx context.Context, listRef string, opt ListEntriesOptions) ([]model.EntryA, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ListTimeout)
	defer cancel()

	statusSet := make(map[string]bool, len(opt.StatusValues))
	for _, v := range opt.StatusValues {
		statusSet[v] = true
	}

	var out []model.EntryA
	cursor := ""
	for {
		query := url.Values{}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		if opt.StatusFieldID != 0 && len(opt.StatusValues) > 0 {
			query.Set("statusField", fieldIDToWire(opt.StatusFieldID))
			query["statusValue"] = opt.StatusValues
		}

		var page entriesPage
		if err := c.doJSON(ctx, "systema.listEntries", http.MethodGet, "/lists/"+listRef+"/entries", query, nil, &page); err != nil {
			return nil, err
		}

		for _, we := range page.Entries {
			entry, err := decodeEntry(we)
			if err != nil {
				continue
			}
			if len(statusSet) > 0 && opt.StatusFieldID != 0 {
				if !passesStatusFilter(entry, opt.StatusFieldID, statusSet) {
					continue
				}
			}
			out = append(out, entry)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return out, nil
}

func passesStatusFilter(e model.EntryA, statusFieldID int, statusSet map[string]bool) bool {
	fv, ok := e.Field(statusFieldID)
	if !ok {
		return false
	}
	text := statusText(fv.Value)
	return statusSet[text]
}

func statusText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
	}
	return ""
}

func decodeEntry(we wireEntry) (model.EntryA, error) {
	fields := make([]model.AFieldValue, 0, len(we.Fields))
	for _, f := range we.Fields {
		id, err := fieldIDFromWire(f.ID)
		if err != nil {
			continue
		}
		fields = append(fields, model.AFieldValue{FieldID: id, Value: f.Value})
	}

	lastMod, _ := wiretime.ParseFlexible(we.LastModifiedAt)

	return model.EntryA{
		EntryID:        we.ID,
		EntityID:       we.EntityID,
		EntityType:     model.EntityType(we.EntityType),
		Name:           we.Name,
		Domains:        we.Domains,
		Fields:         fields,
		OwningOrgID:    we.OwningOrgID,
		LastModifiedAt: lastMod,
	}, nil
}

func (c *HTTPClient) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	ctx, cancel := context.WithTimeout(ctx, c.EntryTimeout)
	defer cancel()

	var out Organization
	if err := c.doJSON(ctx, "systema.getOrganization", http.MethodGet,
		"/organizations/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetPerson(ctx context.Context, id int64) (*Person, error) {
	ctx, cancel := context.WithTimeout(ctx, c.EntryTimeout)
	defer cancel()

	var out Person
	if err := c.doJSON(ctx, "systema.getPerson", http.MethodGet,
		"/persons/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEntryFields never issues a write: it logs the staged writes and
// returns ErrWritesUnsupported, per spec §1's Non-goal and §9's open
// question about replaying staged writes once A-write support lands.
func (c *HTTPClient) UpdateEntryFields(_ context.Context, entryID string, entityID int64, writes []StagedWrite) error {
	for i := range writes {
		writes[i].EntryID = entryID
		writes[i].EntityID = entityID
		writes[i].StagedAt = time.Now().UTC()
		log.Info().
			Str("entryId", entryID).
			Int64("entityId", entityID).
			Int("fieldId", writes[i].FieldID).
			Str("fieldName", writes[i].FieldName).
			Interface("value", writes[i].Value).
			Msg("staged system a field write")
	}
	return &ErrWritesUnsupported{StagedCount: len(writes)}
}
