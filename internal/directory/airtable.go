package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Airtable field names of the experts table.
const (
	fieldName       = "Author Name"
	fieldProfession = "Profession(s)"
	fieldBio        = "One line bio"
	fieldAvatar     = "Profile Picture 600 x 600"
	fieldProfile    = "Profile Link"
)

// Defaults for records with blank fields.
const (
	defaultProfession = "Professional Guide"
	defaultName       = "Expert"
)

// AirtableSource lists experts from an Airtable table through the REST API.
type AirtableSource struct {
	baseURL    string
	apiKey     string
	baseID     string
	table      string
	maxRecords int
	httpClient *http.Client
}

// AirtableConfig configures an AirtableSource.
type AirtableConfig struct {
	BaseURL    string // Defaults to https://api.airtable.com.
	APIKey     string
	BaseID     string
	Table      string // Table name or id.
	MaxRecords int
}

// NewAirtableSource creates an Airtable-backed source.
func NewAirtableSource(cfg AirtableConfig) *AirtableSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.airtable.com"
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	return &AirtableSource{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		baseID:     cfg.BaseID,
		table:      cfg.Table,
		maxRecords: cfg.MaxRecords,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Name implements Source.
func (s *AirtableSource) Name() string { return "airtable" }

type airtablePage struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset"`
}

type airtableRecord struct {
	ID     string                     `json:"id"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// ListCandidates implements Source. It follows the offset cursor until
// maxRecords records have been read or the table is exhausted.
func (s *AirtableSource) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	var out []model.Candidate
	offset := ""
	for {
		page, err := s.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			out = append(out, rec.candidate())
			if len(out) >= s.maxRecords {
				return out, nil
			}
		}
		if page.Offset == "" {
			return out, nil
		}
		offset = page.Offset
	}
}

func (s *AirtableSource) fetchPage(ctx context.Context, offset string) (airtablePage, error) {
	q := url.Values{}
	q.Set("maxRecords", strconv.Itoa(s.maxRecords))
	q.Set("pageSize", strconv.Itoa(min(s.maxRecords, 100)))
	for _, f := range []string{fieldName, fieldProfession, fieldBio, fieldAvatar, fieldProfile} {
		q.Add("fields[]", f)
	}
	if offset != "" {
		q.Set("offset", offset)
	}
	endpoint := fmt.Sprintf("%s/v0/%s/%s?%s", s.baseURL, url.PathEscape(s.baseID), url.PathEscape(s.table), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return airtablePage{}, fmt.Errorf("airtable: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return airtablePage{}, fmt.Errorf("airtable: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return airtablePage{}, fmt.Errorf("airtable: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page airtablePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return airtablePage{}, fmt.Errorf("airtable: decode response: %w", err)
	}
	return page, nil
}

func (r airtableRecord) candidate() model.Candidate {
	c := model.Candidate{
		ID:         r.ID,
		Name:       r.text(fieldName),
		Profession: r.text(fieldProfession),
		Bio:        r.text(fieldBio),
		ProfileURL: r.text(fieldProfile),
	}
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Profession == "" {
		c.Profession = defaultProfession
	}
	var attachments []struct {
		URL string `json:"url"`
	}
	if raw, ok := r.Fields[fieldAvatar]; ok && json.Unmarshal(raw, &attachments) == nil && len(attachments) > 0 {
		c.AvatarURL = attachments[0].URL
	}
	return c
}

// text reads a field that may be a plain string or a multi-select list.
func (r airtableRecord) text(field string) string {
	raw, ok := r.Fields[field]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, ", ")
	}
	return ""
}
