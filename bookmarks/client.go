package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/hippocampus/sessionsync/internal/errors"
)

const (
	LinksGetPath    = "/links/get"
	LinksSavePath   = "/links/save"
	LinksSearchPath = "/links/search"
	LinksDeletePath = "/links/delete"
	NotesPath       = "/notes/"
	QuotesPath      = "/quotes/"
	CollectionsPath = "/collections/"
	SummaryPath     = "/summary/generate"

	// AllTypes disables the type filter of a search.
	AllTypes = "All"
)

// Doer sends authenticated JSON requests. *gateway.Gateway implements it.
type Doer interface {
	JSON(ctx context.Context, method, endpoint string, in, out any) error
}

// Memory is a saved link or note as returned by the backend.
type Memory struct {
	ID        string  `json:"id,omitempty"`
	DocID     string  `json:"doc_id,omitempty"`
	UserID    string  `json:"user_id,omitempty"`
	Title     string  `json:"title,omitempty"`
	Type      string  `json:"type,omitempty"`
	Note      string  `json:"note,omitempty"`
	SourceURL string  `json:"source_url,omitempty"`
	SiteName  string  `json:"site_name,omitempty"`
	Date      string  `json:"date,omitempty"`
	Space     *string `json:"space,omitempty"`
}

type Note struct {
	Title string  `json:"title"`
	Note  string  `json:"note"`
	Space *string `json:"space,omitempty"`
}

type Collections struct {
	UserID      string   `json:"userId"`
	Collections []string `json:"collections"`
}

// Library is every saved link and note of the user.
type Library struct {
	Links []Memory `json:"links"`
	Notes []Memory `json:"notes"`
}

type searchFilter struct {
	Type map[string]string `json:"type"`
}

type searchRequest struct {
	Query  string        `json:"query"`
	Filter *searchFilter `json:"filter,omitempty"`
}

// Client is the bookmarks backend API. Every call carries the session's access token.
type Client struct {
	doer Doer
}

func NewClient(doer Doer) *Client {
	return &Client{doer: doer}
}

// SubmitLink saves a page. link is forwarded unchanged.
func (c *Client) SubmitLink(ctx context.Context, link json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doer.JSON(ctx, http.MethodPost, LinksSavePath, link, &out); err != nil {
		return nil, fmt.Errorf("[SubmitLink] %w", err)
	}
	return out, nil
}

func (c *Client) SaveNote(ctx context.Context, note Note) (json.RawMessage, error) {
	if strings.TrimSpace(note.Title) == "" || strings.TrimSpace(note.Note) == "" {
		return nil, fmt.Errorf("[SaveNote] title and note are required: %w", apperrors.ErrInvalidRequest)
	}
	var out json.RawMessage
	if err := c.doer.JSON(ctx, http.MethodPost, NotesPath, note, &out); err != nil {
		return nil, fmt.Errorf("[SaveNote] %w", err)
	}
	return out, nil
}

// SearchAll fetches links and notes concurrently. Either failure fails the whole call.
func (c *Client) SearchAll(ctx context.Context) (Library, error) {
	var lib Library
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.doer.JSON(gctx, http.MethodGet, LinksGetPath, nil, &lib.Links)
	})
	g.Go(func() error {
		return c.doer.JSON(gctx, http.MethodGet, NotesPath, nil, &lib.Notes)
	})
	if err := g.Wait(); err != nil {
		return Library{}, fmt.Errorf("[SearchAll] %w", err)
	}
	if lib.Links == nil {
		lib.Links = []Memory{}
	}
	if lib.Notes == nil {
		lib.Notes = []Memory{}
	}
	return lib, nil
}

// Search runs a semantic search over saved links. An empty memType or AllTypes searches every type.
func (c *Client) Search(ctx context.Context, query, memType string) (json.RawMessage, error) {
	req := searchRequest{Query: query}
	if memType != "" && memType != AllTypes {
		req.Filter = &searchFilter{Type: map[string]string{"$eq": memType}}
	}
	var out json.RawMessage
	if err := c.doer.JSON(ctx, http.MethodPost, LinksSearchPath, req, &out); err != nil {
		return nil, fmt.Errorf("[Search] %w", err)
	}
	return out, nil
}

func (c *Client) DeleteLink(ctx context.Context, docID string) (json.RawMessage, error) {
	if docID == "" {
		return nil, fmt.Errorf("[DeleteLink] doc id is required: %w", apperrors.ErrInvalidRequest)
	}
	var out json.RawMessage
	endpoint := LinksDeletePath + "?doc_id_pincone=" + url.QueryEscape(docID)
	if err := c.doer.JSON(ctx, http.MethodDelete, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("[DeleteLink] %w", err)
	}
	return out, nil
}

func (c *Client) DeleteNote(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("[DeleteNote] note id is required: %w", apperrors.ErrInvalidRequest)
	}
	var out json.RawMessage
	if err := c.doer.JSON(ctx, http.MethodDelete, NotesPath+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("[DeleteNote] %w", err)
	}
	return out, nil
}

func (c *Client) Quotes(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doer.JSON(ctx, http.MethodGet, QuotesPath, nil, &out); err != nil {
		return nil, fmt.Errorf("[Quotes] %w", err)
	}
	return out, nil
}

func (c *Client) Collections(ctx context.Context) (Collections, error) {
	var out Collections
	if err := c.doer.JSON(ctx, http.MethodGet, CollectionsPath, nil, &out); err != nil {
		return Collections{}, fmt.Errorf("[Collections] %w", err)
	}
	return out, nil
}

// Summarize asks the backend for a summary of content. The endpoint is limited to a
// few calls per day; exceeding it returns errors.ErrRateLimited.
func (c *Client) Summarize(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("[Summarize] content is required: %w", apperrors.ErrInvalidRequest)
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.doer.JSON(ctx, http.MethodPost, SummaryPath, map[string]string{"content": content}, &out); err != nil {
		return "", fmt.Errorf("[Summarize] %w", err)
	}
	return out.Summary, nil
}
