// Package cms reads published articles from a headless WordPress site through its REST API
// (/wp-json/wp/v2) and caches the responses in Redis when available.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable wraps transport and upstream failures so handlers can answer 502
var ErrUnavailable = errors.New("content service unavailable")

// WordPressClient is a read-only client for the WordPress REST API
type WordPressClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewWordPressClient creates a client for the WordPress site at baseURL
func NewWordPressClient(baseURL string, timeout time.Duration) *WordPressClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WordPressClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Article is a published post flattened for the public site
type Article struct {
	ID            int       `json:"id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	Excerpt       string    `json:"excerpt"`
	Content       string    `json:"content,omitempty"`
	Author        string    `json:"author,omitempty"`
	FeaturedImage string    `json:"featured_image,omitempty"`
	Categories    []int     `json:"categories"`
	Tags          []int     `json:"tags"`
	PublishedAt   time.Time `json:"published_at"`
	ModifiedAt    time.Time `json:"modified_at"`
}

// Term is a category or tag
type Term struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// ArticleQuery selects a page of articles. Zero values mean "no filter".
type ArticleQuery struct {
	Page     int
	PerPage  int
	Category int
	Tag      int
	Search   string
}

// ArticlePage is one page of articles plus the totals WordPress reports in headers
type ArticlePage struct {
	Articles   []Article `json:"articles"`
	Page       int       `json:"page"`
	PerPage    int       `json:"per_page"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

type rendered struct {
	Rendered string `json:"rendered"`
}

// wpPost mirrors the fields of /wp/v2/posts?_embed we use
type wpPost struct {
	ID         int      `json:"id"`
	Date       string   `json:"date_gmt"`
	Modified   string   `json:"modified_gmt"`
	Slug       string   `json:"slug"`
	Title      rendered `json:"title"`
	Excerpt    rendered `json:"excerpt"`
	Content    rendered `json:"content"`
	Categories []int    `json:"categories"`
	Tags       []int    `json:"tags"`
	Embedded   struct {
		Author []struct {
			Name string `json:"name"`
		} `json:"author"`
		FeaturedMedia []struct {
			SourceURL string `json:"source_url"`
		} `json:"wp:featuredmedia"`
	} `json:"_embedded"`
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText strips markup and decodes entities from a WordPress rendered field
func plainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}

func parseWPTime(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (p wpPost) toArticle(withContent bool) Article {
	a := Article{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       plainText(p.Title.Rendered),
		Excerpt:     plainText(p.Excerpt.Rendered),
		Categories:  p.Categories,
		Tags:        p.Tags,
		PublishedAt: parseWPTime(p.Date),
		ModifiedAt:  parseWPTime(p.Modified),
	}
	if withContent {
		a.Content = p.Content.Rendered
	}
	if len(p.Embedded.Author) > 0 {
		a.Author = p.Embedded.Author[0].Name
	}
	if len(p.Embedded.FeaturedMedia) > 0 {
		a.FeaturedImage = p.Embedded.FeaturedMedia[0].SourceURL
	}
	if a.Categories == nil {
		a.Categories = []int{}
	}
	if a.Tags == nil {
		a.Tags = []int{}
	}
	return a
}

// get performs a GET against /wp-json/wp/v2/<path> and decodes the JSON body into dst
func (w *WordPressClient) get(ctx context.Context, path string, query url.Values, dst interface{}) (http.Header, error) {
	endpoint := fmt.Sprintf("%s/wp-json/wp/v2/%s", w.BaseURL, path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// WordPress answers 400 for a page past the end
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(body), "rest_post_invalid_page_number") {
			return resp.Header, errPageOutOfRange
		}
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", ErrUnavailable, path, err)
	}
	return resp.Header, nil
}

var errPageOutOfRange = errors.New("page out of range")

// ListArticles returns a page of published posts, newest first
func (w *WordPressClient) ListArticles(ctx context.Context, q ArticleQuery) (*ArticlePage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 || q.PerPage > 100 {
		q.PerPage = 10
	}

	query := url.Values{
		"page":     {strconv.Itoa(q.Page)},
		"per_page": {strconv.Itoa(q.PerPage)},
		"status":   {"publish"},
		"_embed":   {"1"},
	}
	if q.Category > 0 {
		query.Set("categories", strconv.Itoa(q.Category))
	}
	if q.Tag > 0 {
		query.Set("tags", strconv.Itoa(q.Tag))
	}
	if q.Search != "" {
		query.Set("search", q.Search)
	}

	page := &ArticlePage{Articles: []Article{}, Page: q.Page, PerPage: q.PerPage}

	var posts []wpPost
	header, err := w.get(ctx, "posts", query, &posts)
	if errors.Is(err, errPageOutOfRange) {
		page.Total, page.TotalPages = totals(header)
		return page, nil
	}
	if err != nil {
		return nil, err
	}

	for _, p := range posts {
		page.Articles = append(page.Articles, p.toArticle(false))
	}
	page.Total, page.TotalPages = totals(header)
	return page, nil
}

func totals(h http.Header) (int, int) {
	if h == nil {
		return 0, 0
	}
	total, _ := strconv.Atoi(h.Get("X-WP-Total"))
	pages, _ := strconv.Atoi(h.Get("X-WP-TotalPages"))
	return total, pages
}

// GetArticle returns the published post with the given slug, or nil when none exists
func (w *WordPressClient) GetArticle(ctx context.Context, slug string) (*Article, error) {
	var posts []wpPost
	query := url.Values{"slug": {slug}, "status": {"publish"}, "_embed": {"1"}}
	if _, err := w.get(ctx, "posts", query, &posts); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, nil
	}
	a := posts[0].toArticle(true)
	return &a, nil
}

func (w *WordPressClient) listTerms(ctx context.Context, taxonomy string) ([]Term, error) {
	terms := []Term{}
	query := url.Values{"per_page": {"100"}, "hide_empty": {"true"}, "orderby": {"count"}, "order": {"desc"}}
	if _, err := w.get(ctx, taxonomy, query, &terms); err != nil {
		return nil, err
	}
	for i := range terms {
		terms[i].Name = plainText(terms[i].Name)
	}
	return terms, nil
}

// ListCategories returns non-empty categories ordered by post count
func (w *WordPressClient) ListCategories(ctx context.Context) ([]Term, error) {
	return w.listTerms(ctx, "categories")
}

// ListTags returns non-empty tags ordered by post count
func (w *WordPressClient) ListTags(ctx context.Context) ([]Term, error) {
	return w.listTerms(ctx, "tags")
}
