package cms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePosts = `[{
	"id": 7,
	"date_gmt": "2026-03-01T10:00:00",
	"modified_gmt": "2026-03-02T11:30:00",
	"slug": "shipping-faster",
	"title": {"rendered": "Shipping &amp; Scaling"},
	"excerpt": {"rendered": "<p>How we ship.</p>\n"},
	"content": {"rendered": "<p>Full body</p>"},
	"categories": [3],
	"tags": [],
	"_embedded": {
		"author": [{"name": "Ada"}],
		"wp:featuredmedia": [{"source_url": "https://cdn.example.com/a.png"}]
	}
}]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *WordPressClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWordPressClient(srv.URL+"/", time.Second)
}

func TestNewWordPressClient_TrimsSlash(t *testing.T) {
	c := NewWordPressClient("https://blog.example.com/", 0)
	assert.Equal(t, "https://blog.example.com", c.BaseURL)
	assert.Equal(t, 10*time.Second, c.HTTPClient.Timeout)
}

func TestListArticles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/posts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		assert.Equal(t, "3", r.URL.Query().Get("categories"))
		assert.Equal(t, "go", r.URL.Query().Get("search"))
		assert.Empty(t, r.URL.Query().Get("tags"))
		w.Header().Set("X-WP-Total", "6")
		w.Header().Set("X-WP-TotalPages", "2")
		w.Write([]byte(samplePosts))
	})

	page, err := c.ListArticles(context.Background(), ArticleQuery{Page: 2, PerPage: 5, Category: 3, Search: "go"})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Articles, 1)

	a := page.Articles[0]
	assert.Equal(t, "Shipping & Scaling", a.Title)
	assert.Equal(t, "How we ship.", a.Excerpt)
	assert.Empty(t, a.Content, "list view omits content")
	assert.Equal(t, "Ada", a.Author)
	assert.Equal(t, "https://cdn.example.com/a.png", a.FeaturedImage)
	assert.Equal(t, []int{}, a.Tags)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), a.PublishedAt)
}

func TestListArticles_DefaultsPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		w.Write([]byte(`[]`))
	})
	page, err := c.ListArticles(context.Background(), ArticleQuery{PerPage: 500})
	require.NoError(t, err)
	assert.Empty(t, page.Articles)
	assert.NotNil(t, page.Articles)
}

func TestListArticles_PagePastEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-WP-Total", "3")
		w.Header().Set("X-WP-TotalPages", "1")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"rest_post_invalid_page_number"}`))
	})
	page, err := c.ListArticles(context.Background(), ArticleQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Articles)
	assert.Equal(t, 3, page.Total)
}

func TestListArticles_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.ListArticles(context.Background(), ArticleQuery{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetArticle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") == "shipping-faster" {
			w.Write([]byte(samplePosts))
			return
		}
		w.Write([]byte(`[]`))
	})

	a, err := c.GetArticle(context.Background(), "shipping-faster")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "<p>Full body</p>", a.Content)

	missing, err := c.GetArticle(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListCategories(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wp/v2/categories", r.URL.Path)
		w.Write([]byte(`[{"id":3,"name":"News &amp; Updates","slug":"news","count":4}]`))
	})
	terms, err := c.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "News & Updates", terms[0].Name)
}

// memoryCache is an in-process Cache for service tests
type memoryCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) ListArticles(context.Context, ArticleQuery) (*ArticlePage, error) {
	s.calls++
	return &ArticlePage{Articles: []Article{{ID: 1, Slug: "a"}}, Total: 1}, s.err
}

func (s *countingSource) GetArticle(_ context.Context, slug string) (*Article, error) {
	s.calls++
	return &Article{Slug: slug}, s.err
}

func (s *countingSource) ListCategories(context.Context) ([]Term, error) {
	s.calls++
	return []Term{{ID: 1}}, s.err
}

func (s *countingSource) ListTags(context.Context) ([]Term, error) {
	s.calls++
	return []Term{}, s.err
}

func TestService_CachesResponses(t *testing.T) {
	src := &countingSource{}
	cache := &memoryCache{data: map[string][]byte{}}
	svc := &Service{src: src, cache: cache, ttl: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		page, err := svc.Articles(ctx, ArticleQuery{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	}
	assert.Equal(t, 1, src.calls)

	_, err := svc.Articles(ctx, ArticleQuery{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "different query uses a different key")

	a, err := svc.Article(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", a.Slug)
	_, _ = svc.Article(ctx, "hello")
	assert.Equal(t, 3, src.calls)
}

func TestService_CacheFailureFallsThrough(t *testing.T) {
	src := &countingSource{}
	svc := &Service{src: src, cache: &memoryCache{data: map[string][]byte{}, failGet: true}, ttl: time.Minute}

	terms, err := svc.Categories(context.Background())
	require.NoError(t, err)
	assert.Len(t, terms, 1)
	_, _ = svc.Categories(context.Background())
	assert.Equal(t, 2, src.calls)
}

func TestService_NoCache(t *testing.T) {
	src := &countingSource{}
	svc := &Service{src: src, ttl: time.Minute}
	_, _ = svc.Tags(context.Background())
	_, _ = svc.Tags(context.Background())
	assert.Equal(t, 2, src.calls)
}

func TestService_ErrorsNotCached(t *testing.T) {
	src := &countingSource{err: ErrUnavailable}
	cache := &memoryCache{data: map[string][]byte{}}
	svc := &Service{src: src, cache: cache, ttl: time.Minute}

	_, err := svc.Tags(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, cache.data)
}
