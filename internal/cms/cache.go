package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// Cache stores serialized responses. A miss returns (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache implements Cache on a Redis client under a key namespace
type RedisCache struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisCache wraps an existing client
func NewRedisCache(client redis.UniversalClient, namespace string) *RedisCache {
	return &RedisCache{client: client, namespace: namespace}
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.namespace+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.namespace+":"+key, value, ttl).Err()
}

// source is satisfied by *WordPressClient
type source interface {
	ListArticles(ctx context.Context, q ArticleQuery) (*ArticlePage, error)
	GetArticle(ctx context.Context, slug string) (*Article, error)
	ListCategories(ctx context.Context) ([]Term, error)
	ListTags(ctx context.Context) ([]Term, error)
}

// Service serves CMS content, reading through the cache when one is configured
type Service struct {
	src   source
	cache Cache
	ttl   time.Duration
}

// NewService creates a content service. cache may be nil.
func NewService(client *WordPressClient, cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{src: client, cache: cache, ttl: ttl}
}

// cached returns the cached value for key, or calls fetch, stores, and returns its result.
// Cache failures degrade to a direct fetch.
func cached[T any](ctx context.Context, s *Service, key string, fetch func() (T, error)) (T, error) {
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("cms cache read failed", "key", key, "error", err)
		} else if ok {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				telemetry.CMSCacheRequestsTotal.WithLabelValues("hit").Inc()
				return v, nil
			}
		}
		telemetry.CMSCacheRequestsTotal.WithLabelValues("miss").Inc()
	}

	v, err := fetch()
	if err != nil || s.cache == nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
			slog.Warn("cms cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}

// Articles returns a page of articles
func (s *Service) Articles(ctx context.Context, q ArticleQuery) (*ArticlePage, error) {
	key := fmt.Sprintf("articles:%d:%d:%d:%d:%s", q.Page, q.PerPage, q.Category, q.Tag, q.Search)
	return cached(ctx, s, key, func() (*ArticlePage, error) { return s.src.ListArticles(ctx, q) })
}

// Article returns one article by slug, or nil when it does not exist
func (s *Service) Article(ctx context.Context, slug string) (*Article, error) {
	return cached(ctx, s, "article:"+slug, func() (*Article, error) { return s.src.GetArticle(ctx, slug) })
}

// Categories returns the category list
func (s *Service) Categories(ctx context.Context) ([]Term, error) {
	return cached(ctx, s, "categories", func() ([]Term, error) { return s.src.ListCategories(ctx) })
}

// Tags returns the tag list
func (s *Service) Tags(ctx context.Context) ([]Term, error) {
	return cached(ctx, s, "tags", func() ([]Term, error) { return s.src.ListTags(ctx) })
}
