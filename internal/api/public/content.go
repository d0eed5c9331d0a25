// Package public implements the unauthenticated site endpoints under /api/public: blog
// content proxied from WordPress, the public site settings and the contact form.
package public

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/cms"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,199}$`)

// Content is implemented by *cms.Service
type Content interface {
	Articles(ctx context.Context, q cms.ArticleQuery) (*cms.ArticlePage, error)
	Article(ctx context.Context, slug string) (*cms.Article, error)
	Categories(ctx context.Context) ([]cms.Term, error)
	Tags(ctx context.Context) ([]cms.Term, error)
}

// SettingsSource is implemented by *repositories.SettingsRepository
type SettingsSource interface {
	ListSettings(ctx context.Context, publicOnly bool) ([]models.SiteSetting, error)
}

// ContentHandlers serves articles, taxonomies and public settings
type ContentHandlers struct {
	content  Content
	settings SettingsSource
}

// NewContentHandlers creates a new ContentHandlers instance. A nil content source makes
// the article endpoints answer 503.
func NewContentHandlers(content Content, settings SettingsSource) *ContentHandlers {
	return &ContentHandlers{content: content, settings: settings}
}

// ArticleListQuery is the query of GET /api/public/articles
type ArticleListQuery struct {
	validation.PageQuery
	Category int    `form:"category" binding:"omitempty,min=1"`
	Tag      int    `form:"tag" binding:"omitempty,min=1"`
	Search   string `form:"search" binding:"omitempty,max=100"`
}

var errContentUnavailable = apperr.New(apperr.KindUnavailable, "content is temporarily unavailable")

func (h *ContentHandlers) upstreamFailed(c *gin.Context, what string, err error) {
	slog.Warn("cms request failed", "what", what, "error", err)
	apperr.Respond(c, errContentUnavailable)
}

// @Summary      List articles
// @Tags         Public
// @Produce      json
// @Param        category  query  int     false  "Category ID"
// @Param        tag       query  int     false  "Tag ID"
// @Param        search    query  string  false  "Full-text search"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  cms.ArticlePage
// @Failure      503  {object}  map[string]interface{}
// @Router       /api/public/articles [get]
func (h *ContentHandlers) ListArticlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.content == nil {
			apperr.Respond(c, errContentUnavailable)
			return
		}
		var q ArticleListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, _ := q.Limits()

		res, err := h.content.Articles(c.Request.Context(), cms.ArticleQuery{
			Page:     page,
			PerPage:  perPage,
			Category: q.Category,
			Tag:      q.Tag,
			Search:   q.Search,
		})
		if err != nil {
			h.upstreamFailed(c, "articles", err)
			return
		}
		c.Header("Cache-Control", "public, max-age=60")
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Get article
// @Tags         Public
// @Param        slug  path  string  true  "Article slug"
// @Success      200  {object}  cms.Article
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/public/articles/{slug} [get]
func (h *ContentHandlers) GetArticleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.content == nil {
			apperr.Respond(c, errContentUnavailable)
			return
		}
		slug := c.Param("slug")
		if !slugPattern.MatchString(slug) {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "article not found"))
			return
		}
		article, err := h.content.Article(c.Request.Context(), slug)
		if err != nil {
			h.upstreamFailed(c, "article", err)
			return
		}
		if article == nil {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "article not found"))
			return
		}
		c.Header("Cache-Control", "public, max-age=60")
		c.JSON(http.StatusOK, article)
	}
}

// @Summary      List categories
// @Tags         Public
// @Success      200  {object}  map[string]interface{}  "categories: []cms.Term"
// @Router       /api/public/categories [get]
func (h *ContentHandlers) ListCategoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.content == nil {
			apperr.Respond(c, errContentUnavailable)
			return
		}
		terms, err := h.content.Categories(c.Request.Context())
		if err != nil {
			h.upstreamFailed(c, "categories", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"categories": terms})
	}
}

// @Summary      List tags
// @Tags         Public
// @Success      200  {object}  map[string]interface{}  "tags: []cms.Term"
// @Router       /api/public/tags [get]
func (h *ContentHandlers) ListTagsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.content == nil {
			apperr.Respond(c, errContentUnavailable)
			return
		}
		terms, err := h.content.Tags(c.Request.Context())
		if err != nil {
			h.upstreamFailed(c, "tags", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tags": terms})
	}
}

// @Summary      Public site settings
// @Description  Settings flagged public, as a key to value map
// @Tags         Public
// @Success      200  {object}  map[string]interface{}
// @Router       /api/public/settings [get]
func (h *ContentHandlers) SettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := h.settings.ListSettings(c.Request.Context(), true)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		out := make(map[string]interface{}, len(settings))
		for _, s := range settings {
			out[s.Key] = s.Value
		}
		c.JSON(http.StatusOK, gin.H{"settings": out})
	}
}
