package public

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// Mailer is implemented by *email.Dispatcher
type Mailer interface {
	Dispatch(ctx context.Context, msg email.Message) error
}

// ContactHandlers forwards contact form submissions to the agency inbox
type ContactHandlers struct {
	mailer    Mailer
	templates *email.Templates
	inbox     string
}

// NewContactHandlers creates a new ContactHandlers instance. An empty inbox disables the form.
func NewContactHandlers(mailer Mailer, templates *email.Templates, inbox string) *ContactHandlers {
	return &ContactHandlers{mailer: mailer, templates: templates, inbox: inbox}
}

// ContactRequest is the body of POST /api/public/contact
type ContactRequest struct {
	Name    string `json:"name" binding:"required,min=1,max=100"`
	Email   string `json:"email" binding:"required,email,max=254"`
	Message string `json:"message" binding:"required,min=10,max=5000"`
}

// @Summary      Contact form
// @Tags         Public
// @Accept       json
// @Param        body  body  ContactRequest  true  "Message"
// @Success      202  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]interface{}  "Contact inbox not configured"
// @Router       /api/public/contact [post]
func (h *ContactHandlers) SubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ContactRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if h.inbox == "" || h.mailer == nil || h.templates == nil {
			apperr.Respond(c, apperr.New(apperr.KindUnavailable, "the contact form is not available"))
			return
		}

		msg, err := h.templates.Contact(h.inbox, strings.TrimSpace(req.Name), req.Email, req.Message)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if err := h.mailer.Dispatch(c.Request.Context(), msg); err != nil {
			slog.Error("failed to queue contact message", "error", err)
			apperr.Respond(c, apperr.New(apperr.KindUnavailable, "your message could not be sent, please try again later"))
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Thanks! We'll be in touch soon."})
	}
}
