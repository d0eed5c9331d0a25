package admin

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// Mailer is implemented by *email.Dispatcher
type Mailer interface {
	Dispatch(ctx context.Context, msg email.Message) error
}

// TicketHandlers handles support ticket administration
type TicketHandlers struct {
	ticketRepo *repositories.TicketRepository
	userRepo   *repositories.UserRepository
	mailer     Mailer
	templates  *email.Templates
}

// NewTicketHandlers creates a new TicketHandlers instance. Reply notifications are skipped
// when mailer or templates is nil.
func NewTicketHandlers(db *sql.DB, mailer Mailer, templates *email.Templates) *TicketHandlers {
	return &TicketHandlers{
		ticketRepo: repositories.NewTicketRepository(db),
		userRepo:   repositories.NewUserRepository(db),
		mailer:     mailer,
		templates:  templates,
	}
}

// TicketListQuery filters GET /api/admin/tickets
type TicketListQuery struct {
	validation.PageQuery
	Status string `form:"status" binding:"omitempty,oneof=open pending closed"`
	UserID string `form:"user_id" binding:"omitempty,uuid"`
}

// ReplyRequest is the body of POST /api/admin/tickets/:id/reply
type ReplyRequest struct {
	Body string `json:"body" binding:"required,min=1,max=10000"`
}

// SetStatusRequest is the body of PATCH /api/admin/tickets/:id/status
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open pending closed"`
}

// @Summary      List tickets
// @Tags         Admin
// @Produce      json
// @Param        status    query  string  false  "open, pending or closed"
// @Param        user_id   query  string  false  "Owner"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "tickets, pagination"
// @Router       /api/admin/tickets [get]
func (h *TicketHandlers) ListTicketsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q TicketListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, offset := q.Limits()

		tickets, total, err := h.ticketRepo.ListTickets(c.Request.Context(),
			repositories.TicketFilters{UserID: q.UserID, Status: q.Status}, perPage, offset)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"tickets": tickets,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

func (h *TicketHandlers) loadTicket(c *gin.Context) *models.Ticket {
	id, ok := validation.PathID(c, "id")
	if !ok {
		return nil
	}
	t, err := h.ticketRepo.GetTicket(c.Request.Context(), id, "")
	if err != nil {
		apperr.Respond(c, apperr.Internal(err))
		return nil
	}
	if t == nil {
		apperr.Respond(c, apperr.New(apperr.KindNotFound, "ticket not found"))
		return nil
	}
	return t
}

// @Summary      Get ticket
// @Tags         Admin
// @Param        id  path  string  true  "Ticket ID"
// @Success      200  {object}  models.Ticket
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/tickets/{id} [get]
func (h *TicketHandlers) GetTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := h.loadTicket(c)
		if t == nil {
			return
		}
		msgs, err := h.ticketRepo.ListMessages(c.Request.Context(), t.ID)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		t.Messages = msgs
		c.JSON(http.StatusOK, t)
	}
}

// @Summary      Reply to ticket
// @Description  Adds a staff message, moves the ticket to pending and emails the owner
// @Tags         Admin
// @Accept       json
// @Param        id    path  string        true  "Ticket ID"
// @Param        body  body  ReplyRequest  true  "Reply"
// @Success      201  {object}  models.TicketMessage
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/tickets/{id}/reply [post]
func (h *TicketHandlers) ReplyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReplyRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		t := h.loadTicket(c)
		if t == nil {
			return
		}

		ctx := c.Request.Context()
		staffID := c.GetString(middleware.UserIDKey)
		m := &models.TicketMessage{TicketID: t.ID, IsStaff: true, Body: req.Body}
		if staffID != "" {
			m.AuthorID = &staffID
		}
		if err := h.ticketRepo.AddMessage(ctx, m, models.TicketStatusPending); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		h.notifyOwner(ctx, t, req.Body)

		c.Set(middleware.AuditActionKey, "ticket.replied")
		c.Set(middleware.AuditResourceTypeKey, "ticket")
		c.Set(middleware.AuditResourceIDKey, t.ID)
		c.JSON(http.StatusCreated, m)
	}
}

// notifyOwner emails the ticket owner. Failures are logged; the reply is already stored.
func (h *TicketHandlers) notifyOwner(ctx context.Context, t *models.Ticket, body string) {
	if h.mailer == nil || h.templates == nil {
		return
	}
	owner, err := h.userRepo.GetUserByID(ctx, t.UserID)
	if err != nil || owner == nil {
		slog.Warn("ticket owner lookup failed", "ticket_id", t.ID, "error", err)
		return
	}
	msg, err := h.templates.TicketReply(owner.Email, owner.Name, t.ID, t.Subject, body)
	if err != nil {
		slog.Error("failed to render ticket reply email", "ticket_id", t.ID, "error", err)
		return
	}
	if err := h.mailer.Dispatch(ctx, msg); err != nil {
		slog.Warn("failed to queue ticket reply email", "ticket_id", t.ID, "error", err)
	}
}

// @Summary      Set ticket status
// @Tags         Admin
// @Accept       json
// @Param        id    path  string            true  "Ticket ID"
// @Param        body  body  SetStatusRequest  true  "New status"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/admin/tickets/{id}/status [patch]
func (h *TicketHandlers) SetStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SetStatusRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		id, ok := validation.PathID(c, "id")
		if !ok {
			return
		}
		ok, err := h.ticketRepo.SetStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		if !ok {
			apperr.Respond(c, apperr.New(apperr.KindNotFound, "ticket not found"))
			return
		}
		c.Set(middleware.AuditActionKey, "ticket.status_changed")
		c.Set(middleware.AuditResourceTypeKey, "ticket")
		c.Set(middleware.AuditResourceIDKey, id)
		c.Set(middleware.AuditMetadataKey, map[string]interface{}{"status": req.Status})
		c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
	}
}
