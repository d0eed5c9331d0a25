package dashboard

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/validation"
)

// TicketStore is implemented by *repositories.TicketRepository
type TicketStore interface {
	CreateTicket(ctx context.Context, t *models.Ticket, body string) error
	GetTicket(ctx context.Context, ticketID, ownerID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, filters repositories.TicketFilters, limit, offset int) ([]*models.Ticket, int, error)
	ListMessages(ctx context.Context, ticketID string) ([]models.TicketMessage, error)
	AddMessage(ctx context.Context, m *models.TicketMessage, newStatus string) error
	SetStatus(ctx context.Context, ticketID, status string) (bool, error)
}

// TicketHandlers handles /api/dashboard/tickets. Every lookup is scoped to the caller, so
// another user's ticket is reported as not found.
type TicketHandlers struct {
	tickets TicketStore
}

// NewTicketHandlers creates a new TicketHandlers instance
func NewTicketHandlers(tickets TicketStore) *TicketHandlers {
	return &TicketHandlers{tickets: tickets}
}

// CreateTicketRequest is the body of POST /api/dashboard/tickets
type CreateTicketRequest struct {
	Subject  string `json:"subject" binding:"required,min=3,max=200"`
	Message  string `json:"message" binding:"required,min=1,max=10000"`
	Priority string `json:"priority" binding:"omitempty,oneof=low normal high"`
}

// TicketMessageRequest is the body of POST /api/dashboard/tickets/:id/messages
type TicketMessageRequest struct {
	Body string `json:"body" binding:"required,min=1,max=10000"`
}

// TicketListQuery filters GET /api/dashboard/tickets
type TicketListQuery struct {
	validation.PageQuery
	Status string `form:"status" binding:"omitempty,oneof=open pending closed"`
}

// @Summary      List my tickets
// @Tags         Dashboard
// @Produce      json
// @Param        status    query  string  false  "open, pending or closed"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page (default 20, max 100)"
// @Success      200  {object}  map[string]interface{}  "tickets, pagination"
// @Router       /api/dashboard/tickets [get]
func (h *TicketHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var q TicketListQuery
		if errs := validation.BindQuery(c, &q); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		page, perPage, offset := q.Limits()

		tickets, total, err := h.tickets.ListTickets(c.Request.Context(),
			repositories.TicketFilters{UserID: user.ID, Status: q.Status}, perPage, offset)
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

// @Summary      Open a ticket
// @Tags         Dashboard
// @Accept       json
// @Produce      json
// @Param        body  body  CreateTicketRequest  true  "Subject and first message"
// @Success      201  {object}  models.Ticket
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/dashboard/tickets [post]
func (h *TicketHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var req CreateTicketRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		if req.Priority == "" {
			req.Priority = models.TicketPriorityNormal
		}

		t := &models.Ticket{
			UserID:   user.ID,
			Subject:  strings.TrimSpace(req.Subject),
			Status:   models.TicketStatusOpen,
			Priority: req.Priority,
		}
		if err := h.tickets.CreateTicket(c.Request.Context(), t, req.Message); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		t.MessageCount = 1
		c.Set(middleware.AuditActionKey, "ticket.created")
		c.Set(middleware.AuditResourceTypeKey, "ticket")
		c.Set(middleware.AuditResourceIDKey, t.ID)
		c.JSON(http.StatusCreated, t)
	}
}

// ownTicket loads the caller's ticket or writes 404
func (h *TicketHandlers) ownTicket(c *gin.Context, userID string) *models.Ticket {
	id, ok := validation.PathID(c, "id")
	if !ok {
		return nil
	}
	t, err := h.tickets.GetTicket(c.Request.Context(), id, userID)
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

// @Summary      Get ticket with messages
// @Tags         Dashboard
// @Param        id  path  string  true  "Ticket ID"
// @Success      200  {object}  models.Ticket
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/dashboard/tickets/{id} [get]
func (h *TicketHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		t := h.ownTicket(c, user.ID)
		if t == nil {
			return
		}
		msgs, err := h.tickets.ListMessages(c.Request.Context(), t.ID)
		if err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		t.Messages = msgs
		c.JSON(http.StatusOK, t)
	}
}

// @Summary      Reply to my ticket
// @Description  A reply reopens a pending or closed ticket
// @Tags         Dashboard
// @Accept       json
// @Param        id    path  string                true  "Ticket ID"
// @Param        body  body  TicketMessageRequest  true  "Message"
// @Success      201  {object}  models.TicketMessage
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/dashboard/tickets/{id}/messages [post]
func (h *TicketHandlers) AddMessageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		var req TicketMessageRequest
		if errs := validation.BindJSON(c, &req); errs != nil {
			apperr.Respond(c, apperr.Validation(errs))
			return
		}
		t := h.ownTicket(c, user.ID)
		if t == nil {
			return
		}

		authorID := user.ID
		m := &models.TicketMessage{TicketID: t.ID, AuthorID: &authorID, Body: req.Body}
		if err := h.tickets.AddMessage(c.Request.Context(), m, models.TicketStatusOpen); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.Set(middleware.AuditResourceTypeKey, "ticket")
		c.Set(middleware.AuditResourceIDKey, t.ID)
		c.JSON(http.StatusCreated, m)
	}
}

// @Summary      Close my ticket
// @Tags         Dashboard
// @Param        id  path  string  true  "Ticket ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]interface{}
// @Router       /api/dashboard/tickets/{id}/close [post]
func (h *TicketHandlers) CloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == nil {
			return
		}
		t := h.ownTicket(c, user.ID)
		if t == nil {
			return
		}
		if _, err := h.tickets.SetStatus(c.Request.Context(), t.ID, models.TicketStatusClosed); err != nil {
			apperr.Respond(c, apperr.Internal(err))
			return
		}
		c.Set(middleware.AuditActionKey, "ticket.closed")
		c.Set(middleware.AuditResourceTypeKey, "ticket")
		c.Set(middleware.AuditResourceIDKey, t.ID)
		c.JSON(http.StatusOK, gin.H{"id": t.ID, "status": models.TicketStatusClosed})
	}
}
