package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/service"
)

// TicketsHandler exposes ticket and thread endpoints.
type TicketsHandler struct {
	tickets       *service.TicketService
	attachments   *service.AttachmentService
	notifications *service.NotificationService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, attachments *service.AttachmentService, notifications *service.NotificationService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, attachments: attachments, notifications: notifications}
}

// Create handles POST /api/v1/tickets.
func (h *TicketsHandler) Create(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	ticket, seed, err := h.tickets.OpenTicket(c.UserContext(), actor, service.OpenTicketInput{
		Subject:       req.Subject,
		Phone:         req.Phone,
		Body:          req.Message,
		AttachmentURL: req.AttachmentURL,
	})
	if err != nil {
		return err
	}

	resp := dto.OpenTicketResponse{Ticket: dto.NewTicketResponse(ticket)}
	if seed != nil {
		msg := dto.NewMessageResponse(seed)
		resp.Message = &msg
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": resp})
}

// List handles GET /api/v1/tickets.
func (h *TicketsHandler) List(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}

	input := service.ListTicketsInput{}
	if owner := c.Query("owner"); owner != "" {
		input.OwnerID = &owner
	}
	if status := c.Query("status"); status != "" {
		st := domain.TicketStatus(status)
		input.Status = &st
	}
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", defaultPageSize)
	input.Limit = pageSize
	input.Offset = (page - 1) * pageSize

	tickets, err := h.tickets.ListTickets(c.UserContext(), actor, input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.NewTicketResponses(tickets),
		"meta": fiber.Map{"page": page, "page_size": pageSize},
	})
}

// Get handles GET /api/v1/tickets/:id.
func (h *TicketsHandler) Get(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.GetTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Toggle handles POST /api/v1/tickets/:id/toggle.
func (h *TicketsHandler) Toggle(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.tickets.ToggleStatus(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Delete handles DELETE /api/v1/tickets/:id.
func (h *TicketsHandler) Delete(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	if err := h.tickets.DeleteTicket(c.UserContext(), actor, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListMessages handles GET /api/v1/tickets/:id/messages.
func (h *TicketsHandler) ListMessages(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	msgs, err := h.tickets.ListMessages(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponses(msgs)})
}

// AppendMessage handles POST /api/v1/tickets/:id/messages.
// Multipart requests check eligibility, stage the "file" part, then append.
// If the append still fails, the staged URL is returned in the error details.
func (h *TicketsHandler) AppendMessage(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticketID := c.Params("id")

	var input service.AppendMessageInput
	if isMultipart(c) {
		input.Body = c.FormValue("body")
		if header, ok := formFile(c); ok {
			if err := h.tickets.CheckAppend(c.UserContext(), actor, ticketID); err != nil {
				return err
			}
			url, err := stageFormFile(c, h.attachments, actor, header)
			if err != nil {
				return err
			}
			input.AttachmentURL = &url
		}
	} else {
		var req dto.CreateMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return invalidPayload()
		}
		input.Body = req.Body
		input.AttachmentURL = req.AttachmentURL
	}

	msg, err := h.tickets.AppendMessage(c.UserContext(), actor, ticketID, input)
	if err != nil {
		if isMultipart(c) && input.AttachmentURL != nil {
			return withStagedAttachment(err, *input.AttachmentURL)
		}
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}

// MarkRead handles POST /api/v1/tickets/:id/read.
func (h *TicketsHandler) MarkRead(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticketID := c.Params("id")
	if _, err := h.tickets.GetTicket(c.UserContext(), actor, ticketID); err != nil {
		return err
	}
	n, err := h.notifications.MarkRead(c.UserContext(), actor, ticketID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.MarkReadResponse{Updated: n}})
}
