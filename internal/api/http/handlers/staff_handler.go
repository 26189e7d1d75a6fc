package handlers

import (
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
)

// StaffHandler manages the staff roster. Routes are mounted behind auth.RequireStaff.
type StaffHandler struct {
	roster *service.StaffService
}

// NewStaffHandler constructs handler.
func NewStaffHandler(roster *service.StaffService) *StaffHandler {
	return &StaffHandler{roster: roster}
}

// List handles GET /api/v1/staff.
func (h *StaffHandler) List(c *fiber.Ctx) error {
	members, err := h.roster.List(c.UserContext())
	if err != nil {
		return err
	}
	resp := make([]dto.StaffMemberResponse, 0, len(members))
	for i := range members {
		resp = append(resp, staffResponse(&members[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Grant handles POST /api/v1/staff.
func (h *StaffHandler) Grant(c *fiber.Ctx) error {
	var req dto.GrantStaffRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	member, err := h.roster.Grant(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": staffResponse(member)})
}

// Revoke handles DELETE /api/v1/staff/:email.
func (h *StaffHandler) Revoke(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		return invalidPayload()
	}
	if err := h.roster.Revoke(c.UserContext(), email); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

func staffResponse(member *repository.StaffMember) dto.StaffMemberResponse {
	return dto.StaffMemberResponse{
		UserID:    member.UserID,
		Name:      member.Name,
		Email:     member.Email,
		GrantedAt: member.GrantedAt,
	}
}
