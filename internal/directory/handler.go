package directory

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler exposes party registration and lookup endpoints.
type Handler struct {
	repo Repository
}

// NewHandler builds a directory HTTP handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

type registerRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type partyResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Register creates a party record.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.Handle = strings.TrimSpace(req.Handle)
	if req.Handle == "" {
		return fiber.NewError(http.StatusBadRequest, "handle is required")
	}
	role := req.Role
	if role == "" {
		role = RoleClient
	}

	p := Party{
		ID:          uuid.NewString(),
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.repo.Create(c.UserContext(), p); err != nil {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(partyResponse{ID: p.ID, Handle: p.Handle, DisplayName: p.DisplayName, Role: p.Role})
}

// Lookup resolves a party by handle.
func (h *Handler) Lookup(c *fiber.Ctx) error {
	handle := c.Params("handle")
	p, err := h.repo.ByHandle(c.UserContext(), handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "party not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(partyResponse{ID: p.ID, Handle: p.Handle, DisplayName: p.DisplayName, Role: p.Role})
}
