package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/repositories"
)

// KeyHandler serves the users' public key registry for client-side
// encryption. Public keys are not group keys and never touch the cipher
// pipeline.
type KeyHandler struct {
	keyRepo repositories.KeyRepository
}

// NewKeyHandler constructs a KeyHandler.
func NewKeyHandler(keyRepo repositories.KeyRepository) *KeyHandler {
	return &KeyHandler{keyRepo: keyRepo}
}

// RegisterPublicKey handles POST /keys/public.
func (h *KeyHandler) RegisterPublicKey(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		PublicKey []byte `json:"public_key" binding:"required"`
		Algorithm string `json:"algorithm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid request payload")
		return
	}

	if err := h.keyRepo.RegisterPublicKey(c.Request.Context(), userID, req.PublicKey, req.Algorithm); err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not register key")
		return
	}
	c.Status(http.StatusCreated)
}

// GetPublicKey handles GET /keys/public/:user_id.
func (h *KeyHandler) GetPublicKey(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid user id")
		return
	}

	key, err := h.keyRepo.PublicKey(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrKeyNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "public key not found")
			return
		}
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not load key")
		return
	}
	c.JSON(http.StatusOK, key)
}
