package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/crypto"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// GroupHandler manages group creation and the key lifecycle endpoints.
type GroupHandler struct {
	groupRepo repositories.GroupRepository
	keyRepo   repositories.KeyRepository
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groupRepo repositories.GroupRepository, keyRepo repositories.KeyRepository, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo, keyRepo: keyRepo, audit: audit}
}

// CreateGroup handles POST /groups. The group's first symmetric key is
// created with it; a group with no key is never observable.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Name      string `json:"name" binding:"required"`
		IsPrivate bool   `json:"is_private"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid request payload")
		return
	}

	material, err := crypto.NewKeyMaterial()
	if err != nil {
		h.emitAudit(c, "ERROR", "key generation failed")
		respondError(c, http.StatusInternalServerError, CodeEncryption, "could not create group key")
		return
	}
	key := models.GroupKey{ID: uuid.NewString(), Material: material, Algorithm: models.AlgorithmAESGCM}

	group, err := h.groupRepo.CreateGroup(c.Request.Context(), userID, req.Name, req.IsPrivate, req.MemberIDs, key)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not create group")
		return
	}

	h.emitAudit(c, "INFO", "group created")
	c.JSON(http.StatusCreated, gin.H{"group_id": group.ID})
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	userID := c.GetInt("userID")
	groups, err := h.groupRepo.ListGroupsForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "failed to load groups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// RotateKey handles POST /groups/:group_id/keys/rotate. Owner only: members
// get 403, non-members get the indistinguishable 404. The revoked key stays
// stored so old messages remain attributable.
func (h *GroupHandler) RotateKey(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid group id")
		return
	}
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	member, err := h.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "membership check failed")
		return
	}
	if !member {
		respondError(c, http.StatusNotFound, CodeNotFound, groupNotFoundMsg)
		return
	}

	group, err := h.groupRepo.GetGroup(ctx, groupID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "failed to load group")
		return
	}
	if group.OwnerID != userID {
		h.emitAudit(c, "ERROR", "key rotation denied")
		respondError(c, http.StatusForbidden, CodeForbidden, "only the owner may rotate keys")
		return
	}

	material, err := crypto.NewKeyMaterial()
	if err != nil {
		h.emitAudit(c, "ERROR", "key generation failed")
		respondError(c, http.StatusInternalServerError, CodeEncryption, "could not create group key")
		return
	}

	key, err := h.keyRepo.RotateKey(ctx, groupID, material)
	if err != nil {
		h.emitAudit(c, "ERROR", "key rotation failed")
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not rotate key")
		return
	}

	h.emitAudit(c, "INFO", "group key rotated")
	c.JSON(http.StatusCreated, gin.H{"key_id": key.ID})
}

// RevokeKey handles POST /groups/:group_id/keys/:key_id/revoke. Owner only,
// same authorization shape as rotation. Unlike rotation no replacement key is
// minted; sends fall back to the newest key that is still active, and fail
// with an encryption error if none is left.
func (h *GroupHandler) RevokeKey(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid group id")
		return
	}
	keyID, err := uuid.Parse(c.Param("key_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid key id")
		return
	}
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	member, err := h.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "membership check failed")
		return
	}
	if !member {
		respondError(c, http.StatusNotFound, CodeNotFound, groupNotFoundMsg)
		return
	}

	group, err := h.groupRepo.GetGroup(ctx, groupID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "failed to load group")
		return
	}
	if group.OwnerID != userID {
		h.emitAudit(c, "ERROR", "key revocation denied")
		respondError(c, http.StatusForbidden, CodeForbidden, "only the owner may revoke keys")
		return
	}

	if err := h.keyRepo.RevokeKey(ctx, groupID, keyID.String()); err != nil {
		if errors.Is(err, repositories.ErrKeyNotFound) {
			respondError(c, http.StatusNotFound, CodeNotFound, "key not found")
			return
		}
		h.emitAudit(c, "ERROR", "key revocation failed")
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not revoke key")
		return
	}

	h.emitAudit(c, "INFO", "group key revoked")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
