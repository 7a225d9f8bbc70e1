package handlers

import (
	"context"
	"encoding/hex"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/crypto"
	"messaging-service/internal/guard"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MessageHandler runs the message admission pipeline: quota, membership,
// replay check, cipher selection, append, fan-out.
type MessageHandler struct {
	groupRepo    repositories.GroupRepository
	keyRepo      repositories.KeyRepository
	messageRepo  repositories.MessageRepository
	replay       *guard.ReplayGuard
	sendLimiter  *guard.RateLimiter
	fetchLimiter *guard.RateLimiter
	hub          *ws.Hub
	audit        *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(
	groupRepo repositories.GroupRepository,
	keyRepo repositories.KeyRepository,
	messageRepo repositories.MessageRepository,
	replay *guard.ReplayGuard,
	sendLimiter *guard.RateLimiter,
	fetchLimiter *guard.RateLimiter,
	hub *ws.Hub,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		groupRepo:    groupRepo,
		keyRepo:      keyRepo,
		messageRepo:  messageRepo,
		replay:       replay,
		sendLimiter:  sendLimiter,
		fetchLimiter: fetchLimiter,
		hub:          hub,
		audit:        audit,
	}
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	IV      string `json:"iv"`
	IsE2EE  bool   `json:"is_e2ee"`
	Nonce   string `json:"nonce"`
}

type messageResponse struct {
	ID         int       `json:"id"`
	GroupID    int       `json:"group_id"`
	SenderID   int       `json:"sender_id"`
	Ciphertext string    `json:"ciphertext"`
	IV         string    `json:"iv"`
	KeyID      *string   `json:"key_id,omitempty"`
	IsE2EE     bool      `json:"is_e2ee"`
	CreatedAt  time.Time `json:"created_at"`
}

// SendMessage handles POST /groups/:group_id/messages.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid group id")
		return
	}
	userID := c.GetInt("userID")
	identity := strconv.Itoa(userID)
	ctx := c.Request.Context()

	decision, err := h.sendLimiter.Check(ctx, identity)
	if err != nil {
		h.emitAudit(c, "ERROR", "quota store unavailable")
		respondError(c, http.StatusInternalServerError, CodeInternal, "try again later")
		return
	}
	if !decision.Allowed {
		observability.IncPipelineReject("rate_limited")
		c.Header("Retry-After", retryAfterSeconds(decision.RetryAfter))
		respondError(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		return
	}

	member, err := h.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "membership check failed")
		respondError(c, http.StatusInternalServerError, CodeInternal, "membership check failed")
		return
	}
	if !member {
		observability.IncPipelineReject("not_member")
		respondError(c, http.StatusNotFound, CodeNotFound, groupNotFoundMsg)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid request payload")
		return
	}

	// Nonce is optional; without one no replay check happens.
	if req.Nonce != "" {
		admitted, err := h.replay.Admit(ctx, identity, req.Nonce)
		if err != nil {
			h.emitAudit(c, "ERROR", "nonce store unavailable")
			respondError(c, http.StatusInternalServerError, CodeInternal, "try again later")
			return
		}
		if !admitted {
			observability.IncPipelineReject("duplicate_nonce")
			respondError(c, http.StatusConflict, CodeDuplicate, "duplicate nonce")
			return
		}
	}

	// Resolve the encryption mode once; everything after this switch treats
	// the payload as opaque bytes.
	var payload crypto.Payload
	if req.IsE2EE {
		payload = crypto.ClientCiphertext{CiphertextHex: req.Content, IVHex: req.IV}
	} else {
		payload = crypto.ServerPlaintext{Content: req.Content}
	}

	msg := models.Message{GroupID: groupID, SenderID: userID, IsE2EE: req.IsE2EE}
	if req.Nonce != "" {
		msg.Nonce = &req.Nonce
	}

	switch p := payload.(type) {
	case crypto.ServerPlaintext:
		if err := crypto.CheckContentLength(p.Content); err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "content length out of range")
			return
		}
		ciphertext, iv, keyID, err := h.sealWithActiveKey(ctx, groupID, p.Content)
		if err != nil {
			h.respondEncryptionError(c, err)
			return
		}
		msg.Ciphertext, msg.IV, msg.KeyID = ciphertext, iv, &keyID
	case crypto.ClientCiphertext:
		ciphertext, iv, err := crypto.DecodeClientPayload(p)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
		msg.Ciphertext, msg.IV = ciphertext, iv
	default:
		respondError(c, http.StatusInternalServerError, CodeInternal, "unknown encryption mode")
		return
	}

	stored, err := h.messageRepo.CreateMessage(ctx, msg)
	if errors.Is(err, repositories.ErrKeyRevoked) {
		// The key was rotated between selection and insert. Re-seal under
		// the new active key and retry once.
		ciphertext, iv, keyID, sealErr := h.sealWithActiveKey(ctx, groupID, req.Content)
		if sealErr != nil {
			h.respondEncryptionError(c, sealErr)
			return
		}
		msg.Ciphertext, msg.IV, msg.KeyID = ciphertext, iv, &keyID
		stored, err = h.messageRepo.CreateMessage(ctx, msg)
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "failed to store message")
		respondError(c, http.StatusInternalServerError, CodeInternal, "failed to store message")
		return
	}

	// Fan-out happens strictly after the durable write; a notify failure
	// never rolls the message back.
	h.hub.BroadcastMessage(groupID, stored)

	observability.IncMessageStored(crypto.Mode(payload))
	h.emitAudit(c, "INFO", "message stored")
	c.JSON(http.StatusCreated, gin.H{"id": stored.ID, "sent_at": stored.CreatedAt})
}

// sealWithActiveKey sanitizes and encrypts server-mode content under the
// group's active key. Content must be pre-validated for length.
func (h *MessageHandler) sealWithActiveKey(ctx context.Context, groupID int, content string) (ciphertext []byte, iv []byte, keyID string, err error) {
	key, err := h.keyRepo.ActiveKey(ctx, groupID)
	if err != nil {
		return nil, nil, "", err
	}
	iv, ciphertext, err = crypto.Seal(key.Material, []byte(crypto.Sanitize(content)))
	if err != nil {
		return nil, nil, "", err
	}
	return ciphertext, iv, key.ID, nil
}

func (h *MessageHandler) respondEncryptionError(c *gin.Context, err error) {
	observability.IncPipelineReject("encryption_error")
	// Never echo cipher internals to the caller.
	if errors.Is(err, repositories.ErrNoActiveKey) {
		h.emitAudit(c, "ERROR", "no active key for group")
	} else {
		h.emitAudit(c, "ERROR", "cipher failure")
	}
	respondError(c, http.StatusInternalServerError, CodeEncryption, "could not encrypt message")
}

// GetMessages handles GET /groups/:group_id/messages with cursor pagination.
// Returned messages are marked read for the caller, best effort.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid group id")
		return
	}
	userID := c.GetInt("userID")
	identity := strconv.Itoa(userID)
	ctx := c.Request.Context()

	decision, err := h.fetchLimiter.Check(ctx, identity)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "try again later")
		return
	}
	if !decision.Allowed {
		observability.IncPipelineReject("rate_limited")
		c.Header("Retry-After", retryAfterSeconds(decision.RetryAfter))
		respondError(c, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		return
	}

	member, err := h.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "membership check failed")
		return
	}
	if !member {
		observability.IncPipelineReject("not_member")
		respondError(c, http.StatusNotFound, CodeNotFound, groupNotFoundMsg)
		return
	}

	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			respondError(c, http.StatusBadRequest, CodeValidation, "invalid limit")
			return
		}
	}
	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		cursor, err = strconv.Atoi(raw)
		if err != nil || cursor < 0 {
			respondError(c, http.StatusBadRequest, CodeValidation, "invalid cursor")
			return
		}
	}

	msgs, nextCursor, hasMore, err := h.messageRepo.ListMessagesPage(ctx, groupID, limit, cursor)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "failed to load messages")
		return
	}

	// Read receipts are bookkeeping, not delivery; a failure here must not
	// fail the fetch.
	if len(msgs) > 0 {
		ids := make([]int, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		if err := h.messageRepo.MarkRead(ctx, groupID, userID, ids); err != nil {
			h.emitAudit(c, "ERROR", "mark read failed")
		}
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{
			ID:         m.ID,
			GroupID:    m.GroupID,
			SenderID:   m.SenderID,
			Ciphertext: hex.EncodeToString(m.Ciphertext),
			IV:         hex.EncodeToString(m.IV),
			KeyID:      m.KeyID,
			IsE2EE:     m.IsE2EE,
			CreatedAt:  m.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp, "next_cursor": nextCursor, "has_more": hasMore})
}

type markReadRequest struct {
	MessageIDs []int `json:"message_ids" binding:"required"`
}

// MarkRead handles POST /groups/:group_id/messages/read. Idempotent.
func (h *MessageHandler) MarkRead(c *gin.Context) {
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

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid request payload")
		return
	}

	if err := h.messageRepo.MarkRead(ctx, groupID, userID, req.MessageIDs); err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "could not mark read")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
