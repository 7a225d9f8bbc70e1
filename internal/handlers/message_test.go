package handlers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/crypto"
	"messaging-service/internal/guard"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func testKey(id string) models.GroupKey {
	material := make([]byte, crypto.KeySize)
	for i := range material {
		material[i] = byte(i)
	}
	return models.GroupKey{ID: id, GroupID: 9, Material: material, Algorithm: models.AlgorithmAESGCM}
}

func newTestHandler(groupRepo *mocks.GroupRepositoryMock, keyRepo *mocks.KeyRepositoryMock, messageRepo *mocks.MessageRepositoryMock, sendMax int) *MessageHandler {
	replay := guard.NewReplayGuard(guard.NewMemoryNonceStore(guard.DefaultSweepInterval), guard.DefaultNonceTTL)
	sendLimiter := guard.NewRateLimiter(guard.NewMemoryQuotaStore(), guard.Config{Window: time.Minute, MaxRequests: sendMax, MaxTrackedIdentities: 100})
	fetchLimiter := guard.NewRateLimiter(guard.NewMemoryQuotaStore(), guard.Config{Window: time.Minute, MaxRequests: 1000, MaxTrackedIdentities: 100})
	return NewMessageHandler(groupRepo, keyRepo, messageRepo, replay, sendLimiter, fetchLimiter, ws.NewHub(), nil)
}

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/groups/:group_id/messages", handler.SendMessage)
	r.GET("/groups/:group_id/messages", handler.GetMessages)
	r.POST("/groups/:group_id/messages/read", handler.MarkRead)
	return r
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageServerMode(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 100)
	router := setupMessageRouter(handler)

	key := testKey("key-1")
	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(key, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.GroupID == 9 && m.SenderID == 1 && !m.IsE2EE &&
			m.KeyID != nil && *m.KeyID == "key-1" &&
			len(m.Ciphertext) > 0 && len(m.IV) == crypto.IVSize
	})).Return(models.Message{ID: 3, GroupID: 9, SenderID: 1, CreatedAt: time.Now()}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi","is_e2ee":false}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	groupRepo.AssertExpectations(t)
	keyRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestSendMessageE2EEPassThrough(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 100)
	router := setupMessageRouter(handler)

	wantCiphertext, _ := hex.DecodeString("deadbeefcafe")
	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		// the stored ciphertext must be byte-identical to the client's bytes
		// and no key reference is recorded
		return m.IsE2EE && m.KeyID == nil && bytes.Equal(m.Ciphertext, wantCiphertext)
	})).Return(models.Message{ID: 4, GroupID: 9, SenderID: 1, IsE2EE: true}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"deadbeefcafe","iv":"0011223344556677","is_e2ee":true}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	keyRepo.AssertNotCalled(t, "ActiveKey", mock.Anything, mock.Anything)
	messageRepo.AssertExpectations(t)
}

func TestSendMessageAuditPublishFailureIgnored(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)

	// the audit broker is down for the whole request
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.Anything).Return(errors.New("broker unavailable"))
	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", "test")

	replay := guard.NewReplayGuard(guard.NewMemoryNonceStore(guard.DefaultSweepInterval), guard.DefaultNonceTTL)
	limiter := guard.NewRateLimiter(guard.NewMemoryQuotaStore(), guard.Config{Window: time.Minute, MaxRequests: 100, MaxTrackedIdentities: 100})
	handler := NewMessageHandler(groupRepo, keyRepo, messageRepo, replay, limiter, limiter, ws.NewHub(), audit)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-1"), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: 3, GroupID: 9, SenderID: 1}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi","is_e2ee":false}`)

	// audit is best effort: the failed publish never fails the send
	require.Equal(t, http.StatusCreated, rec.Code)
	publisher.AssertCalled(t, "Publish", mock.Anything, "audit.messaging", mock.Anything)
}

func TestSendMessageE2EEMissingIV(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"deadbeef","is_e2ee":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageE2EEMalformedHex(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"not-hex!","iv":"0011","is_e2ee":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageNonMemberLooksLikeMissingGroup(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(false, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "group not found", body["error"])
	require.Equal(t, CodeNotFound, body["code"])
}

func TestSendMessageRateLimited(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 1)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-1"), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: 1}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(router, "/groups/9/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeRateLimited, body["code"])
}

func TestSendMessageDuplicateNonce(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Times(2)
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-1"), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: 1}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi","nonce":"n-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(router, "/groups/9/messages", `{"content":"hi","nonce":"n-1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeDuplicate, body["code"])
}

func TestSendMessageWithoutNonceSkipsReplayCheck(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Times(2)
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-1"), nil).Times(2)
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: 1}, nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: 2}, nil).Once()

	first := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)
	second := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b map[string]any
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.NotEqual(t, a["id"], b["id"])
}

func TestSendMessageNoActiveKey(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(models.GroupKey{}, repositories.ErrNoActiveKey).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeEncryption, body["code"])
}

func TestSendMessageRetriesWhenKeyRevokedMidFlight(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	keyRepo := new(mocks.KeyRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, keyRepo, messageRepo, 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-old"), nil).Once()
	keyRepo.On("ActiveKey", mock.Anything, 9).Return(testKey("key-new"), nil).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.KeyID != nil && *m.KeyID == "key-old"
	})).Return(models.Message{}, repositories.ErrKeyRevoked).Once()
	messageRepo.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.KeyID != nil && *m.KeyID == "key-new"
	})).Return(models.Message{ID: 7, GroupID: 9, SenderID: 1}, nil).Once()

	rec := postJSON(router, "/groups/9/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	keyRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestSendMessageContentTooLong(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()

	long := bytes.Repeat([]byte("a"), crypto.MaxContentLen+1)
	body, _ := json.Marshal(map[string]any{"content": string(long)})
	rec := postJSON(router, "/groups/9/messages", string(body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesPage(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), messageRepo, 100)
	router := setupMessageRouter(handler)

	msgs := []models.Message{
		{ID: 12, GroupID: 9, SenderID: 2, Ciphertext: []byte{1}, IV: []byte{2}},
		{ID: 11, GroupID: 9, SenderID: 1, Ciphertext: []byte{3}, IV: []byte{4}},
	}
	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	messageRepo.On("ListMessagesPage", mock.Anything, 9, 2, 0).Return(msgs, 11, true, nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 9, 1, []int{12, 11}).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups/9/messages?limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages   []map[string]any `json:"messages"`
		NextCursor int              `json:"next_cursor"`
		HasMore    bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	require.Equal(t, 11, body.NextCursor)
	require.True(t, body.HasMore)
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesInvalidLimit(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups/9/messages?limit=500", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesNonMember(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), new(mocks.MessageRepositoryMock), 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups/9/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkReadIdempotent(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newTestHandler(groupRepo, new(mocks.KeyRepositoryMock), messageRepo, 100)
	router := setupMessageRouter(handler)

	groupRepo.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Times(2)
	messageRepo.On("MarkRead", mock.Anything, 9, 1, []int{5, 6}).Return(nil).Times(2)

	rec := postJSON(router, "/groups/9/messages/read", `{"message_ids":[5,6]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = postJSON(router, "/groups/9/messages/read", `{"message_ids":[5,6]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}
