package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
)

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, ownerID int, name string, isPrivate bool, memberIDs []int, key models.GroupKey) (models.Group, error) {
	args := m.Called(ctx, ownerID, name, isPrivate, memberIDs, key)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *GroupRepositoryMock) IsMember(ctx context.Context, groupID int, userID int) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

type KeyRepositoryMock struct {
	mock.Mock
}

func (m *KeyRepositoryMock) ActiveKey(ctx context.Context, groupID int) (models.GroupKey, error) {
	args := m.Called(ctx, groupID)
	var key models.GroupKey
	if val := args.Get(0); val != nil {
		key = val.(models.GroupKey)
	}
	return key, args.Error(1)
}

func (m *KeyRepositoryMock) RotateKey(ctx context.Context, groupID int, material []byte) (models.GroupKey, error) {
	args := m.Called(ctx, groupID, material)
	var key models.GroupKey
	if val := args.Get(0); val != nil {
		key = val.(models.GroupKey)
	}
	return key, args.Error(1)
}

func (m *KeyRepositoryMock) RevokeKey(ctx context.Context, groupID int, keyID string) error {
	args := m.Called(ctx, groupID, keyID)
	return args.Error(0)
}

func (m *KeyRepositoryMock) RegisterPublicKey(ctx context.Context, userID int, publicKey []byte, algorithm string) error {
	args := m.Called(ctx, userID, publicKey, algorithm)
	return args.Error(0)
}

func (m *KeyRepositoryMock) PublicKey(ctx context.Context, userID int) (models.UserPublicKey, error) {
	args := m.Called(ctx, userID)
	var key models.UserPublicKey
	if val := args.Get(0); val != nil {
		key = val.(models.UserPublicKey)
	}
	return key, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessagesPage(ctx context.Context, groupID int, limit int, cursor int) ([]models.Message, int, bool, error) {
	args := m.Called(ctx, groupID, limit, cursor)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Int(1), args.Bool(2), args.Error(3)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, groupID int, userID int, messageIDs []int) error {
	args := m.Called(ctx, groupID, userID, messageIDs)
	return args.Error(0)
}
