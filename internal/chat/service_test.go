package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/chat"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/pagination"
	"messaging-service/internal/repositories"
)

type serviceMocks struct {
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	inbox         *mocks.InboxRepositoryMock
	fanout        *mocks.FanoutMock
	notifier      *mocks.NotifierMock
}

func newTestService() (*chat.Service, serviceMocks) {
	m := serviceMocks{
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		inbox:         new(mocks.InboxRepositoryMock),
		fanout:        new(mocks.FanoutMock),
		notifier:      new(mocks.NotifierMock),
	}
	svc := chat.NewService(m.conversations, m.messages, m.inbox, m.fanout, m.notifier, nil)
	return svc, m
}

func (m serviceMocks) assertExpectations(t *testing.T) {
	t.Helper()
	m.conversations.AssertExpectations(t)
	m.messages.AssertExpectations(t)
	m.inbox.AssertExpectations(t)
	m.fanout.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
}

func directView(id, a, b int) models.ConversationView {
	return models.ConversationView{
		Conversation: models.Conversation{ID: id, Type: models.ConversationDirect, Status: models.ConversationActive},
		Members: []models.Member{
			{ConversationID: id, UserID: a, Role: models.RoleMember},
			{ConversationID: id, UserID: b, Role: models.RoleMember},
		},
	}
}

func groupView(id, owner int, memberIDs ...int) models.ConversationView {
	view := models.ConversationView{
		Conversation: models.Conversation{ID: id, Type: models.ConversationGroup, Name: "team", Status: models.ConversationActive},
		Members:      []models.Member{{ConversationID: id, UserID: owner, Role: models.RoleOwner}},
	}
	for _, uid := range memberIDs {
		view.Members = append(view.Members, models.Member{ConversationID: id, UserID: uid, Role: models.RoleMember})
	}
	return view
}

func boolRef(b bool) *bool { return &b }

func timeRef(t time.Time) *time.Time { return &t }

func TestCreateDirectConversationNew(t *testing.T) {
	svc, m := newTestService()

	view := directView(10, 1, 2)
	m.conversations.On("CreateDirect", mock.Anything, 1, 2).Return(view, true, nil).Once()
	m.fanout.On("JoinConversation", 10, []int{1, 2}).Return().Once()
	m.fanout.On("SendToUsers", []int{1, 2}, chat.EventConversationCreated, view).Return(2).Once()

	got, created, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationDirect,
		Participants: []int{2},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 10, got.ID)
	m.assertExpectations(t)
}

func TestCreateDirectConversationExisting(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("CreateDirect", mock.Anything, 1, 2).Return(directView(10, 1, 2), false, nil).Once()

	got, created, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationDirect,
		Participants: []int{2},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 10, got.ID)
	m.fanout.AssertNotCalled(t, "SendToUsers", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestCreateDirectConversationWithSelf(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationDirect,
		Participants: []int{1},
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestCreateDirectConversationParticipantCount(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationDirect,
		Participants: []int{2, 3},
	})
	require.ErrorIs(t, err, chat.ErrValidation)

	_, _, err = svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type: models.ConversationDirect,
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestCreateGroupConversation(t *testing.T) {
	svc, m := newTestService()

	view := groupView(20, 1, 2, 3)
	m.conversations.On("CreateGroup", mock.Anything, 1, "team", "", "", []int{2, 3}).Return(view, nil).Once()
	m.fanout.On("JoinConversation", 20, []int{1, 2, 3}).Return().Once()
	m.fanout.On("SendToUsers", []int{1, 2, 3}, chat.EventConversationCreated, view).Return(3).Once()

	got, created, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationGroup,
		Name:         "team",
		Participants: []int{2, 3},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, got.Members, 3)
	m.assertExpectations(t)
}

func TestCreateGroupConversationRequiresName(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationGroup,
		Name:         "   ",
		Participants: []int{2},
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestCreateGroupConversationRequiresOthers(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{
		Type:         models.ConversationGroup,
		Name:         "team",
		Participants: []int{1},
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestCreateConversationUnknownType(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.CreateConversation(context.Background(), 1, chat.CreateConversationInput{Type: "broadcast"})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestGetConversationNotParticipant(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 10).Return(directView(10, 2, 3), nil).Once()

	_, err := svc.GetConversation(context.Background(), 1, 10)
	require.ErrorIs(t, err, chat.ErrForbidden)
	m.assertExpectations(t)
}

func TestGetConversationMissing(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 99).Return(models.ConversationView{}, repositories.ErrConversationNotFound).Once()

	_, err := svc.GetConversation(context.Background(), 1, 99)
	require.ErrorIs(t, err, chat.ErrNotFound)
	m.assertExpectations(t)
}

func TestAddMembersSkipsExisting(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()
	added := []models.Member{{ConversationID: 20, UserID: 3, Role: models.RoleMember}}
	m.conversations.On("AddMembers", mock.Anything, 20, []int{3}).Return(added, nil).Once()
	m.fanout.On("JoinConversation", 20, []int{3}).Return().Once()
	m.fanout.On("BroadcastToConversation", 20, "conn-1", chat.EventGroupMembersAdded, chat.MembersAddedEvent{
		ConversationID: 20,
		AddedBy:        1,
		NewMembers:     added,
	}).Return(2).Once()

	view, newMembers, err := svc.AddMembers(context.Background(), 1, 20, []int{2, 3}, "conn-1")
	require.NoError(t, err)
	assert.Len(t, newMembers, 1)
	assert.Len(t, view.Members, 3)
	m.assertExpectations(t)
}

func TestAddMembersAllAlreadyPresent(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()

	_, _, err := svc.AddMembers(context.Background(), 1, 20, []int{2}, "")
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.conversations.AssertNotCalled(t, "AddMembers", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestAddMembersDirectConversation(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 10).Return(directView(10, 1, 2), nil).Once()

	_, _, err := svc.AddMembers(context.Background(), 1, 10, []int{3}, "")
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.assertExpectations(t)
}

func TestAddMembersRequiresPrivilege(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()

	_, _, err := svc.AddMembers(context.Background(), 2, 20, []int{3}, "")
	require.ErrorIs(t, err, chat.ErrForbidden)
	m.assertExpectations(t)
}

func TestRemoveMember(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2, 3), nil).Once()
	m.conversations.On("RemoveMember", mock.Anything, 20, 3).Return(nil).Once()
	ev := chat.MemberRemovedEvent{ConversationID: 20, MemberID: 3, RemovedBy: 1}
	m.fanout.On("EvictFromConversation", 20, []int{3}).Return().Once()
	m.fanout.On("SendToUsers", []int{3}, chat.EventMemberRemoved, ev).Return(1).Once()
	m.fanout.On("BroadcastToConversation", 20, "", chat.EventMemberRemoved, ev).Return(2).Once()

	require.NoError(t, svc.RemoveMember(context.Background(), 1, 20, 3))
	m.assertExpectations(t)
}

func TestRemoveMemberSelf(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()

	err := svc.RemoveMember(context.Background(), 1, 20, 1)
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.assertExpectations(t)
}

func TestRemoveMemberOwnerProtected(t *testing.T) {
	svc, m := newTestService()

	view := groupView(20, 1, 2)
	view.Members[1].Role = models.RoleAdmin
	m.conversations.On("GetView", mock.Anything, 20).Return(view, nil).Once()

	err := svc.RemoveMember(context.Background(), 2, 20, 1)
	require.ErrorIs(t, err, chat.ErrForbidden)
	m.conversations.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestRemoveMemberAdminNeedsOwner(t *testing.T) {
	svc, m := newTestService()

	view := groupView(20, 1, 2, 3)
	view.Members[1].Role = models.RoleAdmin
	view.Members[2].Role = models.RoleAdmin
	m.conversations.On("GetView", mock.Anything, 20).Return(view, nil).Once()

	err := svc.RemoveMember(context.Background(), 2, 20, 3)
	require.ErrorIs(t, err, chat.ErrForbidden)
	m.assertExpectations(t)
}

func TestLeaveConversation(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()
	m.conversations.On("RemoveMember", mock.Anything, 20, 2).Return(nil).Once()
	m.fanout.On("EvictFromConversation", 20, []int{2}).Return().Once()
	m.fanout.On("BroadcastToConversation", 20, "", chat.EventMemberLeft, chat.MemberLeftEvent{
		ConversationID: 20,
		UserID:         2,
	}).Return(1).Once()

	require.NoError(t, svc.LeaveConversation(context.Background(), 2, 20))
	m.assertExpectations(t)
}

func TestLeaveConversationOwner(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()

	err := svc.LeaveConversation(context.Background(), 1, 20)
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.conversations.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestLeaveConversationDirect(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 10).Return(directView(10, 1, 2), nil).Once()

	err := svc.LeaveConversation(context.Background(), 1, 10)
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.assertExpectations(t)
}

func TestDeleteConversation(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2, 3), nil).Once()
	m.conversations.On("Delete", mock.Anything, 20).Return([]int{1, 2, 3}, 14, nil).Once()
	m.fanout.On("SendToUsers", []int{1, 2, 3}, chat.EventConversationDeleted, chat.ConversationDeletedEvent{
		ConversationID: 20,
		DeletedBy:      1,
	}).Return(3).Once()
	m.fanout.On("DropConversation", 20).Return().Once()

	require.NoError(t, svc.DeleteConversation(context.Background(), 1, 20))
	m.assertExpectations(t)
}

func TestDeleteConversationGroupRequiresOwner(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()

	err := svc.DeleteConversation(context.Background(), 2, 20)
	require.ErrorIs(t, err, chat.ErrForbidden)
	m.assertExpectations(t)
}

func TestDeleteConversationDirectEitherParticipant(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 10).Return(directView(10, 1, 2), nil).Once()
	m.conversations.On("Delete", mock.Anything, 10).Return([]int{1, 2}, 6, nil).Once()
	m.fanout.On("SendToUsers", []int{1, 2}, chat.EventConversationDeleted, mock.Anything).Return(2).Once()
	m.fanout.On("DropConversation", 10).Return().Once()

	require.NoError(t, svc.DeleteConversation(context.Background(), 2, 10))
	m.assertExpectations(t)
}

func TestClearHistory(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()
	m.conversations.On("ClearHistory", mock.Anything, 20).Return(7, nil).Once()
	m.fanout.On("BroadcastToConversation", 20, "", chat.EventHistoryCleared, chat.HistoryClearedEvent{
		ConversationID:  20,
		ClearedBy:       1,
		MessagesDeleted: 7,
	}).Return(2).Once()

	removed, err := svc.ClearHistory(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 7, removed)
	m.assertExpectations(t)
}

func TestArchiveConversation(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 20).Return(groupView(20, 1, 2), nil).Once()
	m.conversations.On("SetStatus", mock.Anything, 20, models.ConversationArchived).Return(nil).Once()

	require.NoError(t, svc.Archive(context.Background(), 1, 20))
	m.assertExpectations(t)
}

func TestArchiveConversationAlreadyArchived(t *testing.T) {
	svc, m := newTestService()

	view := groupView(20, 1, 2)
	view.Status = models.ConversationArchived
	m.conversations.On("GetView", mock.Anything, 20).Return(view, nil).Once()

	err := svc.Archive(context.Background(), 1, 20)
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.conversations.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
	m.assertExpectations(t)
}

func TestArchiveConversationDirect(t *testing.T) {
	svc, m := newTestService()

	m.conversations.On("GetView", mock.Anything, 10).Return(directView(10, 1, 2), nil).Once()

	err := svc.Archive(context.Background(), 1, 10)
	require.ErrorIs(t, err, chat.ErrInvalidOperation)
	m.assertExpectations(t)
}

func TestUnarchiveConversation(t *testing.T) {
	svc, m := newTestService()

	view := groupView(20, 1, 2)
	view.Status = models.ConversationArchived
	m.conversations.On("GetView", mock.Anything, 20).Return(view, nil).Once()
	m.conversations.On("SetStatus", mock.Anything, 20, models.ConversationActive).Return(nil).Once()

	require.NoError(t, svc.Unarchive(context.Background(), 1, 20))
	m.assertExpectations(t)
}

func TestListRecent(t *testing.T) {
	svc, m := newTestService()

	views := []models.InboxView{{ConversationID: 10, UnreadCount: 3}}
	m.inbox.On("ListRecent", mock.Anything, 1, 20, 0).Return(views, 41, nil).Once()

	got, meta, err := svc.ListRecent(context.Background(), 1, pagination.Params{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, views, got)
	assert.Equal(t, 41, meta.Total)
	assert.Equal(t, 3, meta.TotalPages)
	m.assertExpectations(t)
}

func TestUpdateInboxPrefs(t *testing.T) {
	svc, m := newTestService()

	pinned := boolRef(true)
	entry := models.InboxEntry{UserID: 1, ConversationID: 10, IsPinned: true}
	m.inbox.On("UpdatePrefs", mock.Anything, 1, 10, pinned, (*bool)(nil), (*time.Time)(nil)).Return(entry, nil).Once()

	got, err := svc.UpdateInboxPrefs(context.Background(), 1, 10, chat.InboxPrefsInput{Pinned: pinned})
	require.NoError(t, err)
	assert.True(t, got.IsPinned)
	m.assertExpectations(t)
}

func TestUpdateInboxPrefsNothingToUpdate(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateInboxPrefs(context.Background(), 1, 10, chat.InboxPrefsInput{})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestUpdateInboxPrefsMutedUntilRequiresMuted(t *testing.T) {
	svc, _ := newTestService()

	until := timeRef(time.Now().Add(time.Hour))
	_, err := svc.UpdateInboxPrefs(context.Background(), 1, 10, chat.InboxPrefsInput{MutedUntil: until})
	require.ErrorIs(t, err, chat.ErrValidation)

	_, err = svc.UpdateInboxPrefs(context.Background(), 1, 10, chat.InboxPrefsInput{
		Muted:      boolRef(false),
		MutedUntil: until,
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestUpdateInboxPrefsMutedUntilInPast(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateInboxPrefs(context.Background(), 1, 10, chat.InboxPrefsInput{
		Muted:      boolRef(true),
		MutedUntil: timeRef(time.Now().Add(-time.Minute)),
	})
	require.ErrorIs(t, err, chat.ErrValidation)
}
