package client

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

type testMessagesGateway struct {
	fetchConversations      func(ctx context.Context) ([]*Conversation, error)
	fetchMessages           func(ctx context.Context, conversationId string) ([]*Message, error)
	getOrCreateConversation func(ctx context.Context, participantId string) (*Conversation, error)
}

func (self *testMessagesGateway) FetchConversationsSync(ctx context.Context) ([]*Conversation, error) {
	if self.fetchConversations != nil {
		return self.fetchConversations(ctx)
	}
	return []*Conversation{}, nil
}

func (self *testMessagesGateway) FetchMessagesSync(ctx context.Context, conversationId string) ([]*Message, error) {
	if self.fetchMessages != nil {
		return self.fetchMessages(ctx, conversationId)
	}
	return []*Message{}, nil
}

func (self *testMessagesGateway) GetOrCreateConversationSync(ctx context.Context, participantId string) (*Conversation, error) {
	if self.getOrCreateConversation != nil {
		return self.getOrCreateConversation(ctx, participantId)
	}
	return &Conversation{}, nil
}

type testSender struct {
	sendMessage func(ctx context.Context, conversationId string, content string) error
	joined      []string
	left        []string
}

func (self *testSender) SendMessageSync(ctx context.Context, conversationId string, content string) error {
	if self.sendMessage != nil {
		return self.sendMessage(ctx, conversationId, content)
	}
	return nil
}

func (self *testSender) JoinConversation(conversationId string) {
	self.joined = append(self.joined, conversationId)
}

func (self *testSender) LeaveConversation(conversationId string) {
	self.left = append(self.left, conversationId)
}

func testConversation(conversationId string, lastMessageAt time.Time) *Conversation {
	at := lastMessageAt
	return &Conversation{
		ConversationId: conversationId,
		Type:           ConversationTypeDirect,
		Participants:   []*ConversationParticipant{},
		LastMessageAt:  &at,
		CreatedAt:      lastMessageAt,
	}
}

func testMessage(messageId string, conversationId string, createdAt time.Time) *Message {
	return &Message{
		MessageId:      messageId,
		ConversationId: conversationId,
		SenderId:       "u2",
		Content:        "message " + messageId,
		CreatedAt:      createdAt,
	}
}

func TestFetchConversationsSortedByActivity(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC)
	t3 := time.Date(2025, 1, 1, 0, 0, 3, 0, time.UTC)

	gateway := &testMessagesGateway{
		fetchConversations: func(ctx context.Context) ([]*Conversation, error) {
			return []*Conversation{
				testConversation("c1", t1),
				testConversation("c3", t3),
				testConversation("c2", t2),
			}, nil
		},
	}
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	err := coordinator.FetchConversations()
	assert.Equal(t, err, nil)

	conversations := coordinator.Conversations()
	assert.Equal(t, len(conversations), 3)
	assert.Equal(t, conversations[0].ConversationId, "c3")
	assert.Equal(t, conversations[1].ConversationId, "c2")
	assert.Equal(t, conversations[2].ConversationId, "c1")
}

func TestConversationUpdatedResorts(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC)
	t3 := time.Date(2025, 1, 1, 0, 0, 3, 0, time.UTC)
	t4 := time.Date(2025, 1, 1, 0, 0, 4, 0, time.UTC)

	gateway := &testMessagesGateway{
		fetchConversations: func(ctx context.Context) ([]*Conversation, error) {
			return []*Conversation{
				testConversation("c1", t1),
				testConversation("c2", t2),
				testConversation("c3", t3),
			}, nil
		},
	}
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchConversations()

	// a push for the oldest conversation moves it to the top
	coordinator.HandleConversationUpdated("c1", testMessage("m1", "c1", t4))

	conversations := coordinator.Conversations()
	assert.Equal(t, conversations[0].ConversationId, "c1")
	assert.Equal(t, conversations[1].ConversationId, "c3")
	assert.Equal(t, conversations[2].ConversationId, "c2")
	assert.Equal(t, conversations[0].LastMessage.MessageId, "m1")
	assert.Equal(t, *conversations[0].LastMessageAt, t4)
}

func TestHandleNewMessageAppends(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2025, 1, 1, 0, 0, 2, 0, time.UTC)

	gateway := &testMessagesGateway{
		fetchMessages: func(ctx context.Context, conversationId string) ([]*Message, error) {
			return []*Message{testMessage("m1", conversationId, t1)}, nil
		},
	}
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchMessages("c1")

	coordinator.HandleNewMessage(testMessage("m2", "c1", t2))

	messages := coordinator.Messages("c1")
	assert.Equal(t, len(messages), 2)
	assert.Equal(t, messages[0].MessageId, "m1")
	assert.Equal(t, messages[1].MessageId, "m2")

	// a push for another conversation does not touch this view
	coordinator.HandleNewMessage(testMessage("m3", "c2", t2))
	assert.Equal(t, len(coordinator.Messages("c1")), 2)
	assert.Equal(t, len(coordinator.Messages("c2")), 1)
}

func TestSendMessageRequiresSender(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, &testMessagesGateway{}, "u1")
	defer coordinator.Close()

	err := coordinator.SendMessage("c1", "hello")
	assert.Equal(t, err, ErrRealtimeNotConnected)
}

func TestSendMessageUsesSender(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, &testMessagesGateway{}, "u1")
	defer coordinator.Close()

	var sentConversationId string
	var sentContent string
	sender := &testSender{
		sendMessage: func(ctx context.Context, conversationId string, content string) error {
			sentConversationId = conversationId
			sentContent = content
			return nil
		},
	}
	coordinator.SetSender(sender)

	err := coordinator.SendMessage("c1", "hello")
	assert.Equal(t, err, nil)
	assert.Equal(t, sentConversationId, "c1")
	assert.Equal(t, sentContent, "hello")

	// the message itself arrives as a push, not from the send
	assert.Equal(t, len(coordinator.Messages("c1")), 0)
}

func TestSendMessageErrorPropagates(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, &testMessagesGateway{}, "u1")
	defer coordinator.Close()

	sender := &testSender{
		sendMessage: func(ctx context.Context, conversationId string, content string) error {
			return &ApiError{StatusCode: 500, Message: "unavailable"}
		},
	}
	coordinator.SetSender(sender)

	err := coordinator.SendMessage("c1", "hello")
	assert.NotEqual(t, err, nil)
}

func TestJoinLeaveConversation(t *testing.T) {
	ctx := context.Background()
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, &testMessagesGateway{}, "u1")
	defer coordinator.Close()

	// no sender attached yet. join and leave are best effort no-ops
	coordinator.JoinConversation("c1")
	coordinator.LeaveConversation("c1")

	sender := &testSender{}
	coordinator.SetSender(sender)
	coordinator.JoinConversation("c1")
	coordinator.LeaveConversation("c1")

	assert.Equal(t, sender.joined, []string{"c1"})
	assert.Equal(t, sender.left, []string{"c1"})
}

func TestGetOrCreateConversationPrependsOnce(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)

	gateway := &testMessagesGateway{
		getOrCreateConversation: func(ctx context.Context, participantId string) (*Conversation, error) {
			return testConversation("c1", t1), nil
		},
	}
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	conversation, err := coordinator.GetOrCreateConversation("u2")
	assert.Equal(t, err, nil)
	assert.Equal(t, conversation.ConversationId, "c1")
	assert.Equal(t, len(coordinator.Conversations()), 1)

	// a second resolution of the same conversation does not duplicate it
	_, err = coordinator.GetOrCreateConversation("u2")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(coordinator.Conversations()), 1)
}

func TestFetchConversationsFailureKeepsLastKnown(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC)
	failing := false
	gateway := &testMessagesGateway{
		fetchConversations: func(ctx context.Context) ([]*Conversation, error) {
			if failing {
				return nil, &ApiError{StatusCode: 500, Message: "unavailable"}
			}
			return []*Conversation{testConversation("c1", t1)}, nil
		},
	}
	coordinator := NewMessagesCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	assert.Equal(t, coordinator.FetchConversations(), nil)
	failing = true
	assert.NotEqual(t, coordinator.FetchConversations(), nil)
	assert.Equal(t, len(coordinator.Conversations()), 1)
}
