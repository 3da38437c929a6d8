package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// client cache for conversations and messages. same store/view discipline
// as the posts coordinator, with one difference: besides request/response
// fetches, state also arrives as pushes on the realtime channel. pushes
// are platform authoritative by construction, so they apply directly with
// no optimistic/rollback machinery.

// remote operations the messages coordinator issues over http
type MessagesGateway interface {
	FetchConversationsSync(ctx context.Context) ([]*Conversation, error)
	FetchMessagesSync(ctx context.Context, conversationId string) ([]*Message, error)
	GetOrCreateConversationSync(ctx context.Context, participantId string) (*Conversation, error)
}

// sends ride the realtime channel, not http
type MessageSender interface {
	SendMessageSync(ctx context.Context, conversationId string, content string) error
	JoinConversation(conversationId string)
	LeaveConversation(conversationId string)
}

type MessagesCoordinatorSettings struct {
	SendTimeout  time.Duration
	FetchTimeout time.Duration
}

func DefaultMessagesCoordinatorSettings() *MessagesCoordinatorSettings {
	return &MessagesCoordinatorSettings{
		SendTimeout:  15 * time.Second,
		FetchTimeout: 30 * time.Second,
	}
}

type MessagesCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	api MessagesGateway

	userId string

	// set once the realtime channel is up. see SetSender
	senderLock sync.Mutex
	sender     MessageSender

	stateLock sync.Mutex

	conversations     *entityStore[*Conversation]
	messages          *entityStore[*Message]
	conversationViews *viewIndex[*Conversation]
	messageViews      *viewIndex[*Message]

	changeCallbacks *CallbackList[ChangeFunction]

	settings *MessagesCoordinatorSettings
}

func NewMessagesCoordinatorWithDefaults(
	ctx context.Context,
	api MessagesGateway,
	userId string,
) *MessagesCoordinator {
	return NewMessagesCoordinator(ctx, api, userId, DefaultMessagesCoordinatorSettings())
}

func NewMessagesCoordinator(
	ctx context.Context,
	api MessagesGateway,
	userId string,
	settings *MessagesCoordinatorSettings,
) *MessagesCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)

	coordinator := &MessagesCoordinator{
		ctx:               cancelCtx,
		cancel:            cancel,
		api:               api,
		userId:            userId,
		conversationViews: newViewIndex[*Conversation](),
		messageViews:      newViewIndex[*Message](),
		changeCallbacks:   NewCallbackList[ChangeFunction](),
		settings:          settings,
	}
	coordinator.conversations = newEntityStore[*Conversation](coordinator.conversationChanged)
	coordinator.messages = newEntityStore[*Message](coordinator.messageChanged)
	return coordinator
}

// the realtime transport is constructed with the coordinator as its
// receiver, so the sender is attached after construction
func (self *MessagesCoordinator) SetSender(sender MessageSender) {
	self.senderLock.Lock()
	defer self.senderLock.Unlock()
	self.sender = sender
}

func (self *MessagesCoordinator) getSender() MessageSender {
	self.senderLock.Lock()
	defer self.senderLock.Unlock()
	return self.sender
}

// returns an unsub function
func (self *MessagesCoordinator) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *MessagesCoordinator) Close() {
	self.cancel()
}

// read surface

func (self *MessagesCoordinator) Conversations() []*Conversation {
	return self.conversationViews.Materialize(ViewConversations, self.conversations)
}

func (self *MessagesCoordinator) Messages(conversationId string) []*Message {
	return self.messageViews.Materialize(ConversationMessagesView(conversationId), self.messages)
}

func (self *MessagesCoordinator) GetConversation(conversationId string) (*Conversation, bool) {
	return self.conversations.Get(conversationId)
}

// fetches

func (self *MessagesCoordinator) FetchConversations() error {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer cancel()

	conversations, err := self.api.FetchConversationsSync(ctx)
	if err != nil {
		glog.Infof("[mc]fetch conversations error = %s\n", err)
		return err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.conversations.UpsertMany(conversations)
		self.conversationViews.SetView(ViewConversations, sortedConversationIds(conversations))
	}()
	self.viewsChanged()
	glog.V(2).Infof("[mc]fetch conversations n=%d\n", len(conversations))
	return nil
}

func (self *MessagesCoordinator) FetchMessages(conversationId string) error {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer cancel()

	messages, err := self.api.FetchMessagesSync(ctx, conversationId)
	if err != nil {
		glog.Infof("[mc]fetch messages %s error = %s\n", conversationId, err)
		return err
	}

	messageIds := make([]string, 0, len(messages))
	for _, message := range messages {
		messageIds = append(messageIds, message.MessageId)
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.messages.UpsertMany(messages)
		self.messageViews.SetView(ConversationMessagesView(conversationId), messageIds)
	}()
	self.viewsChanged()
	glog.V(2).Infof("[mc]fetch messages %s n=%d\n", conversationId, len(messages))
	return nil
}

func (self *MessagesCoordinator) GetOrCreateConversation(participantId string) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer cancel()

	conversation, err := self.api.GetOrCreateConversationSync(ctx, participantId)
	if err != nil {
		glog.Infof("[mc]get or create conversation error = %s\n", err)
		return nil, err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.conversations.UpsertMany([]*Conversation{conversation})
		if !self.conversationViews.Contains(ViewConversations, conversation.ConversationId) {
			self.conversationViews.Prepend(ViewConversations, conversation.ConversationId)
		}
	}()
	self.viewsChanged()
	return conversation, nil
}

// not optimistic. the platform assigns the message id and timestamp, and
// the message appears when the channel pushes it back as new_message
func (self *MessagesCoordinator) SendMessage(conversationId string, content string) error {
	sender := self.getSender()
	if sender == nil {
		return ErrRealtimeNotConnected
	}

	ctx, cancel := context.WithTimeout(self.ctx, self.settings.SendTimeout)
	defer cancel()

	if err := sender.SendMessageSync(ctx, conversationId, content); err != nil {
		glog.Infof("[mc]send %s error = %s\n", conversationId, err)
		return err
	}
	glog.V(2).Infof("[mc]send %s\n", conversationId)
	return nil
}

func (self *MessagesCoordinator) JoinConversation(conversationId string) {
	if sender := self.getSender(); sender != nil {
		sender.JoinConversation(conversationId)
	}
}

func (self *MessagesCoordinator) LeaveConversation(conversationId string) {
	if sender := self.getSender(); sender != nil {
		sender.LeaveConversation(conversationId)
	}
}

// RealtimeReceiver. pushes apply in delivery order, no reordering buffer

func (self *MessagesCoordinator) HandleNewMessage(message *Message) {
	if message == nil {
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.messages.UpsertMany([]*Message{message})
		self.messageViews.Append(ConversationMessagesView(message.ConversationId), message.MessageId)
	}()
	self.viewsChanged()
	glog.V(2).Infof("[mc]push message %s %s\n", message.ConversationId, message.MessageId)
}

func (self *MessagesCoordinator) HandleConversationUpdated(conversationId string, lastMessage *Message) {
	if lastMessage == nil {
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.conversations.Update(conversationId, func(conversation *Conversation) *Conversation {
			next := *conversation
			next.LastMessage = lastMessage
			lastMessageAt := lastMessage.CreatedAt
			next.LastMessageAt = &lastMessageAt
			return &next
		})
		self.resortConversations()
	}()
	self.viewsChanged()
	glog.V(2).Infof("[mc]push conversation %s\n", conversationId)
}

// most recent activity first. called with stateLock held
func (self *MessagesCoordinator) resortConversations() {
	conversationIds := self.conversationViews.Ids(ViewConversations)
	conversations := make([]*Conversation, 0, len(conversationIds))
	for _, conversationId := range conversationIds {
		if conversation, ok := self.conversations.Get(conversationId); ok {
			conversations = append(conversations, conversation)
		}
	}
	self.conversationViews.SetView(ViewConversations, sortedConversationIds(conversations))
}

func sortedConversationIds(conversations []*Conversation) []string {
	sorted := slices.Clone(conversations)
	slices.SortStableFunc(sorted, func(a *Conversation, b *Conversation) int {
		// recency descending
		if a.ActivityTime().After(b.ActivityTime()) {
			return -1
		}
		if b.ActivityTime().After(a.ActivityTime()) {
			return 1
		}
		return 0
	})
	conversationIds := make([]string, 0, len(sorted))
	for _, conversation := range sorted {
		conversationIds = append(conversationIds, conversation.ConversationId)
	}
	return conversationIds
}

func (self *MessagesCoordinator) conversationChanged(conversationId string) {
	self.conversationViews.Invalidate(conversationId)
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}

func (self *MessagesCoordinator) messageChanged(messageId string) {
	self.messageViews.Invalidate(messageId)
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}

func (self *MessagesCoordinator) viewsChanged() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}
