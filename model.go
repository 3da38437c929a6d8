package client

import (
	"time"
)

// wire models for the platform REST api and the realtime channel.
// field names follow the platform json contract.

// `model.User`
type User struct {
	UserId            string   `json:"id"`
	Email             string   `json:"email,omitempty"`
	Username          string   `json:"username"`
	Name              string   `json:"name,omitempty"`
	Bio               string   `json:"bio,omitempty"`
	Link              string   `json:"link,omitempty"`
	ProfilePictureUrl string   `json:"profilePictureUrl,omitempty"`
	Followers         []string `json:"followers,omitempty"`
	Following         []string `json:"following,omitempty"`
	CreatedAt         string   `json:"createdAt,omitempty"`
}

// `model.Post`
type Post struct {
	PostId   string `json:"id"`
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Content  string `json:"content"`
	ImageUrl string `json:"imageUrl,omitempty"`
	// semantically a set. each user id appears at most once
	Likes     []string   `json:"likes"`
	Comments  []*Comment `json:"comments"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (self *Post) EntityId() string {
	return self.PostId
}

func (self *Post) IsLikedBy(userId string) bool {
	for _, likeUserId := range self.Likes {
		if likeUserId == userId {
			return true
		}
	}
	return false
}

// `model.Comment`
type Comment struct {
	CommentId string    `json:"id"`
	PostId    string    `json:"postId"`
	UserId    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// `model.Conversation`
type ConversationType string

const (
	ConversationTypeDirect ConversationType = "direct"
	ConversationTypeGroup  ConversationType = "group"
)

type ConversationParticipant struct {
	UserId            string `json:"id"`
	Username          string `json:"username"`
	ProfilePictureUrl string `json:"profilePictureUrl,omitempty"`
}

type Conversation struct {
	ConversationId string                     `json:"id"`
	Type           ConversationType           `json:"type"`
	Participants   []*ConversationParticipant `json:"participants"`
	// denormalized pointer for list rendering, kept in sync by
	// conversation_updated events
	LastMessage   *Message   `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (self *Conversation) EntityId() string {
	return self.ConversationId
}

// list ordering key. conversations with no messages order by create time
func (self *Conversation) ActivityTime() time.Time {
	if self.LastMessageAt != nil {
		return *self.LastMessageAt
	}
	return self.CreatedAt
}

// `model.Message`
type Message struct {
	MessageId      string    `json:"id"`
	ConversationId string    `json:"conversationId"`
	SenderId       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (self *Message) EntityId() string {
	return self.MessageId
}
