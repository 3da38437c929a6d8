package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// persistent bidirectional channel to the platform. carries json frames:
// platform originated pushes (new_message, conversation_updated) that
// apply directly to the caches, and client originated sends
// (send_message, join/leave) where send_message is acked by the platform
// with the client chosen ackId.

const RealtimeSendBufferSize = 32

var ErrRealtimeNotConnected = errors.New("realtime channel is not connected")

const (
	frameTypeAuth                = "auth"
	frameTypeAck                 = "ack"
	frameTypeSendMessage         = "send_message"
	frameTypeNewMessage          = "new_message"
	frameTypeConversationUpdated = "conversation_updated"
	frameTypeJoinConversation    = "join_conversation"
	frameTypeLeaveConversation   = "leave_conversation"
)

type realtimeFrame struct {
	Type string `json:"type"`

	// auth
	ByJwt string `json:"byJwt,omitempty"`

	// send_message / ack correlation
	AckId   *Id    `json:"ackId,omitempty"`
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`

	// send_message / join_conversation / leave_conversation /
	// conversation_updated
	ConversationId string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`

	// pushes
	Message     *Message `json:"message,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}

// push events delivered off the channel, in delivery order
type RealtimeReceiver interface {
	HandleNewMessage(message *Message)
	HandleConversationUpdated(conversationId string, lastMessage *Message)
}

type RealtimeTransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultRealtimeTransportSettings() *RealtimeTransportSettings {
	return &RealtimeTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type RealtimeTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	realtimeUrl string
	byJwt       string

	receiver RealtimeReceiver

	// frames queued for the active connection. the queue survives a
	// reconnect, so a send issued while disconnected goes out when the
	// channel comes back (or times out at the caller)
	send chan *realtimeFrame

	stateLock   sync.Mutex
	pendingAcks map[Id]chan *realtimeFrame

	settings *RealtimeTransportSettings
}

func NewRealtimeTransportWithDefaults(
	ctx context.Context,
	realtimeUrl string,
	byJwt string,
	receiver RealtimeReceiver,
) *RealtimeTransport {
	return NewRealtimeTransport(ctx, realtimeUrl, byJwt, receiver, DefaultRealtimeTransportSettings())
}

func NewRealtimeTransport(
	ctx context.Context,
	realtimeUrl string,
	byJwt string,
	receiver RealtimeReceiver,
	settings *RealtimeTransportSettings,
) *RealtimeTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &RealtimeTransport{
		ctx:         cancelCtx,
		cancel:      cancel,
		realtimeUrl: realtimeUrl,
		byJwt:       byJwt,
		receiver:    receiver,
		send:        make(chan *realtimeFrame, RealtimeSendBufferSize),
		pendingAcks: map[Id]chan *realtimeFrame{},
		settings:    settings,
	}
	go transport.run()
	return transport
}

// MessageSender

func (self *RealtimeTransport) SendMessageSync(ctx context.Context, conversationId string, content string) error {
	ackId := NewId()
	ack := make(chan *realtimeFrame, 1)

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.pendingAcks[ackId] = ack
	}()
	defer func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		delete(self.pendingAcks, ackId)
	}()

	frame := &realtimeFrame{
		Type:           frameTypeSendMessage,
		AckId:          &ackId,
		ConversationId: conversationId,
		Content:        content,
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.ctx.Done():
		return ErrRealtimeNotConnected
	case self.send <- frame:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.ctx.Done():
		return ErrRealtimeNotConnected
	case ackFrame := <-ack:
		if !ackFrame.Success {
			if ackFrame.Error != "" {
				return errors.New(ackFrame.Error)
			}
			return fmt.Errorf("send failed")
		}
		return nil
	}
}

func (self *RealtimeTransport) JoinConversation(conversationId string) {
	self.enqueue(&realtimeFrame{
		Type:           frameTypeJoinConversation,
		ConversationId: conversationId,
	})
}

func (self *RealtimeTransport) LeaveConversation(conversationId string) {
	self.enqueue(&realtimeFrame{
		Type:           frameTypeLeaveConversation,
		ConversationId: conversationId,
	})
}

func (self *RealtimeTransport) enqueue(frame *realtimeFrame) {
	select {
	case self.send <- frame:
	case <-self.ctx.Done():
	default:
		// backpressure. room membership frames are advisory
		glog.Infof("[rt]drop %s\n", frame.Type)
	}
}

func (self *RealtimeTransport) run() {
	defer self.cancel()

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.realtimeUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			authBytes, err := json.Marshal(&realtimeFrame{
				Type:  frameTypeAuth,
				ByJwt: self.byJwt,
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if _, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				// verify the auth ack
				var authAck realtimeFrame
				if err := json.Unmarshal(message, &authAck); err != nil {
					return nil, err
				}
				if authAck.Type != frameTypeAuth || !authAck.Success {
					return nil, fmt.Errorf("auth response error: %s", authAck.Error)
				}
			}

			success = true
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[rt]auth error = %s\n", err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case frame, ok := <-self.send:
						if !ok {
							return
						}

						frameBytes, err := json.Marshal(frame)
						if err != nil {
							glog.Infof("[rt]-> marshal error = %s\n", err)
							continue
						}
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							glog.Infof("[rt]-> error = %s\n", err)
							return
						}
						glog.V(2).Infof("[rt]%s->\n", frame.Type)
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					_, message, err := ws.ReadMessage()
					if err != nil {
						glog.Infof("[rt]<- error = %s\n", err)
						return
					}

					if 0 == len(message) {
						// ping
						glog.V(2).Infof("[rt]ping<-\n")
						continue
					}

					var frame realtimeFrame
					if err := json.Unmarshal(message, &frame); err != nil {
						glog.Infof("[rt]<- frame error = %s\n", err)
						continue
					}
					self.dispatch(&frame)
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		reconnect = NewReconnect(self.settings.ReconnectTimeout)
		c()
		self.failPendingAcks()
		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *RealtimeTransport) dispatch(frame *realtimeFrame) {
	switch frame.Type {
	case frameTypeAck:
		if frame.AckId == nil {
			return
		}
		var ack chan *realtimeFrame
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			ack = self.pendingAcks[*frame.AckId]
			delete(self.pendingAcks, *frame.AckId)
		}()
		if ack != nil {
			ack <- frame
		}
		glog.V(2).Infof("[rt]ack<- %s\n", frame.AckId)
	case frameTypeNewMessage:
		HandleError(func() {
			self.receiver.HandleNewMessage(frame.Message)
		})
		glog.V(2).Infof("[rt]%s<-\n", frame.Type)
	case frameTypeConversationUpdated:
		HandleError(func() {
			self.receiver.HandleConversationUpdated(frame.ConversationId, frame.LastMessage)
		})
		glog.V(2).Infof("[rt]%s<-\n", frame.Type)
	default:
		glog.V(2).Infof("[rt]other=%s<-\n", frame.Type)
	}
}

// a dropped connection can never ack. waiting senders see an error
// instead of hanging until their timeout
func (self *RealtimeTransport) failPendingAcks() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for ackId, ack := range self.pendingAcks {
		ackId := ackId
		select {
		case ack <- &realtimeFrame{
			Type:    frameTypeAck,
			AckId:   &ackId,
			Success: false,
			Error:   "connection lost",
		}:
		default:
		}
		delete(self.pendingAcks, ackId)
	}
}

func (self *RealtimeTransport) Close() {
	self.cancel()
}
