package client

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// makes a copy of the list on update so that a snapshot from `get`
// stays valid while callbacks are added and removed concurrently
type CallbackList[T any] struct {
	stateLock   sync.Mutex
	callbackIds []Id
	callbacks   map[Id]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbackIds: []Id{},
		callbacks:   map[Id]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := make([]T, 0, len(self.callbackIds))
	for _, callbackId := range self.callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbackId := NewId()
	nextCallbackIds := make([]Id, len(self.callbackIds), len(self.callbackIds)+1)
	copy(nextCallbackIds, self.callbackIds)
	self.callbackIds = append(nextCallbackIds, callbackId)
	self.callbacks[callbackId] = callback
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	nextCallbackIds := []Id{}
	for _, nextCallbackId := range self.callbackIds {
		if nextCallbackId != callbackId {
			nextCallbackIds = append(nextCallbackIds, nextCallbackId)
		}
	}
	self.callbackIds = nextCallbackIds
}

// fixed delay before attempting a reconnect, counted from creation
// so that connect attempt time is included in the delay
type Reconnect struct {
	startTime time.Time
	timeout   time.Duration
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		startTime: time.Now(),
		timeout:   timeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.startTime)
	if remaining <= 0 {
		c := make(chan time.Time, 1)
		c <- time.Now()
		return c
	}
	return time.After(remaining)
}

func IsDoneError(r any) bool {
	isDoneMessage := func(message string) bool {
		switch message {
		case "Done":
			return true
		default:
			return false
		}
	}
	switch v := r.(type) {
	case error:
		return isDoneMessage(v.Error())
	case string:
		return isDoneMessage(v)
	default:
		return false
	}
}

func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			if IsDoneError(r) {
				// the context was canceled and raised. this is a standard pattern, do not log
			} else {
				glog.Warningf("Unexpected error: %s\n", ErrorJson(r, debug.Stack()))
			}
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}
