package client

import (
	"sync"

	"golang.org/x/exp/slices"
)

// named ordered lists of entity ids projecting the entity store into the
// sequences the ui renders. views hold ids, never entity copies.
//
// materializations are cached per view and invalidated only when the view
// order changes or the store changes an id the view contains, so a change
// to an unrelated entity does not recompute unrelated views.

type ViewName string

const (
	ViewFeed          ViewName = "feed"
	ViewExplore       ViewName = "explore"
	ViewBookmarks     ViewName = "bookmarks"
	ViewConversations ViewName = "conversations"
)

// one sequence per user id
func UserPostsView(userId string) ViewName {
	return ViewName("user/" + userId)
}

// one sequence per conversation id
func ConversationMessagesView(conversationId string) ViewName {
	return ViewName("messages/" + conversationId)
}

type viewIndex[E Entity] struct {
	stateLock sync.Mutex

	viewIds map[ViewName][]string
	// reverse index: entity id -> views containing it
	idViews map[string]map[ViewName]bool

	// cached materializations. dropped on any change to the view order
	// or to an entity the view contains
	materialized map[ViewName][]E
}

func newViewIndex[E Entity]() *viewIndex[E] {
	return &viewIndex[E]{
		viewIds:      map[ViewName][]string{},
		idViews:      map[string]map[ViewName]bool{},
		materialized: map[ViewName][]E{},
	}
}

// replaces the sequence wholesale. used after a full fetch of the view
func (self *viewIndex[E]) SetView(name ViewName, orderedIds []string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, entityId := range self.viewIds[name] {
		self.unlink(name, entityId)
	}
	ids := slices.Clone(orderedIds)
	self.viewIds[name] = ids
	for _, entityId := range ids {
		self.link(name, entityId)
	}
	delete(self.materialized, name)
}

// inserts at index 0. used for new entries appearing at the top of a view
func (self *viewIndex[E]) Prepend(name ViewName, entityId string) {
	self.InsertAt(name, entityId, 0)
}

// inserts at the end. used for messages arriving in delivery order
func (self *viewIndex[E]) Append(name ViewName, entityId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	ids := self.viewIds[name]
	self.viewIds[name] = append(slices.Clone(ids), entityId)
	self.link(name, entityId)
	delete(self.materialized, name)
}

func (self *viewIndex[E]) InsertAt(name ViewName, entityId string, index int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	ids := self.viewIds[name]
	if index < 0 {
		index = 0
	}
	if len(ids) < index {
		index = len(ids)
	}
	ids = slices.Insert(slices.Clone(ids), index, entityId)
	self.viewIds[name] = ids
	self.link(name, entityId)
	delete(self.materialized, name)
}

// strips the id from one view. returns the index it held, or -1
func (self *viewIndex[E]) RemoveFromView(name ViewName, entityId string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.removeFromView(name, entityId)
}

// strips the id from every view. used on deletion
func (self *viewIndex[E]) RemoveFromAll(entityId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for name := range self.idViews[entityId] {
		self.removeFromView(name, entityId)
	}
}

func (self *viewIndex[E]) Contains(name ViewName, entityId string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.idViews[entityId][name]
}

func (self *viewIndex[E]) IndexOf(name ViewName, entityId string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Index(self.viewIds[name], entityId)
}

func (self *viewIndex[E]) Ids(name ViewName) []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return slices.Clone(self.viewIds[name])
}

// drops the cached materialization of every view containing the id.
// wired as the store change callback
func (self *viewIndex[E]) Invalidate(entityId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for name := range self.idViews[entityId] {
		delete(self.materialized, name)
	}
}

// resolves the view's ids out of the store, in order. ids that do not
// resolve are silently dropped from the result. the returned slice is
// cached and shared. callers must not edit it
func (self *viewIndex[E]) Materialize(name ViewName, store *entityStore[E]) []E {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if entities, ok := self.materialized[name]; ok {
		return entities
	}
	ids := self.viewIds[name]
	entities := make([]E, 0, len(ids))
	for _, entityId := range ids {
		if entity, ok := store.Get(entityId); ok {
			entities = append(entities, entity)
		}
	}
	self.materialized[name] = entities
	return entities
}

func (self *viewIndex[E]) removeFromView(name ViewName, entityId string) int {
	ids := self.viewIds[name]
	i := slices.Index(ids, entityId)
	if i < 0 {
		return -1
	}
	self.viewIds[name] = slices.Delete(slices.Clone(ids), i, i+1)
	self.unlink(name, entityId)
	delete(self.materialized, name)
	return i
}

func (self *viewIndex[E]) link(name ViewName, entityId string) {
	views, ok := self.idViews[entityId]
	if !ok {
		views = map[ViewName]bool{}
		self.idViews[entityId] = views
	}
	views[name] = true
}

func (self *viewIndex[E]) unlink(name ViewName, entityId string) {
	views := self.idViews[entityId]
	delete(views, name)
	if len(views) == 0 {
		delete(self.idViews, entityId)
	}
}
