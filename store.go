package client

import (
	"sync"

	"golang.org/x/exp/maps"
)

// normalized entity cache. one copy of each entity, addressable by id.
// every view that renders an entity resolves it out of the store, so a
// mutation through the store is visible in all views at once.
//
// the store is session scoped. entries are created on first fetch or on a
// confirmed create, updated in place by the coordinators or by realtime
// events, and removed only on explicit deletion. there is no expiry.
//
// callers never edit an entity they hold a reference to. all changes go
// through Update/UpsertMany/Remove, which replace the stored entry and
// notify the change callback, so previously materialized view slices stay
// referentially stable until invalidated.

type Entity interface {
	EntityId() string
}

type EntityChangeFunction = func(entityId string)

type entityStore[E Entity] struct {
	stateLock sync.Mutex

	entities map[string]E

	// invoked after every upsert/update/remove, outside the lock,
	// once per changed id
	changeCallback EntityChangeFunction
}

func newEntityStore[E Entity](changeCallback EntityChangeFunction) *entityStore[E] {
	return &entityStore[E]{
		entities:       map[string]E{},
		changeCallback: changeCallback,
	}
}

// inserts or overwrites by id. input order does not matter.
// applying the same set twice yields the same map.
func (self *entityStore[E]) UpsertMany(entities []E) {
	entityIds := make([]string, 0, len(entities))
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for _, entity := range entities {
			self.entities[entity.EntityId()] = entity
			entityIds = append(entityIds, entity.EntityId())
		}
	}()
	for _, entityId := range entityIds {
		self.notify(entityId)
	}
}

// replaces the entry with transform(current). no-op if the id is absent.
// transform must return a new value and not edit the current one, since
// materialized slices may still reference it.
func (self *entityStore[E]) Update(entityId string, transform func(E) E) bool {
	updated := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		entity, ok := self.entities[entityId]
		if !ok {
			return
		}
		self.entities[entityId] = transform(entity)
		updated = true
	}()
	if updated {
		self.notify(entityId)
	}
	return updated
}

// removing an absent id is not an error
func (self *entityStore[E]) Remove(entityId string) {
	removed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.entities[entityId]; ok {
			delete(self.entities, entityId)
			removed = true
		}
	}()
	if removed {
		self.notify(entityId)
	}
}

func (self *entityStore[E]) Get(entityId string) (E, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entity, ok := self.entities[entityId]
	return entity, ok
}

func (self *entityStore[E]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.entities)
}

func (self *entityStore[E]) EntityIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Keys(self.entities)
}

func (self *entityStore[E]) notify(entityId string) {
	if self.changeCallback != nil {
		self.changeCallback(entityId)
	}
}
