// -----------------------------------------------------------------------
// In-process event bus
// -----------------------------------------------------------------------

package events

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/common"
	"github.com/ternarybob/mitto/internal/interfaces"
)

// subscription is one registered handler
type subscription struct {
	id      uint64
	handler interfaces.EventHandler
}

// EventService is a simple synchronous-dispatch pub/sub bus. Handlers run
// on dedicated goroutines per publish so a slow subscriber cannot stall
// the scheduler.
type EventService struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[interfaces.EventType][]subscription
	all    []subscription
	logger arbor.ILogger
}

// NewEventService creates an empty bus
func NewEventService() *EventService {
	return &EventService{
		byType: make(map[interfaces.EventType][]subscription),
		logger: common.GetLogger(),
	}
}

// Publish delivers the event to all matching subscribers
func (s *EventService) Publish(event interfaces.Event) {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, 0, len(s.byType[event.Type])+len(s.all))
	for _, sub := range s.byType[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range s.all {
		handlers = append(handlers, sub.handler)
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("event_type", string(event.Type)).
					Msg("Event handler panicked")
			}
		}()
		for _, handler := range handlers {
			handler(event)
		}
	}()
}

// Subscribe registers a handler for one event type.
// Returns an unsubscribe function.
func (s *EventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.byType[eventType] = append(s.byType[eventType], subscription{id: id, handler: handler})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.byType[eventType]
		for i, sub := range subs {
			if sub.id == id {
				s.byType[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every event type.
// Returns an unsubscribe function.
func (s *EventService) SubscribeAll(handler interfaces.EventHandler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.all = append(s.all, subscription{id: id, handler: handler})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.all {
			if sub.id == id {
				s.all = append(s.all[:i], s.all[i+1:]...)
				return
			}
		}
	}
}
