package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// EventSerializer translates domain events to and from JSON. Decoding needs
// a prototype per event type, registered up front, because the wire carries
// only the event type name next to the payload.
type EventSerializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewEventSerializer creates an empty serializer
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		registry: make(map[string]reflect.Type),
	}
}

// Register binds an event type name to the Go type used when decoding it.
// The name must match what EventType() returns on the event.
func (s *EventSerializer) Register(eventType string, prototype shared.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// Serialize encodes a domain event as JSON
func (s *EventSerializer) Serialize(evt shared.DomainEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// Deserialize decodes JSON into the Go type registered for the event type
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	t, ok := s.registry[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	ptr := reflect.New(t).Interface()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", eventType, err)
	}

	evt, ok := ptr.(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("type registered for %s does not implement DomainEvent", eventType)
	}
	return evt, nil
}

// IsRegistered reports whether an event type can be deserialized
func (s *EventSerializer) IsRegistered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry[eventType]
	return ok
}

// RegisteredTypes returns all registered event type names
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	return types
}

// RegisterIntegrationEvents registers every event type the integration
// domain publishes. The shared DataEvent and PipelineEvent structs serve
// several type names each; the event type string is the discriminator.
func RegisterIntegrationEvents(s *EventSerializer) {
	s.Register(integration.EventTypeAdapterRegistered, &integration.AdapterRegisteredEvent{})
	s.Register(integration.EventTypeAdapterDeregistered, &integration.AdapterDeregisteredEvent{})
	s.Register(integration.EventTypeAdapterStarted, &integration.AdapterStartedEvent{})
	s.Register(integration.EventTypeAdapterStopped, &integration.AdapterStoppedEvent{})
	s.Register(integration.EventTypeAdapterConnected, &integration.AdapterConnectedEvent{})
	s.Register(integration.EventTypeAdapterDisconnected, &integration.AdapterDisconnectedEvent{})
	s.Register(integration.EventTypeAdapterError, &integration.AdapterErrorEvent{})
	s.Register(integration.EventTypeAdapterReconnecting, &integration.AdapterReconnectingEvent{})
	s.Register(integration.EventTypeAdapterRecovered, &integration.AdapterRecoveredEvent{})
	s.Register(integration.EventTypeAdapterHealthChanged, &integration.AdapterHealthChangedEvent{})
	for _, eventType := range integration.DataEventTypes() {
		s.Register(eventType, &integration.DataEvent{})
	}
	for _, eventType := range integration.PipelineEventTypes() {
		s.Register(eventType, &integration.PipelineEvent{})
	}
}
