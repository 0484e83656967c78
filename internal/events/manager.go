// Package events provides the in-process event manager. Components emit
// typed events; the manager logs each one and fans it out to subscribers
// (the websocket stream, primarily). Emission never blocks the emitter: a
// slow subscriber drops events rather than stalling the pipeline.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	SignalEmitted     EventType = "SIGNAL_EMITTED"
	OrderSubmitted    EventType = "ORDER_SUBMITTED"
	OrderFilled       EventType = "ORDER_FILLED"
	OrderRejected     EventType = "ORDER_REJECTED"
	PositionOpened    EventType = "POSITION_OPENED"
	PositionClosed    EventType = "POSITION_CLOSED"
	BreakerTripped    EventType = "BREAKER_TRIPPED"
	BreakerReset      EventType = "BREAKER_RESET"
	DiscrepancyFound  EventType = "DISCREPANCY_FOUND"
	ScanCompleted     EventType = "SCAN_COMPLETED"
	BackupCompleted   EventType = "BACKUP_COMPLETED"
	CapitalRedeployed EventType = "CAPITAL_REDEPLOYED"
	ErrorOccurred     EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission, logging and fan-out to subscribers
type Manager struct {
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:         log.With().Str("service", "events").Logger(),
		subscribers: map[int]chan Event{},
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}

// Subscribe registers a buffered event channel. The returned cancel function
// unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}
