// Package blackboard implements the filesystem-backed message bus: per-agent
// mailboxes under "<base>/<agentId>/{inbox, processed}", atomic
// write-then-rename delivery, TTL-based expiry-on-read, and the four
// canonical envelope shapes, per spec §4.2.
package blackboard

import (
	"time"

	"github.com/google/uuid"
)

// Type is the envelope's message kind.
type Type string

const (
	TypeRequest      Type = "request"
	TypeResponse     Type = "response"
	TypeNotification Type = "notification"
	TypeError        Type = "error"
)

// Priority is the envelope's delivery priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AgentRef identifies a message's sender or recipient.
type AgentRef struct {
	AgentID string `json:"agentId"`
	Node    string `json:"node,omitempty"`
}

// Envelope is the canonical message shape exchanged over the Blackboard.
type Envelope struct {
	Version   int                    `json:"version"`
	ID        string                 `json:"id"`
	TraceID   string                 `json:"traceId"`
	From      AgentRef               `json:"from"`
	To        AgentRef               `json:"to"`
	Type      Type                   `json:"type"`
	Priority  Priority               `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
	TTL       int                    `json:"ttl"` // seconds
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const envelopeVersion = 1

func newEnvelope(from, to AgentRef, typ Type, priority Priority, ttl int, traceID string, payload map[string]interface{}) Envelope {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return Envelope{
		Version:   envelopeVersion,
		ID:        uuid.New().String(),
		TraceID:   traceID,
		From:      from,
		To:        to,
		Type:      typ,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
		TTL:       ttl,
		Payload:   payload,
	}
}

// NewRequest builds a request envelope: payload {action, params, deadline?}.
func NewRequest(from, to AgentRef, action string, params map[string]interface{}, deadline *time.Time) Envelope {
	payload := map[string]interface{}{"action": action, "params": params}
	if deadline != nil {
		payload["deadline"] = deadline.UTC()
	}
	return newEnvelope(from, to, TypeRequest, PriorityNormal, 3600, "", payload)
}

// NewResponse builds a response envelope: payload {requestId, status, result, error?}.
func NewResponse(from, to AgentRef, traceID, requestID, status string, result interface{}, errMsg string) Envelope {
	payload := map[string]interface{}{"requestId": requestID, "status": status, "result": result}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return newEnvelope(from, to, TypeResponse, PriorityNormal, 3600, traceID, payload)
}

// NewNotification builds a notification envelope: payload {event, message, progress?}.
func NewNotification(from, to AgentRef, event, message string, progress map[string]interface{}) Envelope {
	payload := map[string]interface{}{"event": event, "message": message}
	if progress != nil {
		payload["progress"] = progress
	}
	return newEnvelope(from, to, TypeNotification, PriorityNormal, 86400, "", payload)
}

// NewErrorEnvelope builds an error envelope: payload {requestId, code,
// message, recoverable, suggestion?}.
func NewErrorEnvelope(from, to AgentRef, traceID, requestID, code, message string, recoverable bool, suggestion string) Envelope {
	payload := map[string]interface{}{
		"requestId": requestID, "code": code, "message": message, "recoverable": recoverable,
	}
	if suggestion != "" {
		payload["suggestion"] = suggestion
	}
	return newEnvelope(from, to, TypeError, PriorityHigh, 86400, traceID, payload)
}

// SendProgressNotification auto-populates progress = {current, total,
// percent} with percent rounded to one decimal, guarding against division
// by zero when total == 0.
func SendProgressNotification(from, to AgentRef, event, message string, current, total int) Envelope {
	var percent float64
	if total > 0 {
		percent = roundTo(float64(current)/float64(total)*100, 1)
	}
	progress := map[string]interface{}{"current": current, "total": total, "percent": percent}
	return NewNotification(from, to, event, message, progress)
}

func roundTo(v float64, decimals int) float64 {
	mult := 1.0
	for i := 0; i < decimals; i++ {
		mult *= 10
	}
	return float64(int(v*mult+0.5)) / mult
}

// IsExpired reports whether the envelope's age exceeds its TTL as of now.
func (e Envelope) IsExpired(now time.Time) bool {
	return now.Sub(e.Timestamp) > time.Duration(e.TTL)*time.Second
}
