package server

import (
	"encoding/json"

	"paperline/internal/domain"
	"paperline/internal/slots"
)

// Request payloads

type EnablePluginRequest struct {
	AcknowledgeRisk bool `json:"acknowledge_risk"`
}

type EnqueueJobRequest struct {
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	MaxAttempts *int           `json:"max_attempts,omitempty"`
}

type SetDataRequest struct {
	Value     any  `json:"value"`
	Encrypted bool `json:"encrypted,omitempty"`
}

// Response payloads

type PluginResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Enabled   bool           `json:"enabled"`
	Manifest  map[string]any `json:"manifest,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type InstallResponse struct {
	Plugin  PluginResponse `json:"plugin"`
	Updated bool           `json:"updated"`
}

type JobResponse struct {
	ID          string         `json:"id"`
	PluginID    string         `json:"plugin_id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      string         `json:"status" enum:"pending,running,succeeded,failed,dead"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	LockedAt    *string        `json:"locked_at,omitempty" format:"date-time"`
	LockOwner   *string        `json:"lock_owner,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type DataValueResponse struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     any    `json:"value"`
}

type DataKeysResponse struct {
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
}

type SlotRegistrationResponse struct {
	PluginName string          `json:"plugin_name"`
	Slot       string          `json:"slot"`
	Order      int             `json:"order"`
	Metadata   *slots.Metadata `json:"metadata,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func pluginResponse(p domain.Plugin) PluginResponse {
	return PluginResponse{
		ID:        p.ID,
		Name:      p.Name,
		Version:   p.Version,
		Enabled:   p.Enabled,
		Manifest:  decodeJSONMap(p.ManifestJSON),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func jobResponse(j domain.PluginJob) JobResponse {
	return JobResponse{
		ID:          j.ID,
		PluginID:    j.PluginID,
		Type:        j.Type,
		Payload:     decodeJSONMap(j.PayloadJSON),
		Status:      j.Status,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LockedAt:    j.LockedAt,
		LockOwner:   j.LockOwner,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func slotRegistrationResponse(reg slots.Registration) SlotRegistrationResponse {
	res := SlotRegistrationResponse{
		PluginName: reg.PluginName,
		Slot:       reg.Slot,
		Order:      reg.Order,
	}
	if reg.Metadata != (slots.Metadata{}) {
		md := reg.Metadata
		res.Metadata = &md
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
