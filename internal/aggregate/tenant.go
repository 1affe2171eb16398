package aggregate

import (
	"encoding/json"
	"fmt"
)

const EventTenantCreated = "TenantCreated"

// Tenant is the write-side aggregate for a single tenant (organization).
type Tenant struct {
	id      string
	version uint64
	name    string
}

func NewTenant() *Tenant {
	return &Tenant{}
}

func (t *Tenant) AggregateID() string { return t.id }
func (t *Tenant) Version() uint64     { return t.version }
func (t *Tenant) Name() string        { return t.name }

type CreateTenantCommand struct {
	TenantID string
	Name     string
}

type TenantCreatedPayload struct {
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

func (t *Tenant) Apply(event Event) error {
	switch event.Type {
	case EventTenantCreated:
		var p TenantCreatedPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("apply %s: %w", event.Type, err)
		}
		t.id = p.TenantID
		t.name = p.Name

	default:
		return fmt.Errorf("aggregate: unknown tenant event type %q", event.Type)
	}

	t.version++
	return nil
}

// HandleCreate validates and creates a brand-new tenant. Call only on a
// freshly constructed Tenant (version 0).
func (t *Tenant) HandleCreate(cmd CreateTenantCommand) ([]Event, error) {
	if t.version > 0 {
		return nil, fmt.Errorf("%w: tenant %s", ErrAlreadyExists, t.id)
	}
	if cmd.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id cannot be empty", ErrInvalidInput)
	}
	if cmd.Name == "" {
		return nil, fmt.Errorf("%w: tenant name cannot be empty", ErrInvalidInput)
	}

	payload, err := json.Marshal(TenantCreatedPayload{
		TenantID:  cmd.TenantID,
		Name:      cmd.Name,
		Timestamp: nowRFC3339(),
	})
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EventTenantCreated, Payload: payload}}, nil
}
