package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantHandleCreate(t *testing.T) {
	tn := NewTenant()
	events, err := tn.HandleCreate(CreateTenantCommand{TenantID: "tenant_1", Name: "Acme"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTenantCreated, events[0].Type)

	require.NoError(t, tn.Apply(events[0]))
	assert.Equal(t, "tenant_1", tn.AggregateID())
	assert.Equal(t, "Acme", tn.Name())
	assert.Equal(t, uint64(1), tn.Version())
}

func TestTenantHandleCreateAlreadyExists(t *testing.T) {
	tn := NewTenant()
	events, err := tn.HandleCreate(CreateTenantCommand{TenantID: "tenant_1", Name: "Acme"})
	require.NoError(t, err)
	require.NoError(t, tn.Apply(events[0]))

	_, err = tn.HandleCreate(CreateTenantCommand{TenantID: "tenant_1", Name: "Acme"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestTenantHandleCreateInvalidInput(t *testing.T) {
	tn := NewTenant()
	_, err := tn.HandleCreate(CreateTenantCommand{TenantID: "", Name: "Acme"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tn2 := NewTenant()
	_, err = tn2.HandleCreate(CreateTenantCommand{TenantID: "tenant_1", Name: ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
