package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	success := true
	data, err := ArgOf(42)
	require.NoError(t, err)

	original := Message{
		Type:             MessageType("acme.sum.add"),
		ID:               "req-1",
		Time:             1700000000000,
		ModuleName:       "acme.caller",
		TargetModuleName: "acme.sum",
		RequestID:        "req-0",
		InstigatorID:     "instigator-1",
		EventName:        "acme.sum.tick",
		Data:             []Arg{data},
		Success:          &success,
		Timeout:          2000,
		ExcludedClients:  []string{"acme.other"},
	}

	encoded, err := original.MarshalJSON()
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, decoded.UnmarshalJSON(encoded))

	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Time, decoded.Time)
	assert.Equal(t, original.ModuleName, decoded.ModuleName)
	assert.Equal(t, original.TargetModuleName, decoded.TargetModuleName)
	assert.Equal(t, original.RequestID, decoded.RequestID)
	assert.Equal(t, original.InstigatorID, decoded.InstigatorID)
	assert.Equal(t, original.EventName, decoded.EventName)
	assert.Equal(t, original.Timeout, decoded.Timeout)
	assert.Equal(t, original.ExcludedClients, decoded.ExcludedClients)
	require.NotNil(t, decoded.Success)
	assert.True(t, *decoded.Success)
	require.Len(t, decoded.Data, 1)
	assert.JSONEq(t, string(original.Data[0]), string(decoded.Data[0]))
}

func TestFQNSplitting(t *testing.T) {
	fqn := NewMethodFQN("acme", "sum", "add")
	assert.Equal(t, "acme.sum.add", string(fqn))
	assert.Equal(t, "acme.sum", fqn.ModuleName())
	assert.Equal(t, "add", fqn.LocalName())
	assert.True(t, fqn.Valid())

	module := NewModuleFQN("acme", "sum")
	assert.Equal(t, "acme.sum", module.ModuleName())
	assert.Equal(t, "", module.LocalName())
}
