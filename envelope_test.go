package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRequestStampThenResolve(t *testing.T) {
	var seenInstigator string
	var seenArgs []Arg

	raw := NewRawRequest(func(instigatorID string, args []Arg) (any, error) {
		seenInstigator = instigatorID
		seenArgs = args
		return "done", nil
	})

	raw.stamp("instigator-1")
	arg, err := ArgOf("payload")
	require.NoError(t, err)

	result, err := raw.resolve([]Arg{arg})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, "instigator-1", seenInstigator)
	require.Len(t, seenArgs, 1)
	assert.JSONEq(t, string(arg), string(seenArgs[0]))
}
