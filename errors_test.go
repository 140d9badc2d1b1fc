package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFromResponsePrefersRemoteErrorString(t *testing.T) {
	data, err := ArgOf(map[string]string{"error": "boom"})
	require.NoError(t, err)

	resp := &Message{ModuleName: "acme.sum", Data: []Arg{data}}
	got := errorFromResponse("acme.sum", "acme.sum.add", resp)
	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, KindBroker, got.Kind)
}

func TestErrorFromResponseFallsBackToGenericMessage(t *testing.T) {
	resp := &Message{ModuleName: "acme.sum"}
	got := errorFromResponse("acme.sum", "acme.sum.add", resp)
	assert.Equal(t, `acme.sum's "acme.sum.add" request has failed`, got.Message)
}

func TestHandlerFailureDataShapesErrorObject(t *testing.T) {
	raw := handlerFailureData("X")
	assert.JSONEq(t, `{"error":"X"}`, string(raw))
}

func TestIsTimeoutAndIsBrokerError(t *testing.T) {
	timeoutErr := TimeoutError("acme.sum", "acme.sum.add")
	assert.True(t, IsTimeout(timeoutErr))
	assert.False(t, IsBrokerError(timeoutErr))
	assert.Equal(t, "TIMEOUT", timeoutErr.Code())

	brokerErr := BrokerError("boom")
	assert.True(t, IsBrokerError(brokerErr))
	assert.False(t, IsTimeout(brokerErr))

	wrapped := errors.New("wrapped")
	assert.False(t, IsTimeout(wrapped))
	assert.False(t, IsBrokerError(wrapped))
}
