package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapPayload(t *testing.T) {
	type payload struct {
		TxID   string `json:"tx_id"`
		Amount int64  `json:"amount"`
	}
	got, err := UnwrapPayload[payload](json.RawMessage(MustMarshal(payload{TxID: "tx-1", Amount: 7})))
	require.NoError(t, err)
	assert.Equal(t, payload{TxID: "tx-1", Amount: 7}, got)

	_, err = UnwrapPayload[payload](json.RawMessage(`{"amount":"x"}`))
	assert.Error(t, err)
}

func TestMustMarshal_Panics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
}
