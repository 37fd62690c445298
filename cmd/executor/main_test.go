package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpipe/signalpipe/internal/executor"
)

type stubBroker struct {
	state executor.AccountState
	err   error
}

func (s stubBroker) AccountState(ctx context.Context) (executor.AccountState, error) {
	return s.state, s.err
}

func (s stubBroker) PlaceOrder(ctx context.Context, req executor.BrokerOrderRequest) (*executor.BrokerOrderResult, error) {
	return nil, errors.New("not implemented in stub")
}

func TestBrokerAccountReaderMapsReadableState(t *testing.T) {
	reader := brokerAccountReader{broker: stubBroker{state: executor.AccountState{Readable: true, EquityUSD: 5000}}}

	equity, readable, err := reader.AccountState(t.Context())
	require.NoError(t, err)
	assert.True(t, readable)
	assert.Equal(t, 5000.0, equity)
}

func TestBrokerAccountReaderPropagatesBrokerError(t *testing.T) {
	reader := brokerAccountReader{broker: stubBroker{err: errors.New("boom")}}

	_, readable, err := reader.AccountState(t.Context())
	assert.Error(t, err)
	assert.False(t, readable)
}
