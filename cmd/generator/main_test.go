package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpipe/signalpipe/internal/model"
)

func TestParseSymbolsAcceptsTickerClassPairs(t *testing.T) {
	symbols, err := parseSymbols("BTC:CRYPTO, AAPL:STOCK")
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	assert.Equal(t, model.Symbol{Ticker: "BTC", Class: model.SymbolCrypto}, symbols[0])
	assert.Equal(t, model.Symbol{Ticker: "AAPL", Class: model.SymbolStock}, symbols[1])
}

func TestParseSymbolsRejectsUnknownClass(t *testing.T) {
	_, err := parseSymbols("BTC:FOREX")
	assert.Error(t, err)
}

func TestParseSymbolsRejectsMalformedEntry(t *testing.T) {
	_, err := parseSymbols("BTC")
	assert.Error(t, err)
}

func TestParseSymbolsRejectsEmptyInput(t *testing.T) {
	_, err := parseSymbols("  ,  ")
	assert.Error(t, err)
}
