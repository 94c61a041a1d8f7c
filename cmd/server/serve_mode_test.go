package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseServeMode(testingT *testing.T) {
	testCases := []struct {
		input        string
		expected     ServeMode
		servesHTTP   bool
		runsWorker   bool
		expectsError bool
	}{
		{input: "", expected: ServeModeMonolith, servesHTTP: true, runsWorker: true},
		{input: " API ", expected: ServeModeAPI, servesHTTP: true, runsWorker: false},
		{input: "worker", expected: ServeModeWorker, servesHTTP: false, runsWorker: true},
		{input: "web", expectsError: true},
	}
	for _, testCase := range testCases {
		mode, err := ParseServeMode(testCase.input)
		if testCase.expectsError {
			require.ErrorIs(testingT, err, ErrInvalidServeMode)
			continue
		}
		require.NoError(testingT, err)
		require.Equal(testingT, testCase.expected, mode)
		require.Equal(testingT, testCase.servesHTTP, mode.ServesHTTP())
		require.Equal(testingT, testCase.runsWorker, mode.RunsWorker())
	}
}
