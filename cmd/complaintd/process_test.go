package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/complaint-engine/types"
)

func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		inputFile, channel, customerID, customerEmail, customerName = "", string(types.ChannelEmail), "", "", ""
	})
}

func TestReadRequestsFromArgs(t *testing.T) {
	resetFlags(t)
	channel = "chat"
	customerEmail = "ada@example.com"

	reqs, err := readRequests(nil, []string{"my", "parcel", "is", "late"})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "my parcel is late", reqs[0].RawText)
	assert.Equal(t, types.ChannelChat, reqs[0].Channel)
	assert.Equal(t, "ada@example.com", reqs[0].CustomerEmail)

	_, err = readRequests(nil, nil)
	assert.Error(t, err)
}

func TestReadRequestsFromFile(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "complaints.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"raw_text": "late again", "channel": "email", "customer_id": "CUST-1"},
		{"raw_text": "charged twice", "channel": "phone"}
	]`), 0o600))
	inputFile = path

	reqs, err := readRequests(nil, nil)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "CUST-1", reqs[0].CustomerID)
	assert.Equal(t, types.ChannelPhone, reqs[1].Channel)
}

func TestReadRequestsFromStdin(t *testing.T) {
	resetFlags(t)
	inputFile = "-"

	reqs, err := readRequests(strings.NewReader(`[{"raw_text": "broken", "channel": "social"}]`), nil)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, types.ChannelSocial, reqs[0].Channel)

	_, err = readRequests(strings.NewReader(`[]`), nil)
	assert.Error(t, err)

	_, err = readRequests(strings.NewReader(`{`), nil)
	assert.ErrorContains(t, err, "failed to decode")
}
