package relpipe

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollabBrokerSendAndListen(t *testing.T) {
	var buf bytes.Buffer
	sender := NewCollabBroker(&buf)

	require.NoError(t, sender.Send(MessageTypeArtifact, ArtifactPayload{Ref: "cache/abc123"}))
	require.NoError(t, sender.Send(MessageTypeLog, "pushing cache"))
	require.NoError(t, sender.Send(MessageTypeResult, ResultPayload{ExitCode: 0}))

	// One JSON object per line.
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	receiver := NewCollabBroker(nil)

	var refs []string
	var logs []string
	var results []int

	receiver.RegisterHandler(MessageTypeArtifact, func(_ MessageType, payload json.RawMessage) error {
		var p ArtifactPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		refs = append(refs, p.Ref)
		return nil
	})
	receiver.RegisterHandler(MessageTypeResult, func(_ MessageType, payload json.RawMessage) error {
		var p ResultPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		results = append(results, p.ExitCode)
		return nil
	})
	receiver.SetDefaultHandler(func(_ MessageType, payload json.RawMessage) error {
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return err
		}
		logs = append(logs, text)
		return nil
	})

	require.NoError(t, receiver.Listen(&buf))

	assert.Equal(t, []string{"cache/abc123"}, refs)
	assert.Equal(t, []string{"pushing cache"}, logs)
	assert.Equal(t, []int{0}, results)
}

func TestCollabBrokerUnhandledMessageIgnored(t *testing.T) {
	var buf bytes.Buffer
	sender := NewCollabBroker(&buf)
	require.NoError(t, sender.Send(MessageTypeLog, "nobody listening"))

	receiver := NewCollabBroker(nil)
	assert.NoError(t, receiver.Listen(&buf))
}

func TestCollabBrokerHandlerErrorStopsListen(t *testing.T) {
	var buf bytes.Buffer
	sender := NewCollabBroker(&buf)
	require.NoError(t, sender.Send(MessageTypeResult, ResultPayload{ExitCode: 1}))

	receiver := NewCollabBroker(nil)
	receiver.RegisterHandler(MessageTypeResult, func(_ MessageType, _ json.RawMessage) error {
		return assert.AnError
	})

	err := receiver.Listen(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler error")
}

func TestCollabBrokerMalformedInput(t *testing.T) {
	receiver := NewCollabBroker(nil)
	err := receiver.Listen(strings.NewReader("not json at all\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}
