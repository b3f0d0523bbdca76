package relpipe

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MessageType is a string that defines the purpose of a collaborator
// message.
type MessageType string

const (
	// MessageTypeLog is for log lines emitted by a collaborator.
	MessageTypeLog MessageType = "log"
	// MessageTypeArtifact reports an artifact ref produced by a step, e.g. a
	// content-addressed cache entry that was pushed.
	MessageTypeArtifact MessageType = "artifact"
	// MessageTypeResult is the collaborator's final message with its exit
	// status.
	MessageTypeResult MessageType = "result"
)

// Message is the standard unit of communication between the orchestrator and
// an external collaborator process. Collaborators write messages as JSON
// lines on stdout; anything that doesn't parse as a Message is treated as a
// plain log line.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ArtifactPayload is the payload of a MessageTypeArtifact message.
type ArtifactPayload struct {
	Ref string `json:"ref"`
}

// ResultPayload is the payload of a MessageTypeResult message.
type ResultPayload struct {
	ExitCode int `json:"exitCode"`
}

// MessageHandler is a function that processes a received message.
type MessageHandler func(msgType MessageType, payload json.RawMessage) error

// CollabBroker routes messages between the orchestrator and a collaborator
// process. The orchestrator side listens on the collaborator's stdout; the
// collaborator side sends on its own stdout.
type CollabBroker struct {
	mu             sync.RWMutex
	output         io.Writer
	handlers       map[MessageType]MessageHandler
	defaultHandler MessageHandler
}

// NewCollabBroker creates a new broker writing outbound messages to output.
func NewCollabBroker(output io.Writer) *CollabBroker {
	return &CollabBroker{
		output:   output,
		handlers: make(map[MessageType]MessageHandler),
	}
}

// RegisterHandler registers a handler for a specific message type.
func (b *CollabBroker) RegisterHandler(msgType MessageType, handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[msgType] = handler
}

// SetDefaultHandler sets a handler for message types that are not
// explicitly registered.
func (b *CollabBroker) SetDefaultHandler(handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultHandler = handler
}

// Send marshals and writes a message as a single JSON line.
func (b *CollabBroker) Send(msgType MessageType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := Message{
		Type:    msgType,
		Payload: json.RawMessage(payloadBytes),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	data = append(data, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.output.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Listen reads and routes messages from the given reader until EOF.
// Handler errors are returned to the caller; a missing handler for a message
// type falls back to the default handler, and is ignored if none is set.
func (b *CollabBroker) Listen(reader io.Reader) error {
	decoder := json.NewDecoder(reader)

	for {
		var msg Message
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode message: %w", err)
		}

		b.mu.RLock()
		handler, exists := b.handlers[msg.Type]
		if !exists {
			handler = b.defaultHandler
		}
		b.mu.RUnlock()

		if handler == nil {
			continue
		}
		if err := handler(msg.Type, msg.Payload); err != nil {
			return fmt.Errorf("handler error for message type %s: %w", msg.Type, err)
		}
	}
}
