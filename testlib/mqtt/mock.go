// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Mock mqtt client that does nothing and can be used for testing.
type MockClient struct{}

func (m *MockClient) Publish(topic string, payload any) {
	// Do nothing
}

func (m *MockClient) Connect() error {
	return nil
}

func (m *MockClient) Disconnect() {
	// Do nothing
}

func (m *MockClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	return nil
}

// Mock mqtt client that records subscriptions and can deliver messages to
// them, to test subscribers without a broker.
type RecordingClient struct {
	MockClient
	Handlers map[string]pahomqtt.MessageHandler
}

func (m *RecordingClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	if m.Handlers == nil {
		m.Handlers = map[string]pahomqtt.MessageHandler{}
	}
	m.Handlers[topic] = callback
	return nil
}

// Deliver a payload to the handler subscribed to the topic, if any.
func (m *RecordingClient) Deliver(topic string, payload []byte) {
	if handler, ok := m.Handlers[topic]; ok {
		handler(nil, &MockMessage{MessageTopic: topic, MessagePayload: payload})
	}
}

// Mock mqtt message handed to subscribed callbacks.
type MockMessage struct {
	MessageTopic   string
	MessagePayload []byte
}

func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 2 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.MessageTopic }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.MessagePayload }
func (m *MockMessage) Ack()              {}
