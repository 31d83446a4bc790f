// Package mocks provides testify mocks for the collaborators of the pipeline.
package mocks

import (
	"context"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

// MockCompleter is a mock implementation of ai.Completer interface.
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)

	return args.String(0), args.Error(1)
}

// MockSender is a mock implementation of whatsapp.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, phoneNumberID, to, text string) (string, error) {
	args := m.Called(ctx, phoneNumberID, to, text)

	return args.String(0), args.Error(1)
}
