package testutils

import (
	"context"

	"github.com/srg/ydbolt/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of device.Client.
type MockClient struct {
	mock.Mock
}

var _ device.Client = (*MockClient)(nil)

func (m *MockClient) Address() string {
	return m.Called().String(0)
}

func (m *MockClient) Read(ctx context.Context, char string) ([]byte, error) {
	args := m.Called(ctx, char)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockClient) Write(ctx context.Context, char string, data []byte, withResponse bool) error {
	return m.Called(ctx, char, data, withResponse).Error(0)
}

func (m *MockClient) Subscribe(ctx context.Context, char string, handler device.NotificationHandler) error {
	return m.Called(ctx, char, handler).Error(0)
}

func (m *MockClient) Unsubscribe(ctx context.Context, char string) error {
	return m.Called(ctx, char).Error(0)
}

func (m *MockClient) Disconnect() error {
	return m.Called().Error(0)
}

func (m *MockClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	ch, _ := m.Called().Get(0).(chan struct{})
	return ch
}

// MockDialer is a testify mock of device.Dialer.
type MockDialer struct {
	mock.Mock
}

var _ device.Dialer = (*MockDialer)(nil)

func (m *MockDialer) Dial(ctx context.Context, address string, opts *device.ConnectOptions) (device.Client, error) {
	args := m.Called(ctx, address, opts)
	client, _ := args.Get(0).(device.Client)
	return client, args.Error(1)
}
