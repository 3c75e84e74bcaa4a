package chat

import (
	"github.com/stretchr/testify/mock"
)

type MockView struct {
	mock.Mock
}

func (m *MockView) SetRoomName(name string) {
	m.Called(name)
}

func (m *MockView) AppendMessage(msg Message) {
	m.Called(msg)
}

func (m *MockView) SetOnlineCount(count int) {
	m.Called(count)
}

func (m *MockView) SetTheme(theme Theme) {
	m.Called(theme)
}

func (m *MockView) SetSending(sending bool) {
	m.Called(sending)
}

func (m *MockView) Notify(text string) {
	m.Called(text)
}

func (m *MockView) NavigateLogin() {
	m.Called()
}
