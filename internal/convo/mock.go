package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// MockModel is an offline model provider for local development and tests.
// It echoes a canned reply and can be told to fail.
type MockModel struct {
	Reply string
	Fail  bool

	calls atomic.Int64
}

func NewMockModel(reply string) *MockModel {
	return &MockModel{Reply: reply}
}

func (m *MockModel) Complete(_ context.Context, p Prompt) (string, error) {
	m.calls.Add(1)
	if m.Fail {
		return "", errors.New("mock model failure")
	}
	if strings.TrimSpace(m.Reply) != "" {
		return m.Reply, nil
	}
	return fmt.Sprintf("You said: %s", p.Input.Text), nil
}

// Calls reports how many completions were requested.
func (m *MockModel) Calls() int64 { return m.calls.Load() }
