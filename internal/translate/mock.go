package translate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockBackend struct {
	fail map[string]struct{}
}

// NewMockBackend returns a backend that tags text with the target code and
// fails for every code in failLanguages.
func NewMockBackend(failLanguages []string) Backend {
	fail := make(map[string]struct{}, len(failLanguages))
	for _, code := range failLanguages {
		fail[strings.ToLower(strings.TrimSpace(code))] = struct{}{}
	}
	return &mockBackend{fail: fail}
}

func (m *mockBackend) Translate(ctx context.Context, text, _ string, target string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	if _, ok := m.fail[target]; ok {
		return "", fmt.Errorf("mock translation to %s failed", target)
	}
	return fmt.Sprintf("[%s] %s", target, strings.TrimSpace(text)), nil
}
