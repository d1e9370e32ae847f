// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context was not cancelled in time")
	}
}

func TestCombineContextCancelPrimary(t *testing.T) {
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2 := context.Background()

	combined, cancel := CombineContext(ctx1, ctx2)
	defer cancel()

	cancel1()
	waitDone(t, combined)
	assert.ErrorIs(t, combined.Err(), context.Canceled)
}

func TestCombineContextCancelSecondary(t *testing.T) {
	ctx1 := context.Background()
	ctx2, cancel2 := context.WithCancel(context.Background())

	combined, cancel := CombineContext(ctx1, ctx2)
	defer cancel()

	cancel2()
	waitDone(t, combined)
}

func TestCombineContextSecondaryDeadline(t *testing.T) {
	ctx1 := context.Background()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()

	combined, cancel := CombineContext(ctx1, ctx2)
	defer cancel()

	waitDone(t, combined)
}

func TestCombineContextInheritsValues(t *testing.T) {
	type key struct{}
	ctx1 := context.WithValue(context.Background(), key{}, "primary")
	ctx2 := context.WithValue(context.Background(), key{}, "secondary")

	combined, cancel := CombineContext(ctx1, ctx2)
	defer cancel()

	// Values come from the primary context only.
	require.Equal(t, "primary", combined.Value(key{}))
}

func TestCombineContextExplicitCancelReleasesGoroutine(t *testing.T) {
	combined, cancel := CombineContext(context.Background(), context.Background())
	cancel()
	waitDone(t, combined)
}
