// File: internal/browser/locator/locator_test.go
package locator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage resolves probe scripts against a configurable set of "present"
// selectors and records every script it evaluates.
type fakePage struct {
	mu      sync.Mutex
	present map[string]bool
	scripts []string
	err     error
	// onEval runs under the lock before each evaluation, letting tests
	// mutate the page mid-resolution.
	onEval func(call int)
	calls  int
}

func newFakePage(present ...string) *fakePage {
	p := &fakePage{present: map[string]bool{}}
	for _, sel := range present {
		p.present[sel] = true
	}
	return p
}

func (p *fakePage) ExecuteScript(ctx context.Context, script string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.onEval != nil {
		p.onEval(p.calls)
	}
	p.scripts = append(p.scripts, script)
	if p.err != nil {
		return nil, p.err
	}
	for sel := range p.present {
		if strings.Contains(script, jsString(sel)) {
			return json.RawMessage("true"), nil
		}
	}
	return json.RawMessage("false"), nil
}

func (p *fakePage) probedSelectors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

func TestResolvePriorityOrder(t *testing.T) {
	page := newFakePage("input[name='email']")
	l := New(page, zap.NewNop())

	candidates := []string{"input[type='email']", "input[autocomplete='email']", "input[name='email']"}
	match, ok := l.Resolve(context.Background(), candidates, 20*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "input[name='email']", match.Selector)
}

func TestResolveShortCircuitsOnFirstHit(t *testing.T) {
	page := newFakePage("input[type='email']")
	l := New(page, zap.NewNop())

	candidates := []string{"input[type='email']", "input[name='email']"}
	match, ok := l.Resolve(context.Background(), candidates, 20*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "input[type='email']", match.Selector)

	// The second candidate must never have been probed.
	for _, script := range page.probedSelectors() {
		assert.NotContains(t, script, jsString("input[name='email']"))
	}
}

func TestResolveMissReturnsFalse(t *testing.T) {
	page := newFakePage()
	l := New(page, zap.NewNop())

	start := time.Now()
	_, ok := l.Resolve(context.Background(), []string{"#a", "#b"}, 30*time.Millisecond)
	assert.False(t, ok)
	// Two bounded per-candidate waits, not one shared one.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestResolveSurvivesProbeErrors(t *testing.T) {
	page := newFakePage("#late")
	page.err = errors.New("execution context destroyed")
	page.onEval = func(call int) {
		// The page "settles" after the first failing evaluation.
		if call >= 2 {
			page.err = nil
		}
	}
	l := New(page, zap.NewNop())

	match, ok := l.Resolve(context.Background(), []string{"#late"}, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "#late", match.Selector)
}

func TestResolveFirstSweepsAllCandidates(t *testing.T) {
	page := newFakePage()
	page.onEval = func(call int) {
		// The element appears only after the first full sweep of three
		// candidates, so a per-candidate strategy would have committed to
		// waiting on the wrong one.
		if call == 4 {
			page.present["#b"] = true
		}
	}
	l := New(page, zap.NewNop())

	match, ok := l.ResolveFirst(context.Background(), []string{"#a", "#b", "#c"}, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "#b", match.Selector)
}

func TestResolveCancelledContext(t *testing.T) {
	page := newFakePage()
	l := New(page, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := l.Resolve(ctx, []string{"#a"}, time.Second)
	assert.False(t, ok)
}

func TestClickByText(t *testing.T) {
	t.Run("Clicks On Label Hit", func(t *testing.T) {
		page := newFakePage()
		page.onEval = func(int) {}
		// The scan script carries the lowered phrase vocabulary; make the
		// fake answer true for it.
		page.present[`claim invitation`] = true
		l := New(page, zap.NewNop())

		ok := l.ClickByText(context.Background(), []string{"  Claim Invitation  ", "claim"}, time.Second)
		assert.True(t, ok)

		// Phrases are normalized before injection.
		require.NotEmpty(t, page.probedSelectors())
		assert.Contains(t, page.probedSelectors()[0], `"claim invitation"`)
		assert.NotContains(t, page.probedSelectors()[0], "Claim Invitation")
	})

	t.Run("Times Out Without A Hit", func(t *testing.T) {
		page := newFakePage()
		l := New(page, zap.NewNop())

		start := time.Now()
		ok := l.ClickByText(context.Background(), []string{"claim"}, 50*time.Millisecond)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		// The scan repeats rather than giving up after one pass.
		assert.Greater(t, len(page.probedSelectors()), 1)
	})
}
