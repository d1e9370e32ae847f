// internal/browser/locator/locator.go
// Two-tier element resolution for externally controlled, unversioned markup.
// Tier one walks an ordered list of structural selector candidates; tier two
// is a scripted full-document scan matching normalized visible text against a
// small vocabulary of expected labels. Resolution outcomes are explicit
// values, never errors: a miss is a normal branch, not an exception.
package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Evaluator is the minimal page surface the locator needs. The live
// implementation is the browser session.
type Evaluator interface {
	ExecuteScript(ctx context.Context, script string) (json.RawMessage, error)
}

// Match is a successful tier-one resolution: the selector that matched a
// live, interactable element.
type Match struct {
	Selector string
}

// pollInterval is the re-check cadence inside a candidate's bounded wait.
const pollInterval = 250 * time.Millisecond

// Locator resolves semantic targets against the live page.
type Locator struct {
	page   Evaluator
	logger *zap.Logger
}

// New returns a Locator over the given page.
func New(page Evaluator, logger *zap.Logger) *Locator {
	return &Locator{page: page, logger: logger}
}

// Resolve tries each candidate selector in priority order, giving each a
// bounded wait, and returns the first that matches an attached element with a
// non-empty bounding box. Later candidates are never probed once an earlier
// one resolves. A miss across the whole list returns ok=false.
func (l *Locator) Resolve(ctx context.Context, candidates []string, perCandidate time.Duration) (Match, bool) {
	for _, sel := range candidates {
		if l.waitInteractable(ctx, sel, perCandidate) {
			l.logger.Debug("Selector resolved.", zap.String("selector", sel))
			return Match{Selector: sel}, true
		}
		if ctx.Err() != nil {
			return Match{}, false
		}
	}
	return Match{}, false
}

// ResolveFirst is Resolve with a single shared budget: each candidate gets
// one immediate probe per sweep and the sweeps repeat until the deadline.
// Used where the page markup rotates between several shapes and waiting
// out a full per-candidate timeout on the wrong one would burn the budget.
func (l *Locator) ResolveFirst(ctx context.Context, candidates []string, total time.Duration) (Match, bool) {
	deadline := time.Now().Add(total)
	for {
		for _, sel := range candidates {
			if ok, _ := l.probe(ctx, sel); ok {
				l.logger.Debug("Selector resolved.", zap.String("selector", sel))
				return Match{Selector: sel}, true
			}
		}
		if time.Now().After(deadline) || !sleepCtx(ctx, pollInterval) {
			return Match{}, false
		}
	}
}

// waitInteractable polls a single selector until it resolves or its bounded
// wait elapses.
func (l *Locator) waitInteractable(ctx context.Context, selector string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.probe(ctx, selector)
		if ok {
			return true
		}
		if err != nil {
			l.logger.Debug("Selector probe errored.", zap.String("selector", selector), zap.Error(err))
		}
		if time.Now().After(deadline) || !sleepCtx(ctx, pollInterval) {
			return false
		}
	}
}

// probe checks attachment plus a basic interactability test (non-empty
// bounding box) in a single script round-trip.
func (l *Locator) probe(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function(sel){
		const el = document.querySelector(sel);
		if (!el) return false;
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})(%s)`, jsString(selector))

	res, err := l.page.ExecuteScript(ctx, script)
	if err != nil {
		return false, err
	}
	return string(res) == "true", nil
}

// ClickByText is the tier-two fallback: a scripted scan over all
// clickable-role elements whose normalized text (trimmed, lowercased,
// whitespace collapsed) contains one of the expected phrases. The first match
// is clicked directly from script rather than through simulated pointer
// events. The scan repeats at a short interval until the timeout.
func (l *Locator) ClickByText(ctx context.Context, phrases []string, timeout time.Duration) bool {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(p)))
	}
	encoded, err := json.Marshal(lowered)
	if err != nil {
		return false
	}

	script := fmt.Sprintf(`(function(texts){
		function norm(t){ return (t || '').trim().toLowerCase().replace(/\s+/g, ' '); }
		const all = Array.from(document.querySelectorAll('button, a, [role="button"]'));
		const found = all.find(el => {
			const label = norm(el.innerText || el.textContent || el.getAttribute('aria-label'));
			return texts.some(t => label.includes(t));
		});
		if (found) {
			found.scrollIntoView({block:'center', inline:'center'});
			found.click();
			return true;
		}
		return false;
	})(%s)`, string(encoded))

	deadline := time.Now().Add(timeout)
	for {
		res, err := l.page.ExecuteScript(ctx, script)
		if err != nil {
			l.logger.Debug("Text-tier scan errored.", zap.Error(err))
		} else if string(res) == "true" {
			return true
		}
		if time.Now().After(deadline) || !sleepCtx(ctx, 300*time.Millisecond) {
			return false
		}
	}
}

// sleepCtx sleeps for d unless the context ends first; it reports whether the
// caller should keep going.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// jsString safely encodes a Go string as a JS string literal.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
