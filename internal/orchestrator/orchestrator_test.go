// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser/locator"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/statestore"
)

// -- Fakes --

type fakePage struct {
	navigations []string
	navErr      error
	imported    *statestore.Snapshot
	importErr   error
	exported    *statestore.Snapshot
	exportErr   error
	enterCount  int
	enterErr    error
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.navigations = append(p.navigations, url)
	return p.navErr
}
func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}
func (p *fakePage) PressEnter(ctx context.Context) error {
	p.enterCount++
	return p.enterErr
}
func (p *fakePage) ImportSnapshot(ctx context.Context, snap *statestore.Snapshot) error {
	p.imported = snap
	return p.importErr
}
func (p *fakePage) RestoreLocalStorage(ctx context.Context, snap *statestore.Snapshot) error {
	return nil
}
func (p *fakePage) ExportSnapshot(ctx context.Context) (*statestore.Snapshot, error) {
	if p.exportErr != nil {
		return nil, p.exportErr
	}
	if p.exported == nil {
		p.exported = &statestore.Snapshot{Cookies: []statestore.Cookie{{Name: "sid"}}}
	}
	return p.exported, nil
}

type fakeHuman struct {
	clickFail map[string]bool
	typeFail  map[string]bool
	clicked   []string
	typed     map[string]string
}

func newFakeHuman() *fakeHuman {
	return &fakeHuman{clickFail: map[string]bool{}, typeFail: map[string]bool{}, typed: map[string]string{}}
}
func (h *fakeHuman) Click(ctx context.Context, selector string) bool {
	h.clicked = append(h.clicked, selector)
	return !h.clickFail[selector]
}
func (h *fakeHuman) Type(ctx context.Context, selector, text string) bool {
	if h.typeFail[selector] {
		return false
	}
	h.typed[selector] = text
	return true
}
func (h *fakeHuman) Pause(ctx context.Context, min, max time.Duration) {}

// fakeFinder resolves against a fixed set of present selectors.
type fakeFinder struct {
	present    map[string]bool
	textClicks map[string]bool
	textCalls  [][]string
}

func newFakeFinder(present ...string) *fakeFinder {
	f := &fakeFinder{present: map[string]bool{}, textClicks: map[string]bool{}}
	for _, sel := range present {
		f.present[sel] = true
	}
	return f
}
func (f *fakeFinder) Resolve(ctx context.Context, candidates []string, per time.Duration) (locator.Match, bool) {
	for _, sel := range candidates {
		if f.present[sel] {
			return locator.Match{Selector: sel}, true
		}
	}
	return locator.Match{}, false
}
func (f *fakeFinder) ResolveFirst(ctx context.Context, candidates []string, total time.Duration) (locator.Match, bool) {
	return f.Resolve(ctx, candidates, total)
}
func (f *fakeFinder) ClickByText(ctx context.Context, phrases []string, timeout time.Duration) bool {
	f.textCalls = append(f.textCalls, phrases)
	for _, p := range phrases {
		if f.textClicks[p] {
			return true
		}
	}
	return false
}

type fakeCodes struct {
	code string
	err  error
}

func (c *fakeCodes) Fetch(ctx context.Context) (string, error) { return c.code, c.err }

type fakeQueue struct {
	entries []string
	removed []string
}

func (q *fakeQueue) Peek() (string, bool) {
	if len(q.entries) == 0 {
		return "", false
	}
	return q.entries[0], true
}
func (q *fakeQueue) Remove(entry string) error {
	q.removed = append(q.removed, entry)
	for i, e := range q.entries {
		if e == entry {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return nil
}
func (q *fakeQueue) Len() int { return len(q.entries) }

type fakeTargets struct{ url string }

func (t *fakeTargets) Pick() string { return t.url }

type fakeStore struct {
	snap    *statestore.Snapshot
	loadErr error
	saved   *statestore.Snapshot
	saveErr error
}

func (s *fakeStore) Load() (*statestore.Snapshot, bool, error) {
	if s.loadErr != nil {
		return nil, false, s.loadErr
	}
	return s.snap, s.snap != nil, nil
}
func (s *fakeStore) Save(snap *statestore.Snapshot) error {
	s.saved = snap
	return s.saveErr
}

type fakeScript struct {
	ran     []string
	result  bool
	panicFn bool
}

func (s *fakeScript) Run(ctx context.Context, path string) bool {
	if s.panicFn {
		panic("script runner exploded")
	}
	s.ran = append(s.ran, path)
	return s.result
}

// -- Harness --

type harness struct {
	cfg    *config.Config
	page   *fakePage
	human  *fakeHuman
	finder *fakeFinder
	codes  *fakeCodes
	queue  *fakeQueue
	store  *fakeStore
	script *fakeScript
	orch   *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Pipeline.StepDelayMin = 0
	cfg.Pipeline.StepDelayMax = time.Millisecond
	cfg.Pipeline.FieldWaitTimeout = 10 * time.Millisecond
	cfg.Pipeline.ClaimWaitTimeout = 10 * time.Millisecond
	cfg.Pipeline.SearchCount = 1
	cfg.Pipeline.SearchGap = 0
	cfg.Pipeline.RunRelogin = false

	h := &harness{
		cfg:    cfg,
		page:   &fakePage{},
		human:  newFakeHuman(),
		finder: newFakeFinder("input[type='email']", "input[name='otp']", "button[type='submit']", "input[type='search']"),
		codes:  &fakeCodes{code: "482913"},
		queue:  &fakeQueue{entries: []string{"first@example.com", "second@example.com"}},
		store:  &fakeStore{},
		script: &fakeScript{result: true},
	}
	h.finder.textClicks["claim invitation"] = true

	h.orch = New(cfg, zap.NewNop(), Deps{
		Page:    h.page,
		Human:   h.human,
		Finder:  h.finder,
		Codes:   h.codes,
		Queue:   h.queue,
		Targets: &fakeTargets{url: "https://claim.example/invite"},
		Store:   h.store,
		Script:  h.script,
	})
	return h
}

// -- Tests --

func TestRunHappyPath(t *testing.T) {
	h := newHarness(t)

	err := h.orch.Run(context.Background())
	require.NoError(t, err)

	// Target opened, identity typed and consumed, code typed, state saved.
	require.NotEmpty(t, h.page.navigations)
	assert.Equal(t, "https://claim.example/invite", h.page.navigations[0])
	assert.Equal(t, "first@example.com", h.human.typed["input[type='email']"])
	assert.Equal(t, []string{"first@example.com"}, h.queue.removed)
	assert.Equal(t, "482913", h.human.typed["input[name='otp']"])
	require.NotNil(t, h.store.saved)
	assert.Equal(t, []string{h.cfg.Pipeline.PostScript}, h.script.ran)
}

func TestRunFailsWhenTargetUnreachable(t *testing.T) {
	h := newHarness(t)
	h.page.navErr = errors.New("connection refused")

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening claim target")
	assert.Empty(t, h.queue.removed, "identity must not be consumed on an aborted run")
}

func TestRunFailsOnEmptyQueue(t *testing.T) {
	h := newHarness(t)
	h.queue.entries = nil

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity queue is empty")
}

func TestEmailFieldMissAbortsWithoutConsumption(t *testing.T) {
	h := newHarness(t)
	delete(h.finder.present, "input[type='email']")

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitting identity failed")
	assert.Empty(t, h.queue.removed)
	assert.Empty(t, h.human.typed)
}

func TestIdentityConsumedExactlyOnceBeforeCodeFetch(t *testing.T) {
	h := newHarness(t)
	h.codes.err = errors.New("mailbox unreachable")

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieving verification code")

	// Submission already succeeded, so the identity is gone even though the
	// run failed later. That is the at-most-once contract.
	assert.Equal(t, []string{"first@example.com"}, h.queue.removed)
}

func TestSubmitFallsBackToKeyboard(t *testing.T) {
	h := newHarness(t)
	delete(h.finder.present, "button[type='submit']")

	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, h.page.enterCount, 0)
	assert.Equal(t, []string{"first@example.com"}, h.queue.removed)
}

func TestCodeFieldMissUsesBlindEntry(t *testing.T) {
	h := newHarness(t)
	delete(h.finder.present, "input[name='otp']")
	delete(h.finder.present, "input[type='tel']")
	h.finder.present["input"] = true
	// Skip the search tail so the blind-typed value stays observable.
	h.cfg.Pipeline.FinalURL = ""
	h.cfg.Pipeline.HomeURL = ""

	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "482913", h.human.typed["input"])
}

func TestClaimPrefersStructuralSelector(t *testing.T) {
	h := newHarness(t)
	h.finder.present["button[data-testid*='claim']"] = true

	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, h.human.clicked, "button[data-testid*='claim']")
	assert.Empty(t, h.finder.textCalls, "the label scan must not run once a structural selector resolves")
}

func TestClaimFallsBackToLabelScan(t *testing.T) {
	h := newHarness(t)
	// No structural claim selector resolves; the label tier carries it.
	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, h.finder.textCalls)
	assert.Contains(t, h.finder.textCalls[0], "claim invitation")
}

func TestBestEffortTailFailuresDoNotFailRun(t *testing.T) {
	h := newHarness(t)
	// No claim button, no search box anywhere, failing script.
	h.finder.textClicks = map[string]bool{}
	delete(h.finder.present, "input[type='search']")
	h.script.result = false

	err := h.orch.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"first@example.com"}, h.queue.removed)
}

func TestStepPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.script.panicFn = true

	assert.NotPanics(t, func() {
		err := h.orch.Run(context.Background())
		assert.NoError(t, err)
	})
}

func TestSnapshotRestoredBeforeNavigation(t *testing.T) {
	h := newHarness(t)
	h.store.snap = &statestore.Snapshot{Cookies: []statestore.Cookie{{Name: "sid", Value: "abc"}}}

	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h.page.imported)
	assert.Equal(t, "sid", h.page.imported.Cookies[0].Name)
}

func TestUnreadableSnapshotDegradesToColdStart(t *testing.T) {
	h := newHarness(t)
	h.store.loadErr = errors.New("corrupt state file")

	err := h.orch.Run(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, h.page.imported)
}

func TestCheckpointFailureIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errors.New("disk full")

	err := h.orch.Run(context.Background())
	assert.NoError(t, err)
}

func TestReloginRunsWhenConfigured(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.RunRelogin = true
	h.cfg.Login.Username = "operator"
	h.cfg.Login.Password = "hunter2"
	h.finder.present["input[name='username']"] = true
	h.finder.present["input[type='password']"] = true
	h.finder.textClicks["sign out"] = true

	err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "operator", h.human.typed["input[name='username']"])
	assert.Equal(t, "hunter2", h.human.typed["input[type='password']"])
	assert.Contains(t, h.page.navigations, h.cfg.Login.LoginURLs[0])
}
