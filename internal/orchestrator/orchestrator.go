// File: internal/orchestrator/orchestrator.go
// The step pipeline. Steps run strictly in order with a randomized pause
// between them; each is classified critical or best-effort. A critical
// failure aborts the remainder of the run, a best-effort failure is logged
// and the pipeline moves on. Steps report outcomes as booleans at their
// boundary; panics never cross a step.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser/locator"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/statestore"
)

// Page is the navigation and storage surface of the browser session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Sleep(ctx context.Context, d time.Duration) error
	PressEnter(ctx context.Context) error
	ImportSnapshot(ctx context.Context, snap *statestore.Snapshot) error
	RestoreLocalStorage(ctx context.Context, snap *statestore.Snapshot) error
	ExportSnapshot(ctx context.Context) (*statestore.Snapshot, error)
}

// Interactor provides the human-paced input primitives.
type Interactor interface {
	Click(ctx context.Context, selector string) bool
	Type(ctx context.Context, selector, text string) bool
	Pause(ctx context.Context, min, max time.Duration)
}

// Finder resolves semantic targets on the live page.
type Finder interface {
	Resolve(ctx context.Context, candidates []string, perCandidate time.Duration) (locator.Match, bool)
	ResolveFirst(ctx context.Context, candidates []string, total time.Duration) (locator.Match, bool)
	ClickByText(ctx context.Context, phrases []string, timeout time.Duration) bool
}

// CodeSource produces the out-of-band verification code.
type CodeSource interface {
	Fetch(ctx context.Context) (string, error)
}

// IdentityQueue is the consumable identity pool.
type IdentityQueue interface {
	Peek() (string, bool)
	Remove(entry string) error
	Len() int
}

// Targets yields the claim-target URL for a run.
type Targets interface {
	Pick() string
}

// StateStore persists the browser storage snapshot between runs.
type StateStore interface {
	Load() (*statestore.Snapshot, bool, error)
	Save(snap *statestore.Snapshot) error
}

// ScriptRunner executes the optional post-pipeline external script.
type ScriptRunner interface {
	Run(ctx context.Context, path string) bool
}

// Deps carries the injected collaborators. Every field is required except
// Script, which may be nil when no post-run script is configured.
type Deps struct {
	Page    Page
	Human   Interactor
	Finder  Finder
	Codes   CodeSource
	Queue   IdentityQueue
	Targets Targets
	Store   StateStore
	Script  ScriptRunner
}

// Orchestrator drives one end-to-end claim run.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   Deps

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Orchestrator.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes the pipeline once. The returned error is non-nil only when a
// critical step failed; best-effort tail failures leave it nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	snap := o.restoreState(ctx)

	if !o.step(ctx, "open_target", func() bool { return o.openTarget(ctx, snap) }) {
		return fmt.Errorf("opening claim target failed")
	}
	o.stepDelay(ctx)

	// Claim button may be absent when the target deep-links straight into the
	// email form, so a miss here is not a failure.
	o.step(ctx, "click_claim", func() bool { return o.clickClaim(ctx) })
	o.stepDelay(ctx)

	identity, ok := o.deps.Queue.Peek()
	if !ok {
		return fmt.Errorf("identity queue is empty")
	}
	if !o.step(ctx, "submit_email", func() bool { return o.submitEmail(ctx, identity) }) {
		return fmt.Errorf("submitting identity failed")
	}
	o.consumeIdentity(identity)
	o.stepDelay(ctx)

	code, err := o.deps.Codes.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("retrieving verification code: %w", err)
	}
	if !o.step(ctx, "submit_code", func() bool { return o.submitCode(ctx, code) }) {
		return fmt.Errorf("submitting verification code failed")
	}
	o.stepDelay(ctx)

	o.step(ctx, "persist_state", func() bool { return o.persistState(ctx) })
	o.stepDelay(ctx)

	o.step(ctx, "final_action", func() bool { return o.finalAction(ctx) })
	o.stepDelay(ctx)

	o.step(ctx, "search_home", func() bool { return o.searchHome(ctx) })
	o.stepDelay(ctx)

	if o.cfg.Pipeline.RunPostScript && o.deps.Script != nil {
		o.step(ctx, "post_script", func() bool {
			return o.deps.Script.Run(ctx, o.cfg.Pipeline.PostScript)
		})
	}

	if o.cfg.Pipeline.RunRelogin {
		o.stepDelay(ctx)
		o.step(ctx, "logout_relogin", func() bool { return o.logoutRelogin(ctx) })
	}

	o.logger.Info("Run completed.")
	return nil
}

// step runs fn behind a panic boundary and logs the outcome.
func (o *Orchestrator) step(ctx context.Context, name string, fn func() bool) (ok bool) {
	if ctx.Err() != nil {
		o.logger.Warn("Step skipped, context ended.", zap.String("step", name))
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Step panicked.", zap.String("step", name), zap.Any("panic", r))
			ok = false
		}
	}()

	o.logger.Info("Step starting.", zap.String("step", name))
	ok = fn()
	if ok {
		o.logger.Info("Step succeeded.", zap.String("step", name))
	} else {
		o.logger.Warn("Step failed.", zap.String("step", name))
	}
	return ok
}

// restoreState loads the persisted snapshot and imports its cookies before
// any navigation. Local storage is origin-scoped and restored after the
// target page is open. A missing or unreadable snapshot degrades to a cold
// start.
func (o *Orchestrator) restoreState(ctx context.Context) *statestore.Snapshot {
	snap, found, err := o.deps.Store.Load()
	if err != nil {
		o.logger.Warn("State snapshot unreadable; starting cold.", zap.Error(err))
		return nil
	}
	if !found {
		o.logger.Info("No state snapshot; starting cold.")
		return nil
	}
	if err := o.deps.Page.ImportSnapshot(ctx, snap); err != nil {
		o.logger.Warn("State snapshot import failed; starting cold.", zap.Error(err))
		return nil
	}
	o.logger.Info("State snapshot restored.", zap.Int("cookies", len(snap.Cookies)))
	return snap
}

// openTarget picks a claim target and navigates to it, then replays any
// origin-local storage captured for it.
func (o *Orchestrator) openTarget(ctx context.Context, snap *statestore.Snapshot) bool {
	target := o.deps.Targets.Pick()
	if err := o.deps.Page.Navigate(ctx, target); err != nil {
		o.logger.Error("Navigation to claim target failed.", zap.String("url", target), zap.Error(err))
		return false
	}
	if snap != nil {
		if err := o.deps.Page.RestoreLocalStorage(ctx, snap); err != nil {
			o.logger.Debug("localStorage restore skipped.", zap.Error(err))
		}
	}
	return true
}

// clickClaim looks for the claim affordance, first by structural selector,
// then by its visible label vocabulary, and clicks the first hit.
func (o *Orchestrator) clickClaim(ctx context.Context) bool {
	if match, ok := o.deps.Finder.ResolveFirst(ctx, o.cfg.Pipeline.ClaimSelectors, 5*time.Second); ok {
		if o.deps.Human.Click(ctx, match.Selector) {
			o.deps.Human.Pause(ctx, time.Second, 2*time.Second)
			return true
		}
		o.logger.Debug("Claim control resolved but click failed; trying label scan.", zap.String("selector", match.Selector))
	}
	if !o.deps.Finder.ClickByText(ctx, o.cfg.Pipeline.ClaimTexts, o.cfg.Pipeline.ClaimWaitTimeout) {
		return false
	}
	// Give the post-click transition room to settle.
	o.deps.Human.Pause(ctx, time.Second, 2*time.Second)
	return true
}

// submitEmail types the identity into the email field and submits the form.
// The field must resolve; submission prefers a resolved submit control and
// falls back to the keyboard.
func (o *Orchestrator) submitEmail(ctx context.Context, identity string) bool {
	match, ok := o.deps.Finder.Resolve(ctx, o.cfg.Pipeline.EmailSelectors, o.cfg.Pipeline.FieldWaitTimeout)
	if !ok {
		o.logger.Error("Email field did not resolve.")
		return false
	}
	if !o.deps.Human.Type(ctx, match.Selector, identity) {
		o.logger.Error("Typing identity failed.", zap.String("selector", match.Selector))
		return false
	}
	o.deps.Human.Pause(ctx, 500*time.Millisecond, 1500*time.Millisecond)

	if submit, ok := o.deps.Finder.ResolveFirst(ctx, o.cfg.Pipeline.SubmitSelectors, 5*time.Second); ok {
		if o.deps.Human.Click(ctx, submit.Selector) {
			return true
		}
		o.logger.Debug("Submit click failed; falling back to keyboard.", zap.String("selector", submit.Selector))
	}
	if err := o.deps.Page.PressEnter(ctx); err != nil {
		o.logger.Error("Keyboard submit failed.", zap.Error(err))
		return false
	}
	return true
}

// consumeIdentity removes the identity from the queue. Called only after the
// submission step reported success; a failed or aborted run leaves the queue
// untouched so the identity can be retried.
func (o *Orchestrator) consumeIdentity(identity string) {
	if err := o.deps.Queue.Remove(identity); err != nil {
		o.logger.Error("Failed to consume identity from queue.", zap.String("identity", identity), zap.Error(err))
		return
	}
	o.logger.Info("Identity consumed.", zap.String("identity", identity), zap.Int("remaining", o.deps.Queue.Len()))
}

// submitCode enters the verification code. When no dedicated code field
// resolves, it types blind into the page's generic input and submits with
// Enter, which covers auto-focused single-field verification forms.
func (o *Orchestrator) submitCode(ctx context.Context, code string) bool {
	if match, ok := o.deps.Finder.Resolve(ctx, o.cfg.Pipeline.OTPSelectors, o.cfg.Pipeline.FieldWaitTimeout); ok {
		if o.deps.Human.Type(ctx, match.Selector, code) {
			o.deps.Human.Pause(ctx, 300*time.Millisecond, 900*time.Millisecond)
			if err := o.deps.Page.PressEnter(ctx); err != nil {
				o.logger.Debug("Enter after code entry failed.", zap.Error(err))
			}
			return true
		}
		o.logger.Warn("Typing into resolved code field failed; trying blind entry.", zap.String("selector", match.Selector))
	} else {
		o.logger.Warn("Code field did not resolve; trying blind entry.")
	}

	if !o.deps.Human.Type(ctx, "input", code) {
		o.logger.Error("Blind code entry failed.")
		return false
	}
	if err := o.deps.Page.PressEnter(ctx); err != nil {
		o.logger.Error("Keyboard submit of code failed.", zap.Error(err))
		return false
	}
	return true
}

// persistState captures the browser storage and overwrites the snapshot.
// This is the post-verification checkpoint: the next run resumes the
// authenticated session instead of repeating the claim flow.
func (o *Orchestrator) persistState(ctx context.Context) bool {
	snap, err := o.deps.Page.ExportSnapshot(ctx)
	if err != nil {
		o.logger.Warn("Storage export failed; checkpoint skipped.", zap.Error(err))
		return false
	}
	if err := o.deps.Store.Save(snap); err != nil {
		o.logger.Warn("Checkpoint write failed.", zap.Error(err))
		return false
	}
	o.logger.Info("Session state checkpointed.", zap.Int("cookies", len(snap.Cookies)))
	return true
}

// finalAction navigates to the configured final page and submits the fixed
// final text through whatever search-like input resolves there.
func (o *Orchestrator) finalAction(ctx context.Context) bool {
	if o.cfg.Pipeline.FinalURL == "" || o.cfg.Pipeline.FinalText == "" {
		return true
	}
	if err := o.deps.Page.Navigate(ctx, o.cfg.Pipeline.FinalURL); err != nil {
		o.logger.Warn("Final page navigation failed.", zap.Error(err))
		return false
	}
	return o.submitSearch(ctx, o.cfg.Pipeline.FinalText)
}

// searchHome navigates home and runs a handful of randomized warm-up
// searches with a gap between them.
func (o *Orchestrator) searchHome(ctx context.Context) bool {
	if o.cfg.Pipeline.HomeURL == "" || o.cfg.Pipeline.SearchCount <= 0 || len(o.cfg.Pipeline.SearchTexts) == 0 {
		return true
	}
	if err := o.deps.Page.Navigate(ctx, o.cfg.Pipeline.HomeURL); err != nil {
		o.logger.Warn("Home navigation failed.", zap.Error(err))
		return false
	}

	allOK := true
	for i := 0; i < o.cfg.Pipeline.SearchCount; i++ {
		o.mu.Lock()
		text := o.cfg.Pipeline.SearchTexts[o.rng.Intn(len(o.cfg.Pipeline.SearchTexts))]
		o.mu.Unlock()

		if !o.submitSearch(ctx, text) {
			allOK = false
		}
		if i < o.cfg.Pipeline.SearchCount-1 {
			o.deps.Human.Pause(ctx, o.cfg.Pipeline.SearchGap, o.cfg.Pipeline.SearchGap+2*time.Second)
			// Each search starts from a fresh home page.
			if err := o.deps.Page.Navigate(ctx, o.cfg.Pipeline.HomeURL); err != nil {
				o.logger.Warn("Return to home failed.", zap.Error(err))
				return allOK
			}
		}
	}
	return allOK
}

// submitSearch types text into the first resolvable search input and submits
// with Enter.
func (o *Orchestrator) submitSearch(ctx context.Context, text string) bool {
	match, ok := o.deps.Finder.ResolveFirst(ctx, o.cfg.Pipeline.SearchSelectors, 10*time.Second)
	if !ok {
		o.logger.Warn("No search input resolved.")
		return false
	}
	if !o.deps.Human.Type(ctx, match.Selector, text) {
		o.logger.Warn("Typing search text failed.", zap.String("selector", match.Selector))
		return false
	}
	o.deps.Human.Pause(ctx, 300*time.Millisecond, 900*time.Millisecond)
	if err := o.deps.Page.PressEnter(ctx); err != nil {
		o.logger.Warn("Search submit failed.", zap.Error(err))
		return false
	}
	return true
}

// logoutRelogin exercises the credentialed path: open the account menu, click
// a logout affordance by label, then sign back in with the static credentials.
func (o *Orchestrator) logoutRelogin(ctx context.Context) bool {
	login := o.cfg.Login
	if login.Username == "" || login.Password == "" {
		o.logger.Info("No login credentials configured; skipping re-login.")
		return true
	}

	// Logout is label-driven because the menu markup varies per deployment.
	if menu, ok := o.deps.Finder.ResolveFirst(ctx, login.MenuSelectors, 10*time.Second); ok {
		o.deps.Human.Click(ctx, menu.Selector)
		o.deps.Human.Pause(ctx, 500*time.Millisecond, 1200*time.Millisecond)
	}
	if !o.deps.Finder.ClickByText(ctx, login.LogoutTriggers, 10*time.Second) {
		o.logger.Warn("No logout control found; proceeding to login page anyway.")
	}
	o.deps.Human.Pause(ctx, time.Second, 3*time.Second)

	if len(login.LoginURLs) == 0 {
		o.logger.Warn("No login URLs configured.")
		return false
	}
	var landed bool
	for _, u := range login.LoginURLs {
		if err := o.deps.Page.Navigate(ctx, u); err != nil {
			o.logger.Debug("Login page navigation failed.", zap.String("url", u), zap.Error(err))
			continue
		}
		landed = true
		break
	}
	if !landed {
		return false
	}

	user, ok := o.deps.Finder.Resolve(ctx, login.UsernameSelectors, o.cfg.Pipeline.FieldWaitTimeout)
	if !ok {
		o.logger.Warn("Username field did not resolve.")
		return false
	}
	if !o.deps.Human.Type(ctx, user.Selector, login.Username) {
		return false
	}

	pass, ok := o.deps.Finder.Resolve(ctx, login.PasswordSelectors, o.cfg.Pipeline.FieldWaitTimeout)
	if !ok {
		// Some flows reveal the password field only after the username step.
		if err := o.deps.Page.PressEnter(ctx); err != nil {
			return false
		}
		o.deps.Human.Pause(ctx, time.Second, 2*time.Second)
		pass, ok = o.deps.Finder.Resolve(ctx, login.PasswordSelectors, o.cfg.Pipeline.FieldWaitTimeout)
		if !ok {
			o.logger.Warn("Password field did not resolve.")
			return false
		}
	}
	if !o.deps.Human.Type(ctx, pass.Selector, login.Password) {
		return false
	}

	if submit, ok := o.deps.Finder.ResolveFirst(ctx, login.SubmitSelectors, 5*time.Second); ok {
		if o.deps.Human.Click(ctx, submit.Selector) {
			return true
		}
	}
	return o.deps.Page.PressEnter(ctx) == nil
}

// stepDelay pauses between pipeline steps for a random duration in the
// configured range.
func (o *Orchestrator) stepDelay(ctx context.Context) {
	o.deps.Human.Pause(ctx, o.cfg.Pipeline.StepDelayMin, o.cfg.Pipeline.StepDelayMax)
}
