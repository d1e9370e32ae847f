// internal/browser/session/session.go
// Session owns the single live tab used for the whole run. It attaches to an
// already-running browser over its local debugging endpoint rather than
// launching its own process, and exposes the low-level operations the
// humanoid and locator layers are built on: action execution with combined
// contexts, navigation with bounded timeouts, script evaluation, raw input
// dispatch, and storage state import/export.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser/humanoid"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/statestore"
)

// Session implements the low-level executor the humanoid layer runs on.
var _ humanoid.Executor = (*Session)(nil)

// Session represents the one browsing session a run exclusively owns.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         *config.Config
}

// Connect attaches to the browser's debugging endpoint and opens a fresh tab.
// The connection is verified eagerly so a dead endpoint fails the run before
// any pipeline step starts.
func Connect(parentCtx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(parentCtx, cfg.Browser.CDPURL)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          sessionID,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
	}

	// Establish the target now; chromedp defers tab creation to the first run.
	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	defer connectCancel()
	if err := chromedp.Run(connectCtx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("connecting to browser at %s: %w", cfg.Browser.CDPURL, err)
	}

	log.Info("Attached to remote browser.", zap.String("cdp_url", cfg.Browser.CDPURL))
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Close tears down the tab and the allocator connection.
func (s *Session) Close() {
	s.logger.Info("Closing session.")
	s.cancel()
	s.allocCancel()
}

// RunActions executes chromedp actions against the session's tab, honoring
// both the session lifecycle and the operational context.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, runCancel := CombineContext(s.ctx, ctx)
	defer runCancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Surface the causing context error when one of them expired.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
	}
	return err
}

// Navigate loads a URL with the configured navigation timeout and then holds
// for the post-load quiet period.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))

	navTimeout := s.cfg.Browser.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	if err := s.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, navTimeout, navCtx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if wait := s.cfg.Browser.PostLoadWait; wait > 0 {
		if err := s.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// CurrentURL reports the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()
	if err := s.RunActions(opCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading current location: %w", err)
	}
	return loc, nil
}

// Sleep pauses for d, respecting both the operational and session contexts.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.RunActions(ctx, chromedp.Sleep(d))
}

// PressEnter sends a carriage return key event to the focused element.
func (s *Session) PressEnter(ctx context.Context) error {
	return s.SendKeys(ctx, "\r")
}

// SendKeys dispatches keyboard events for the given string via CDP.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	err := s.RunActions(opCtx, chromedp.KeyEvent(keys))
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("SendKeys timed out: %w", opCtx.Err())
	}
	return err
}

// DispatchMouseEvent dispatches a single raw mouse event at viewport
// coordinates. Press/release events always carry the left button.
func (s *Session) DispatchMouseEvent(ctx context.Context, event humanoid.MouseEvent, x, y float64) error {
	p := input.DispatchMouseEvent(input.MouseType(event), x, y)
	if event == humanoid.MousePressed || event == humanoid.MouseReleased {
		p = p.WithButton(input.Left).WithClickCount(1)
	}

	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	err := s.RunActions(opCtx, p)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("DispatchMouseEvent timed out: %w", opCtx.Err())
	}
	return err
}

// ExecuteScript evaluates JavaScript in the page and returns the raw JSON
// result. Promises are awaited and exceptions surface as evaluation errors.
func (s *Session) ExecuteScript(ctx context.Context, script string) (json.RawMessage, error) {
	var res json.RawMessage

	opCtx, opCancel := context.WithTimeout(ctx, 20*time.Second)
	defer opCancel()

	err := s.RunActions(opCtx,
		chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout during script evaluation: %w", opCtx.Err())
		}
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res, nil
}

// ImportSnapshot loads a persisted storage snapshot into the browser. Cookies
// are applied immediately; site-local storage is keyed by origin and restored
// lazily by RestoreLocalStorage once the matching origin is open.
func (s *Session) ImportSnapshot(ctx context.Context, snap *statestore.Snapshot) error {
	if snap == nil || len(snap.Cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(snap.Cookies))
	for _, c := range snap.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}

	opCtx, opCancel := context.WithTimeout(ctx, 15*time.Second)
	defer opCancel()
	if err := s.RunActions(opCtx, storage.SetCookies(params)); err != nil {
		return fmt.Errorf("importing %d cookies: %w", len(params), err)
	}
	s.logger.Info("Imported storage snapshot.", zap.Int("cookies", len(params)))
	return nil
}

// RestoreLocalStorage writes the snapshot's localStorage entries for the
// origin currently open in the tab, if the snapshot has any.
func (s *Session) RestoreLocalStorage(ctx context.Context, snap *statestore.Snapshot) error {
	if snap == nil || len(snap.Origins) == 0 {
		return nil
	}
	currentOrigin, err := s.ExecuteScript(ctx, `window.location.origin`)
	if err != nil {
		return err
	}
	var origin string
	if err := json.Unmarshal(currentOrigin, &origin); err != nil {
		return fmt.Errorf("decoding current origin: %w", err)
	}

	for _, o := range snap.Origins {
		if o.Origin != origin || len(o.LocalStorage) == 0 {
			continue
		}
		items, err := json.Marshal(o.LocalStorage)
		if err != nil {
			return err
		}
		script := fmt.Sprintf(`(function(items){
			for (const [k, v] of Object.entries(items)) {
				try { window.localStorage.setItem(k, v); } catch (e) {}
			}
			return true;
		})(%s)`, string(items))
		if _, err := s.ExecuteScript(ctx, script); err != nil {
			return fmt.Errorf("restoring localStorage for %s: %w", origin, err)
		}
		s.logger.Debug("Restored localStorage.", zap.String("origin", origin), zap.Int("items", len(o.LocalStorage)))
	}
	return nil
}

// ExportSnapshot captures all browser cookies plus the current origin's
// localStorage into a snapshot suitable for the state store.
func (s *Session) ExportSnapshot(ctx context.Context) (*statestore.Snapshot, error) {
	snap := &statestore.Snapshot{}

	opCtx, opCancel := context.WithTimeout(ctx, 15*time.Second)
	defer opCancel()

	err := s.RunActions(opCtx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		cookies, err := storage.GetCookies().Do(actionCtx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			snap.Cookies = append(snap.Cookies, statestore.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("exporting cookies: %w", err)
	}

	// Current-origin localStorage; failure here degrades the snapshot to
	// cookies only rather than failing the export.
	raw, err := s.ExecuteScript(ctx, `(function(){
		const items = {};
		try {
			for (let i = 0; i < window.localStorage.length; i++) {
				const k = window.localStorage.key(i);
				items[k] = window.localStorage.getItem(k);
			}
		} catch (e) { return null; }
		return { origin: window.location.origin, localStorage: items };
	})()`)
	if err == nil && string(raw) != "null" {
		var origin statestore.OriginState
		if err := json.Unmarshal(raw, &origin); err == nil && origin.Origin != "" {
			snap.Origins = append(snap.Origins, origin)
		}
	} else if err != nil {
		s.logger.Debug("localStorage capture skipped.", zap.Error(err))
	}

	return snap, nil
}
