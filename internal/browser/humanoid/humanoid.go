// internal/browser/humanoid/humanoid.go
// Human-like pointer and keyboard primitives. Both primitives are
// best-effort: they report success as a boolean and never let an internal
// error escape their boundary. They verify only that an interaction attempt
// completed, not the application-level effect of the action. When the
// simulated path fails, each falls back to a direct programmatic equivalent
// (scripted click, scripted value set with synthetic events) before giving up.
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
)

// Humanoid drives the executor with randomized, human-paced input.
type Humanoid struct {
	// mu guards the rng and the tracked pointer position.
	mu         sync.Mutex
	cfg        config.HumanoidConfig
	logger     *zap.Logger
	executor   Executor
	rng        *rand.Rand
	currentPos struct{ x, y float64 }
}

// New creates a Humanoid over the given executor.
func New(cfg config.HumanoidConfig, logger *zap.Logger, executor Executor) *Humanoid {
	return &Humanoid{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewTestHumanoid creates a Humanoid with a deterministic seed for tests.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	h := New(config.HumanoidConfig{
		MoveStepsMin:  3,
		MoveStepsMax:  6,
		JitterX:       4,
		JitterY:       3,
		ClickPauseMin: time.Millisecond,
		ClickPauseMax: 2 * time.Millisecond,
		KeyDelayMin:   time.Millisecond,
		KeyDelayMax:   2 * time.Millisecond,
	}, zap.NewNop(), executor)
	h.rng = rand.New(rand.NewSource(seed))
	return h
}

// Click resolves the selector's geometry, walks the pointer to a jittered
// point inside the box through a randomized number of intermediate steps,
// pauses briefly, and clicks. Any failure along the way degrades to a direct
// scripted click on the element.
func (h *Humanoid) Click(ctx context.Context, selector string) bool {
	geom, err := h.executor.ElementGeometry(ctx, selector)
	if err != nil {
		h.logger.Debug("Geometry lookup failed; using scripted click.", zap.String("selector", selector), zap.Error(err))
		return h.scriptClick(ctx, selector)
	}

	x, y := h.jitteredPoint(geom)
	if err := h.pointerClick(ctx, x, y); err != nil {
		h.logger.Debug("Pointer click failed; using scripted click.", zap.String("selector", selector), zap.Error(err))
		return h.scriptClick(ctx, selector)
	}
	return true
}

// ClickPoint clicks at a fixed viewport coordinate with a small jitter.
// There is no element to fall back to, so a pointer failure is final.
func (h *Humanoid) ClickPoint(ctx context.Context, x, y float64) bool {
	h.mu.Lock()
	jx := x + (h.rng.Float64()*2-1)*h.cfg.JitterX
	jy := y + (h.rng.Float64()*2-1)*h.cfg.JitterY
	h.mu.Unlock()

	if err := h.pointerClick(ctx, jx, jy); err != nil {
		h.logger.Debug("Pointer click at coordinate failed.", zap.Float64("x", x), zap.Float64("y", y), zap.Error(err))
		return false
	}
	return true
}

// Type clicks the field to focus it, then emits one key event per character
// with a per-character randomized delay so there is no fixed typing cadence.
// If the simulated path fails at any point, it falls back to setting the
// field value directly and dispatching synthetic input/change events so
// framework-bound UIs observe the change.
func (h *Humanoid) Type(ctx context.Context, selector string, text string) bool {
	if !h.Click(ctx, selector) {
		return h.setValue(ctx, selector, text)
	}
	if err := h.pause(ctx, h.cfg.ClickPauseMin, h.cfg.ClickPauseMax); err != nil {
		return h.setValue(ctx, selector, text)
	}

	for _, ch := range text {
		if err := h.executor.SendKeys(ctx, string(ch)); err != nil {
			h.logger.Debug("Keystroke failed; falling back to scripted value set.", zap.String("selector", selector), zap.Error(err))
			return h.setValue(ctx, selector, text)
		}
		if err := h.pause(ctx, h.cfg.KeyDelayMin, h.cfg.KeyDelayMax); err != nil {
			return false
		}
	}
	return true
}

// Pause sleeps for a random duration in [min, max]. Used by callers for
// inter-action pacing; it is never a synchronization mechanism.
func (h *Humanoid) Pause(ctx context.Context, min, max time.Duration) {
	_ = h.pause(ctx, min, max)
}

// pointerClick walks the pointer from its tracked position to (x, y) in a
// randomized number of steps, pauses, then presses and releases.
func (h *Humanoid) pointerClick(ctx context.Context, x, y float64) error {
	h.mu.Lock()
	steps := h.cfg.MoveStepsMin
	if spread := h.cfg.MoveStepsMax - h.cfg.MoveStepsMin; spread > 0 {
		steps += h.rng.Intn(spread + 1)
	}
	if steps < 1 {
		steps = 1
	}
	startX, startY := h.currentPos.x, h.currentPos.y
	h.mu.Unlock()

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		h.mu.Lock()
		// Small lateral noise on intermediate points; the final point lands exactly.
		nx := (h.rng.Float64()*2 - 1) * 2
		ny := (h.rng.Float64()*2 - 1) * 2
		h.mu.Unlock()
		if i == steps {
			nx, ny = 0, 0
		}
		px := startX + (x-startX)*t + nx
		py := startY + (y-startY)*t + ny
		if err := h.executor.DispatchMouseEvent(ctx, MouseMoved, px, py); err != nil {
			return fmt.Errorf("pointer move: %w", err)
		}
	}

	h.mu.Lock()
	h.currentPos.x, h.currentPos.y = x, y
	h.mu.Unlock()

	if err := h.pause(ctx, h.cfg.ClickPauseMin, h.cfg.ClickPauseMax); err != nil {
		return err
	}
	if err := h.executor.DispatchMouseEvent(ctx, MousePressed, x, y); err != nil {
		return fmt.Errorf("pointer press: %w", err)
	}
	if err := h.executor.DispatchMouseEvent(ctx, MouseReleased, x, y); err != nil {
		return fmt.Errorf("pointer release: %w", err)
	}
	return nil
}

// jitteredPoint picks a randomized point near the element's center, clamped
// to stay inside the box.
func (h *Humanoid) jitteredPoint(geom *ElementGeometry) (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	jx := (h.rng.Float64()*2 - 1) * h.cfg.JitterX
	jy := (h.rng.Float64()*2 - 1) * h.cfg.JitterY

	if limit := geom.Width/2 - 1; limit > 0 {
		jx = clamp(jx, -limit, limit)
	} else {
		jx = 0
	}
	if limit := geom.Height/2 - 1; limit > 0 {
		jy = clamp(jy, -limit, limit)
	} else {
		jy = 0
	}
	return geom.X + geom.Width/2 + jx, geom.Y + geom.Height/2 + jy
}

// scriptClick clicks the element directly from script, bypassing pointer
// simulation entirely.
func (h *Humanoid) scriptClick(ctx context.Context, selector string) bool {
	script := fmt.Sprintf(`(function(sel){
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollIntoView({block:'center', inline:'center'});
		el.click();
		return true;
	})(%s)`, jsString(selector))

	res, err := h.executor.ExecuteScript(ctx, script)
	if err != nil {
		h.logger.Debug("Scripted click failed.", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return string(res) == "true"
}

// setValue writes the field value directly and fires synthetic events.
func (h *Humanoid) setValue(ctx context.Context, selector, text string) bool {
	script := fmt.Sprintf(`(function(sel, v){
		const el = document.querySelector(sel);
		if (!el) return false;
		el.value = v;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})(%s, %s)`, jsString(selector), jsString(text))

	res, err := h.executor.ExecuteScript(ctx, script)
	if err != nil {
		h.logger.Debug("Scripted value set failed.", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return string(res) == "true"
}

func (h *Humanoid) pause(ctx context.Context, min, max time.Duration) error {
	d := min
	if spread := max - min; spread > 0 {
		h.mu.Lock()
		d += time.Duration(h.rng.Int63n(int64(spread) + 1))
		h.mu.Unlock()
	}
	if d <= 0 {
		return nil
	}
	return h.executor.Sleep(ctx, d)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
