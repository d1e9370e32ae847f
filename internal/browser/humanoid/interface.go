// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"
)

// MouseEvent identifies a raw pointer event type as dispatched over CDP.
type MouseEvent string

const (
	MouseMoved    MouseEvent = "mouseMoved"
	MousePressed  MouseEvent = "mousePressed"
	MouseReleased MouseEvent = "mouseReleased"
)

// ElementGeometry is the interactability snapshot of a resolved element: its
// viewport-relative border box. A zero-area box means the element is not
// clickable.
type ElementGeometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Executor defines the low-level browser operations the humanoid controller
// is built on. The live implementation is the browser session; tests supply
// fakes.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, event MouseEvent, x, y float64) error
	SendKeys(ctx context.Context, keys string) error
	ElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error)
	ExecuteScript(ctx context.Context, script string) (json.RawMessage, error)
}
