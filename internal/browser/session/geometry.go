// internal/browser/session/geometry.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser/humanoid"
)

// ElementGeometry retrieves the visible border box for a selector. A JS
// round-trip resolves the element, checks computed-style visibility, and
// returns its bounding rect in one shot, which keeps the lookup atomic with
// respect to layout changes.
func (s *Session) ElementGeometry(ctx context.Context, selector string) (*humanoid.ElementGeometry, error) {
	script := fmt.Sprintf(`(function(sel) {
		const node = document.querySelector(sel);
		if (!node) return null;

		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
		if (!visible) return null;

		return { x: rect.left, y: rect.top, width: rect.width, height: rect.height };
	})(%s)`, jsonEncode(selector))

	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	res, err := s.ExecuteScript(opCtx, script)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout getting geometry for '%s': %w", selector, opCtx.Err())
		}
		return nil, fmt.Errorf("failed JS evaluation for geometry '%s': %w", selector, err)
	}

	if string(res) == "null" {
		s.logger.Debug("Element geometry evaluation returned null (not found or not visible).", zap.String("selector", selector))
		return nil, fmt.Errorf("element '%s' not found or not visible", selector)
	}

	var geom humanoid.ElementGeometry
	if err := json.Unmarshal(res, &geom); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geometry for '%s': %w (payload: %s)", selector, err, string(res))
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("element '%s' not found or not visible (zero-area box)", selector)
	}
	return &geom, nil
}

// jsonEncode safely encodes a value (especially strings) for JS injection.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
