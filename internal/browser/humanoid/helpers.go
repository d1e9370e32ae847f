// internal/browser/humanoid/helpers.go
package humanoid

import "encoding/json"

// jsString safely encodes a Go string as a JS string literal for injection.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
