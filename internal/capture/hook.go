package capture

import (
	_ "embed"
	"strings"
	"sync"
)

//go:embed hook.js
var hookSource string

var (
	hookOnce   sync.Once
	hookScript string
)

// HookScript returns the script the content script injects into the page
// world. It wraps fetch and XMLHttpRequest.setRequestHeader to observe
// Authorization headers, scans web storage once, and posts every JWT-shaped
// bearer token to the page's own origin as a CAPTURE_TOKEN message. It is
// idempotent when injected twice.
func HookScript() string {
	hookOnce.Do(func() {
		hookScript = strings.TrimSpace(hookSource) + "\n"
	})
	return hookScript
}
