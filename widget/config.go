package widget

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	widgetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)

	// scriptNames are the file names the loader is published under.
	scriptNames = []string{"widget.js", "widget-src.js", "widget.wasm"}

	ErrScriptNotFound  = errors.New("widget: script tag not found")
	ErrInvalidWidgetID = errors.New("widget: invalid widget ID")
)

// Config is what the widget learns from its own script tag.
type Config struct {
	WidgetID  string
	ScriptSrc string
	// APIBase has no trailing slash.
	APIBase string
}

// ResolveConfig locates the embedding script and extracts the widget id.
// defaultBase is the production API base baked in at build time.
func ResolveConfig(h Host, defaultBase string) (Config, error) {
	script, ok := findScript(h)
	if !ok {
		return Config{}, ErrScriptNotFound
	}

	id := widgetIDFrom(script)
	if !widgetIDPattern.MatchString(id) {
		return Config{}, ErrInvalidWidgetID
	}

	return Config{
		WidgetID:  id,
		ScriptSrc: script.Src,
		APIBase:   apiBase(defaultBase, script.Src, h.Location()),
	}, nil
}

// findScript prefers the executing script, then the last script whose src
// names the widget.
func findScript(h Host) (Script, bool) {
	if s, ok := h.CurrentScript(); ok {
		return s, true
	}
	scripts := h.Scripts()
	for i := len(scripts) - 1; i >= 0; i-- {
		src := scripts[i].Src
		if src == "" {
			continue
		}
		for _, name := range scriptNames {
			if strings.Contains(src, name) {
				return scripts[i], true
			}
		}
	}
	return Script{}, false
}

// widgetIDFrom reads ?id= from the src, falling back to the data attribute.
func widgetIDFrom(s Script) string {
	src := s.Src
	if i := strings.IndexByte(src, '#'); i >= 0 {
		src = src[:i]
	}
	if i := strings.IndexByte(src, '?'); i >= 0 {
		// ParseQuery keeps the pairs it could decode on error.
		q, _ := url.ParseQuery(src[i+1:])
		if id := q.Get("id"); id != "" {
			return id
		}
	}
	return s.DataID
}

// apiBase returns the script's origin when it matches the page origin and
// defaultBase otherwise. A cross-origin host page can never redirect API
// traffic.
func apiBase(defaultBase, scriptSrc, pageURL string) string {
	defaultBase = strings.TrimRight(defaultBase, "/")
	if scriptSrc == "" {
		return defaultBase
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		return defaultBase
	}
	ref, err := url.Parse(scriptSrc)
	if err != nil {
		return defaultBase
	}

	src := page.ResolveReference(ref)
	pageOrigin, srcOrigin := origin(page), origin(src)
	if srcOrigin != "" && srcOrigin == pageOrigin {
		return srcOrigin
	}
	return defaultBase
}

func origin(u *url.URL) string {
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
