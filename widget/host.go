// Package widget is the embeddable visitor globe. It configures itself from
// the script tag that loaded it, reports one pageview, and once the container
// scrolls into view renders the account's recent visitors on a 3D globe,
// refreshing every 10 seconds.
//
// Everything page-specific sits behind Host, Element, RendererFactory,
// Transport and Beaconer. The js/wasm build binds them to the browser; tests
// bind them to in-memory fakes.
package widget

import (
	"context"
	"errors"
)

// Script describes a <script> element on the page.
type Script struct {
	// Src is the raw src attribute.
	Src string
	// DataID is the data-mapmyvisitors-id attribute.
	DataID string
}

// Host is the embedding page.
//
// Callbacks handed to ObserveVisible and Listen may block on network I/O, so
// hosts must not run them on a thread that the I/O itself needs.
type Host interface {
	// CurrentScript is the script element being executed, if known.
	CurrentScript() (Script, bool)
	// Scripts lists every script element in document order.
	Scripts() []Script
	// Location is the page URL.
	Location() string
	Referrer() string

	Touch() bool
	PixelRatio() float64
	ViewportWidth() int
	WebGL() bool
	PageVisible() bool

	// Container returns the element with the given id, creating it under the
	// body with defaultCSS when the page does not provide one.
	Container(id, defaultCSS string) (Element, error)
	// ObserveVisible calls fn the first time el is at least threshold visible.
	// ok is false when the page cannot observe visibility.
	ObserveVisible(el Element, threshold float64, fn func()) (disconnect func(), ok bool)
	// Listen subscribes fn to a window or document event.
	Listen(event string, fn func()) (remove func())
}

// Element is a DOM node owned by the widget.
type Element interface {
	Width() int
	SetStyle(prop, value string)
	// Find returns the first descendant carrying attr.
	Find(attr string) (Element, bool)
	// Append creates a div child carrying attr="1" with the given inline style.
	Append(attr, css string) (Element, error)
	SetText(text string)
	SetHTML(html string)
	// Clear removes all children.
	Clear()
	Remove()
}

// ErrLibraryUnavailable is returned by a RendererFactory that could not load
// the globe library.
var ErrLibraryUnavailable = errors.New("widget: globe library unavailable")

// RendererFactory builds a globe inside mount.
type RendererFactory interface {
	Acquire(ctx context.Context, mount Element, opts GlobeOptions) (Renderer, error)
}

// Renderer draws points and rings on an existing globe.
type Renderer interface {
	SetPoints(points []Point)
	SetRings(points []Point)
	// Redraw forces a frame after the container is resized.
	Redraw()
	Dispose()
}

// Transport carries JSON requests to the API.
type Transport interface {
	// GetJSON decodes the response body into a generic object. Non-2xx
	// responses are errors and an empty body decodes to an empty object.
	GetJSON(ctx context.Context, url string) (map[string]any, error)
	PostJSON(ctx context.Context, url string, body []byte) error
}

// Beaconer queues a best-effort POST that outlives the page.
type Beaconer interface {
	// SendBeacon reports whether the request was queued.
	SendBeacon(url string, body []byte) bool
}
