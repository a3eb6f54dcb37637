package widget

import (
	"context"
	"errors"
	"sync"
)

type fakeElement struct {
	mu       sync.Mutex
	attr     string
	css      string
	width    int
	style    map[string]string
	text     string
	html     string
	children []*fakeElement
	parent   *fakeElement
	removed  bool
}

func newFakeElement(attr, css string) *fakeElement {
	return &fakeElement{attr: attr, css: css, style: map[string]string{}}
}

func (e *fakeElement) Width() int { return e.width }

func (e *fakeElement) SetStyle(prop, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.style[prop] = value
}

func (e *fakeElement) Find(attr string) (Element, bool) {
	if el := e.find(attr); el != nil {
		return el, true
	}
	return nil, false
}

func (e *fakeElement) find(attr string) *fakeElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.children {
		if c.attr == attr {
			return c
		}
	}
	return nil
}

func (e *fakeElement) Append(attr, css string) (Element, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := newFakeElement(attr, css)
	c.parent = e
	e.children = append(e.children, c)
	return c, nil
}

func (e *fakeElement) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

func (e *fakeElement) SetHTML(html string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.html = html
}

func (e *fakeElement) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.children = nil
}

func (e *fakeElement) Remove() {
	p := e.parent
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.children {
		if c == e {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	e.removed = true
}

func (e *fakeElement) textOf(attr string) string {
	c := e.find(attr)
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

type fakeHost struct {
	mu sync.Mutex

	current  *Script
	scripts  []Script
	location string
	referrer string
	touch    bool
	ratio    float64
	viewport int
	webgl    bool
	visible  bool

	container    *fakeElement
	containerErr error

	observerSupported bool
	onVisible         func()
	disconnects       int

	listeners map[string]func()
	removed   map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		location:          "https://customer.example/pricing",
		ratio:             3,
		viewport:          1280,
		webgl:             true,
		visible:           true,
		container:         newFakeElement("", ""),
		observerSupported: true,
		listeners:         map[string]func(){},
		removed:           map[string]int{},
	}
}

func (h *fakeHost) CurrentScript() (Script, bool) {
	if h.current == nil {
		return Script{}, false
	}
	return *h.current, true
}

func (h *fakeHost) Scripts() []Script { return h.scripts }
func (h *fakeHost) Location() string { return h.location }
func (h *fakeHost) Referrer() string { return h.referrer }
func (h *fakeHost) Touch() bool { return h.touch }
func (h *fakeHost) PixelRatio() float64 { return h.ratio }
func (h *fakeHost) ViewportWidth() int { return h.viewport }
func (h *fakeHost) WebGL() bool { return h.webgl }
func (h *fakeHost) PageVisible() bool { return h.visible }

func (h *fakeHost) Container(_, css string) (Element, error) {
	if h.containerErr != nil {
		return nil, h.containerErr
	}
	if h.container.css == "" {
		h.container.css = css
	}
	return h.container, nil
}

func (h *fakeHost) ObserveVisible(_ Element, _ float64, fn func()) (func(), bool) {
	if !h.observerSupported {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onVisible = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.disconnects++
	}, true
}

func (h *fakeHost) Listen(event string, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[event] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, event)
		h.removed[event]++
	}
}

// scrollIntoView fires the visibility callback the way a browser would.
func (h *fakeHost) scrollIntoView() {
	h.mu.Lock()
	fn := h.onVisible
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *fakeHost) fire(event string) {
	h.mu.Lock()
	fn := h.listeners[event]
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *fakeHost) listening(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.listeners[event]
	return ok
}

type fakeRenderer struct {
	mu       sync.Mutex
	points   [][]Point
	rings    [][]Point
	redraws  int
	disposed int
}

func (r *fakeRenderer) SetPoints(p []Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, p)
}

func (r *fakeRenderer) SetRings(p []Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings = append(r.rings, p)
}

func (r *fakeRenderer) Redraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redraws++
}

func (r *fakeRenderer) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed++
}

func (r *fakeRenderer) renders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points)
}

type fakeFactory struct {
	renderer *fakeRenderer
	err      error
	panicMsg string
	opts     GlobeOptions
	calls    int
}

func (f *fakeFactory) Acquire(_ context.Context, _ Element, opts GlobeOptions) (Renderer, error) {
	f.calls++
	f.opts = opts
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.renderer, nil
}

type fakeTransport struct {
	mu sync.Mutex

	// get answers visitor fetches; n counts from 1.
	get      func(ctx context.Context, n int) (map[string]any, error)
	getURLs  []string
	postErrs []error
	posts    [][]byte
	postURLs []string
	posted   chan struct{}
}

func newFakeTransport(resp map[string]any) *fakeTransport {
	return &fakeTransport{
		get:    func(context.Context, int) (map[string]any, error) { return resp, nil },
		posted: make(chan struct{}, 8),
	}
}

func (t *fakeTransport) GetJSON(ctx context.Context, url string) (map[string]any, error) {
	t.mu.Lock()
	t.getURLs = append(t.getURLs, url)
	n := len(t.getURLs)
	get := t.get
	t.mu.Unlock()
	return get(ctx, n)
}

func (t *fakeTransport) PostJSON(_ context.Context, url string, body []byte) error {
	t.mu.Lock()
	t.posts = append(t.posts, body)
	t.postURLs = append(t.postURLs, url)
	var err error
	if len(t.postErrs) > 0 {
		err = t.postErrs[0]
		t.postErrs = t.postErrs[1:]
	}
	t.mu.Unlock()
	t.posted <- struct{}{}
	return err
}

func (t *fakeTransport) gets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.getURLs)
}

type fakeBeacon struct {
	mu     sync.Mutex
	ok     bool
	urls   []string
	bodies [][]byte
	sent   chan struct{}
}

func (b *fakeBeacon) SendBeacon(url string, body []byte) bool {
	b.mu.Lock()
	b.urls = append(b.urls, url)
	b.bodies = append(b.bodies, body)
	b.mu.Unlock()
	if b.sent != nil {
		b.sent <- struct{}{}
	}
	return b.ok
}

var errOffline = errors.New("offline")
