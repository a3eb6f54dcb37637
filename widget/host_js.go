//go:build js && wasm

package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall/js"
)

const globeLibraryURL = "https://unpkg.com/globe.gl@2.27.2"

// BrowserHost binds Host to the page the wasm module runs in. Event
// callbacks are dispatched on new goroutines so they may block on fetch.
type BrowserHost struct {
	window   js.Value
	document js.Value
	// current is the loader script, handed over by widget.js since
	// document.currentScript is gone by the time the module starts.
	current *Script
}

func NewBrowserHost(current *Script) *BrowserHost {
	g := js.Global()
	return &BrowserHost{window: g, document: g.Get("document"), current: current}
}

func (h *BrowserHost) CurrentScript() (Script, bool) {
	if h.current != nil && (h.current.Src != "" || h.current.DataID != "") {
		return *h.current, true
	}
	if cs := h.document.Get("currentScript"); cs.Truthy() {
		return scriptOf(cs), true
	}
	return Script{}, false
}

func (h *BrowserHost) Scripts() []Script {
	list := h.document.Call("getElementsByTagName", "script")
	n := list.Length()
	out := make([]Script, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scriptOf(list.Index(i)))
	}
	return out
}

func scriptOf(v js.Value) Script {
	return Script{Src: attr(v, "src"), DataID: attr(v, "data-mapmyvisitors-id")}
}

func attr(v js.Value, name string) string {
	a := v.Call("getAttribute", name)
	if a.Type() != js.TypeString {
		return ""
	}
	return a.String()
}

func (h *BrowserHost) Location() string {
	return h.window.Get("location").Get("href").String()
}

func (h *BrowserHost) Referrer() string {
	r := h.document.Get("referrer")
	if r.Type() != js.TypeString {
		return ""
	}
	return r.String()
}

func (h *BrowserHost) Touch() bool {
	if h.window.Get("ontouchstart").Type() != js.TypeUndefined {
		return true
	}
	nav := h.window.Get("navigator")
	return nav.Truthy() && nav.Get("maxTouchPoints").Type() == js.TypeNumber && nav.Get("maxTouchPoints").Int() > 0
}

func (h *BrowserHost) PixelRatio() float64 {
	r := h.window.Get("devicePixelRatio")
	if r.Type() != js.TypeNumber {
		return 1
	}
	return r.Float()
}

func (h *BrowserHost) ViewportWidth() int {
	w := h.window.Get("innerWidth")
	if w.Type() != js.TypeNumber {
		return 0
	}
	return w.Int()
}

func (h *BrowserHost) WebGL() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	canvas := h.document.Call("createElement", "canvas")
	if canvas.Call("getContext", "webgl").Truthy() {
		return true
	}
	return canvas.Call("getContext", "experimental-webgl").Truthy()
}

func (h *BrowserHost) PageVisible() bool {
	return h.document.Get("visibilityState").String() == "visible"
}

func (h *BrowserHost) Container(id, defaultCSS string) (el Element, err error) {
	defer catchJS(&err)

	v := h.document.Call("getElementById", id)
	if !v.Truthy() {
		v = h.document.Call("createElement", "div")
		v.Set("id", id)
		v.Get("style").Set("cssText", defaultCSS)

		parent := h.document.Get("body")
		if !parent.Truthy() {
			parent = h.document.Get("documentElement")
		}
		if !parent.Truthy() {
			return nil, errors.New("widget: document has no body")
		}
		parent.Call("appendChild", v)
	}
	return &domElement{v: v}, nil
}

func (h *BrowserHost) ObserveVisible(el Element, threshold float64, fn func()) (func(), bool) {
	ctor := h.window.Get("IntersectionObserver")
	target, isDOM := el.(*domElement)
	if ctor.Type() != js.TypeFunction || !isDOM {
		return nil, false
	}

	var once sync.Once
	cb := js.FuncOf(func(_ js.Value, args []js.Value) any {
		entries := args[0]
		for i := 0; i < entries.Length(); i++ {
			if entries.Index(i).Get("isIntersecting").Bool() {
				once.Do(func() { go fn() })
				break
			}
		}
		return nil
	})

	observer := ctor.New(cb, map[string]any{"root": nil, "threshold": threshold})
	observer.Call("observe", target.v)

	return func() {
		observer.Call("disconnect")
		cb.Release()
	}, true
}

func (h *BrowserHost) Listen(event string, fn func()) func() {
	target := h.window
	if event == "visibilitychange" {
		target = h.document
	}
	cb := js.FuncOf(func(js.Value, []js.Value) any {
		go fn()
		return nil
	})
	target.Call("addEventListener", event, cb, map[string]any{"passive": true})
	return func() {
		target.Call("removeEventListener", event, cb)
		cb.Release()
	}
}

type domElement struct {
	v js.Value
}

func (e *domElement) Width() int {
	return e.v.Get("clientWidth").Int()
}

func (e *domElement) SetStyle(prop, value string) {
	e.v.Get("style").Call("setProperty", prop, value)
}

func (e *domElement) Find(attr string) (Element, bool) {
	found := e.v.Call("querySelector", "["+attr+"]")
	if !found.Truthy() {
		return nil, false
	}
	return &domElement{v: found}, true
}

func (e *domElement) Append(attr, css string) (el Element, err error) {
	defer catchJS(&err)
	c := e.v.Get("ownerDocument").Call("createElement", "div")
	c.Call("setAttribute", attr, "1")
	c.Get("style").Set("cssText", css)
	e.v.Call("appendChild", c)
	return &domElement{v: c}, nil
}

func (e *domElement) SetText(text string) {
	e.v.Set("textContent", text)
}

func (e *domElement) SetHTML(html string) {
	e.v.Set("innerHTML", html)
}

func (e *domElement) Clear() {
	for c := e.v.Get("firstChild"); c.Truthy(); c = e.v.Get("firstChild") {
		e.v.Call("removeChild", c)
	}
}

func (e *domElement) Remove() {
	if p := e.v.Get("parentNode"); p.Truthy() {
		p.Call("removeChild", e.v)
	}
}

// GlobeFactory loads globe.gl from the CDN once per page and builds globes.
type GlobeFactory struct {
	window   js.Value
	document js.Value
}

func NewGlobeFactory() *GlobeFactory {
	g := js.Global()
	return &GlobeFactory{window: g, document: g.Get("document")}
}

func (f *GlobeFactory) Acquire(ctx context.Context, mount Element, opts GlobeOptions) (r Renderer, err error) {
	if err := f.loadLibrary(ctx); err != nil {
		return nil, err
	}

	m, ok := mount.(*domElement)
	if !ok {
		return nil, errors.New("widget: mount is not a DOM element")
	}
	defer catchJS(&err)

	g := f.window.Call("Globe").Invoke(m.v)
	g.Call("globeImageUrl", opts.GlobeImageURL)
	g.Call("bumpImageUrl", opts.BumpImageURL)
	g.Call("backgroundImageUrl", opts.BackgroundImageURL)
	g.Call("atmosphereColor", opts.AtmosphereColor)
	g.Call("atmosphereAltitude", opts.AtmosphereAltitude)
	g.Call("showAtmosphere", true)

	// Point encodings are precomputed per datum; accessors name the fields.
	g.Call("pointLat", "lat")
	g.Call("pointLng", "lng")
	g.Call("pointRadius", "radius")
	g.Call("pointAltitude", "altitude")
	g.Call("pointColor", "color")
	g.Call("pointLabel", "label")
	g.Call("pointsMerge", true)
	g.Call("pointsTransitionDuration", opts.PointsTransition.Milliseconds())

	g.Call("ringLat", "lat")
	g.Call("ringLng", "lng")
	g.Call("ringColor", "color")
	g.Call("ringMaxRadius", opts.RingMaxRadius)
	g.Call("ringPropagationSpeed", opts.RingPropagationSpeed)
	g.Call("ringRepeatPeriod", opts.RingRepeatPeriod.Milliseconds())

	controls := g.Call("controls")
	controls.Set("autoRotate", true)
	controls.Set("autoRotateSpeed", opts.AutoRotateSpeed)
	controls.Set("enableDamping", true)
	controls.Set("dampingFactor", opts.DampingFactor)

	g.Call("renderer").Call("setPixelRatio", opts.PixelRatio)

	return &globeRenderer{g: g, opts: opts}, nil
}

func (f *GlobeFactory) loadLibrary(ctx context.Context) (err error) {
	defer catchJS(&err)
	if f.window.Get("Globe").Truthy() {
		return nil
	}

	script := f.document.Call("querySelector", "script[data-mmv-globe]")
	if !script.Truthy() {
		script = f.document.Call("createElement", "script")
		script.Call("setAttribute", "data-mmv-globe", "1")
		script.Set("async", true)
		script.Set("src", globeLibraryURL)
		f.document.Get("head").Call("appendChild", script)
	}

	result := make(chan bool, 2)
	onLoad := js.FuncOf(func(js.Value, []js.Value) any {
		result <- true
		return nil
	})
	onError := js.FuncOf(func(js.Value, []js.Value) any {
		result <- false
		return nil
	})
	defer onLoad.Release()
	defer onError.Release()
	script.Call("addEventListener", "load", onLoad)
	script.Call("addEventListener", "error", onError)
	defer script.Call("removeEventListener", "load", onLoad)
	defer script.Call("removeEventListener", "error", onError)

	// The script may have finished between the first check and now.
	if f.window.Get("Globe").Truthy() {
		return nil
	}

	select {
	case ok := <-result:
		if !ok || !f.window.Get("Globe").Truthy() {
			return ErrLibraryUnavailable
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type globeRenderer struct {
	g    js.Value
	opts GlobeOptions
}

func (r *globeRenderer) SetPoints(points []Point) {
	data := make([]any, 0, len(points))
	for _, p := range points {
		style := r.opts.Style(p)
		label := ""
		if r.opts.Label != nil {
			label = r.opts.Label(p)
		}
		data = append(data, map[string]any{
			"lat":      p.Lat,
			"lng":      p.Lng,
			"radius":   style.Radius,
			"altitude": style.Altitude,
			"color":    style.Color,
			"label":    label,
		})
	}
	r.g.Call("pointsData", data)
}

func (r *globeRenderer) SetRings(points []Point) {
	peak := fmt.Sprintf("rgba(%s,%.3f)", r.opts.RingRGB, r.opts.RingPeakAlpha)
	fade := fmt.Sprintf("rgba(%s,0)", r.opts.RingRGB)
	data := make([]any, 0, len(points))
	for _, p := range points {
		data = append(data, map[string]any{
			"lat":   p.Lat,
			"lng":   p.Lng,
			"color": []any{peak, fade},
		})
	}
	r.g.Call("ringsData", data)
}

func (r *globeRenderer) Redraw() {
	r.g.Call("renderer").Call("render", r.g.Call("scene"), r.g.Call("camera"))
}

func (r *globeRenderer) Dispose() {
	renderer := r.g.Call("renderer")
	if renderer.Truthy() && renderer.Get("dispose").Type() == js.TypeFunction {
		renderer.Call("dispose")
	}
}

// BrowserBeacon sends pageviews with navigator.sendBeacon.
type BrowserBeacon struct{}

func (BrowserBeacon) SendBeacon(url string, body []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	g := js.Global()
	nav := g.Get("navigator")
	if !nav.Truthy() || nav.Get("sendBeacon").Type() != js.TypeFunction {
		return false
	}
	blob := g.Get("Blob").New([]any{string(body)}, map[string]any{"type": "application/json"})
	return nav.Call("sendBeacon", url, blob).Bool()
}

// FetchKeepalive POSTs a JSON body with fetch keepalive, which net/http's
// js transport cannot request. Non-2xx answers are errors.
func FetchKeepalive(ctx context.Context, url string, body []byte) (err error) {
	defer catchJS(&err)

	g := js.Global()
	if g.Get("fetch").Type() != js.TypeFunction {
		return errors.New("widget: fetch unavailable")
	}

	init := map[string]any{
		"method":      "POST",
		"keepalive":   true,
		"credentials": "omit",
		"headers":     map[string]any{"Content-Type": "application/json"},
		"body":        string(body),
	}
	if ctor := g.Get("AbortController"); ctor.Type() == js.TypeFunction {
		ac := ctor.New()
		init["signal"] = ac.Get("signal")
		stop := context.AfterFunc(ctx, func() { ac.Call("abort") })
		defer stop()
	}

	// The callbacks release themselves once the promise settles, which may be
	// after ctx has ended.
	done := make(chan error, 1)
	var onOK, onErr js.Func
	settle := func(err error) {
		done <- err
		onOK.Release()
		onErr.Release()
	}
	onOK = js.FuncOf(func(_ js.Value, args []js.Value) any {
		if res := args[0]; !res.Get("ok").Bool() {
			settle(fmt.Errorf("http_%d", res.Get("status").Int()))
			return nil
		}
		settle(nil)
		return nil
	})
	onErr = js.FuncOf(func(_ js.Value, args []js.Value) any {
		msg := "network error"
		if len(args) > 0 && args[0].Truthy() {
			msg = args[0].Call("toString").String()
		}
		settle(errors.New(msg))
		return nil
	})

	g.Call("fetch", url, init).Call("then", onOK, onErr)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// catchJS turns a JavaScript exception surfacing as a panic into *err.
func catchJS(err *error) {
	if r := recover(); r != nil {
		if jsErr, ok := r.(js.Error); ok {
			*err = jsErr
			return
		}
		*err = fmt.Errorf("widget: %v", r)
	}
}
