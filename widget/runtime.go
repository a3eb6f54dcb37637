package widget

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
)

const (
	ContainerID = "mapmyvisitors-widget"

	DefaultAPIBase        = "https://mapmyvisitors.com"
	DefaultPollInterval   = 10 * time.Second
	DefaultResizeDebounce = 200 * time.Millisecond

	visibilityThreshold = 0.1

	attrMount     = "data-mmv-mount"
	attrStatus    = "data-mmv-status"
	attrError     = "data-mmv-error"
	attrWatermark = "data-mmv-watermark"
)

// User-visible texts.
const (
	StatusLoadingGlobe    = "Loading globe…"
	StatusLoading3D       = "Loading 3D…"
	StatusLoadingVisitors = "Loading visitors…"
	StatusRetrying        = "Loading… (retrying)"

	ErrTextNoWebGL      = "Your browser doesn't support 3D (WebGL required)."
	ErrTextLibrary      = "Failed to load 3D library."
	ErrTextInit         = "Failed to initialize widget."
	ErrTextMountMissing = "Widget mount not found."
	ErrTextRender       = "Failed to render globe."
)

const (
	fontStack = "-apple-system, BlinkMacSystemFont, Segoe UI, Roboto, Helvetica, Arial, sans-serif"

	containerCSS = "width: 100%; max-width: 600px; height: 600px; position: relative; margin: 20px auto; " +
		"border-radius: 16px; overflow: hidden; " +
		"background: radial-gradient(ellipse at 30% 20%, rgba(59,130,246,0.18), rgba(0,0,0,0.0) 55%), #0b1220; " +
		"box-shadow: 0 18px 50px rgba(0,0,0,0.25);"
	mountCSS  = "position:absolute; inset:0;"
	statusCSS = "position:absolute; left:12px; top:12px; padding:8px 10px; font-size:12px; font-family:" + fontStack + "; " +
		"color:rgba(255,255,255,0.92); background:rgba(0,0,0,0.35); border:1px solid rgba(255,255,255,0.10); " +
		"border-radius:10px; backdrop-filter: blur(6px); z-index:50; pointer-events:none;"
	errorCSS = "position:absolute; inset:0; display:flex; align-items:center; justify-content:center; padding:24px; " +
		"text-align:center; font-size:13px; line-height:1.4; font-family:" + fontStack + "; " +
		"color:rgba(255,255,255,0.9); background:rgba(11,18,32,0.96); z-index:60;"
	watermarkCSS = "position:absolute; bottom:10px; right:10px; font-size:11px; font-family:" + fontStack + "; " +
		"color:rgba(255,255,255,0.65); z-index:100; background:rgba(0,0,0,0.25); border:1px solid rgba(255,255,255,0.10); " +
		"padding:6px 8px; border-radius:999px; backdrop-filter: blur(6px);"
	watermarkHTML = `Powered by <a href="https://mapmyvisitors.com" target="_blank" rel="noopener noreferrer" ` +
		`style="color:#3b82f6;text-decoration:none">MapMyVisitors</a>`
)

type State int

const (
	Unconfigured State = iota
	Configured
	AwaitingVisibility
	Initializing
	Active
	// Failed shows an error text in place of the globe.
	Failed
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case AwaitingVisibility:
		return "awaiting-visibility"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Failed:
		return "failed"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Host      Host
	Renderer  RendererFactory
	Transport Transport
	// Beacon is optional; without it pageviews go straight to Transport.
	Beacon Beaconer
	// PageviewSent means the loader already queued this page's pageview.
	PageviewSent bool

	// APIBase is the production API, used unless the script is served from
	// the page's own origin.
	APIBase string

	PollInterval    time.Duration
	TrackRetryDelay time.Duration
	ResizeDebounce  time.Duration
	Now             func() time.Time
}

func (o *Options) setDefaults() {
	if o.APIBase == "" {
		o.APIBase = DefaultAPIBase
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.TrackRetryDelay <= 0 {
		o.TrackRetryDelay = DefaultTrackRetryDelay
	}
	if o.ResizeDebounce <= 0 {
		o.ResizeDebounce = DefaultResizeDebounce
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Transport == nil {
		o.Transport = &HTTPTransport{}
	}
}

// Widget is one installed globe. All methods are safe for concurrent use.
type Widget struct {
	opts Options
	cfg  Config
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	container   Element
	statusEl    Element
	watermarkEl Element
	renderer    Renderer
	disconnect  func()
	removers    []func()
	resizeTimer *time.Timer

	// Each fetch cancels its predecessor; gen discards late answers.
	cancelFetch context.CancelFunc
	gen         uint64
	lastHash    string
}

// Install configures the widget from its script tag, reports the pageview
// and defers the globe until the container is visible. It returns nil when
// the page carries no valid widget id or no container could be set up.
// Install never panics.
func Install(opts Options) (w *Widget) {
	opts.setDefaults()
	log := logging.With().Str("component", "widget").Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Widget error")
			if w != nil {
				w.Destroy()
			}
			w = nil
		}
	}()

	cfg, err := ResolveConfig(opts.Host, opts.APIBase)
	if err != nil {
		log.Error().Err(err).Msg("Widget not installed")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w = &Widget{
		opts:   opts,
		cfg:    cfg,
		log:    log.With().Str("widget_id", cfg.WidgetID).Logger(),
		ctx:    ctx,
		cancel: cancel,
		state:  Configured,
	}

	if !opts.PageviewSent {
		// The pageview report outlives Destroy, like a keepalive request.
		t := &tracker{
			url:        cfg.APIBase + "/api/track",
			transport:  opts.Transport,
			beacon:     opts.Beacon,
			retryDelay: opts.TrackRetryDelay,
			log:        w.log,
		}
		go t.report(context.Background(), cfg.WidgetID, opts.Host.Location(), opts.Host.Referrer())
	}

	container, err := w.setupContainer()
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to setup container")
		cancel()
		return nil
	}

	w.mu.Lock()
	w.container = container
	w.state = AwaitingVisibility
	w.setStatusLocked(StatusLoadingGlobe)
	w.mu.Unlock()

	w.initWhenVisible()
	w.attachLifecycle()
	return w
}

func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Widget) Config() Config {
	return w.cfg
}

// Done is closed once the widget is destroyed.
func (w *Widget) Done() <-chan struct{} {
	return w.ctx.Done()
}

func (w *Widget) setupContainer() (Element, error) {
	container, err := w.opts.Host.Container(ContainerID, containerCSS)
	if err != nil {
		return nil, err
	}
	if container == nil {
		return nil, errors.New("widget: host returned no container")
	}
	if _, ok := container.Find(attrMount); !ok {
		if _, err := container.Append(attrMount, mountCSS); err != nil {
			return nil, err
		}
	}
	w.applyResponsiveSizing(container)
	return container, nil
}

// applyResponsiveSizing shrinks the box on narrow screens.
func (w *Widget) applyResponsiveSizing(container Element) {
	width := min(w.opts.Host.ViewportWidth(), container.Width())
	if width <= 0 {
		return
	}
	switch {
	case width < 420:
		setBox(container, "420px", "12px auto", "14px")
	case width < 520:
		setBox(container, "520px", "16px auto", "16px")
	}
}

func setBox(el Element, height, margin, radius string) {
	el.SetStyle("height", height)
	el.SetStyle("max-width", "100%")
	el.SetStyle("margin", margin)
	el.SetStyle("border-radius", radius)
}

func (w *Widget) initWhenVisible() {
	w.mu.Lock()
	container := w.container
	w.mu.Unlock()

	disconnect, ok := w.opts.Host.ObserveVisible(container, visibilityThreshold, func() {
		w.mu.Lock()
		if w.disconnect != nil {
			safely(w.disconnect)
			w.disconnect = nil
		}
		w.mu.Unlock()
		w.init()
	})
	if !ok {
		go w.init()
		return
	}

	w.mu.Lock()
	if w.state == Destroyed {
		w.mu.Unlock()
		safely(disconnect)
		return
	}
	w.disconnect = disconnect
	w.mu.Unlock()
}

// init builds the globe and starts polling. It runs at most once.
func (w *Widget) init() {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Init failed")
			w.fail(ErrTextInit)
		}
	}()

	w.mu.Lock()
	if w.state != AwaitingVisibility {
		w.mu.Unlock()
		return
	}
	w.state = Initializing
	container := w.container
	w.mu.Unlock()

	if !w.opts.Host.WebGL() {
		w.fail(ErrTextNoWebGL)
		return
	}

	w.mu.Lock()
	w.setStatusLocked(StatusLoading3D)
	w.mu.Unlock()

	mount, ok := container.Find(attrMount)
	if !ok {
		w.fail(ErrTextMountMissing)
		return
	}
	mount.Clear()

	r, err := w.opts.Renderer.Acquire(w.ctx, mount, w.globeOptions())
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to create globe")
		if errors.Is(err, ErrLibraryUnavailable) {
			w.fail(ErrTextLibrary)
		} else {
			w.fail(ErrTextRender)
		}
		return
	}

	w.mu.Lock()
	if w.state != Initializing {
		w.mu.Unlock()
		safely(r.Dispose)
		return
	}
	w.renderer = r
	w.state = Active
	w.clearStatusLocked()
	w.mu.Unlock()

	w.listenResize()
	w.refresh(true)
	w.startPolling()
}

func (w *Widget) globeOptions() GlobeOptions {
	opts := DefaultGlobeOptions()
	ratio := w.opts.Host.PixelRatio()
	if ratio <= 0 {
		ratio = 1
	}
	limit := 2.5
	if w.opts.Host.Touch() {
		limit = 2
	}
	opts.PixelRatio = min(limit, ratio)
	return opts
}

func (w *Widget) maxPoints() int {
	if w.opts.Host.Touch() {
		return MaxPointsTouch
	}
	return MaxPointsDesktop
}

func (w *Widget) visitorsURL() string {
	return fmt.Sprintf("%s/api/visitors/%s?limit=%d", w.cfg.APIBase, url.PathEscape(w.cfg.WidgetID), w.maxPoints())
}

// refresh fetches visitors and redraws when the point set changed. Only the
// most recent call may apply its result.
func (w *Widget) refresh(initial bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn().Interface("panic", r).Msg("Fetch visitors failed")
		}
	}()

	w.mu.Lock()
	if w.state != Active {
		w.mu.Unlock()
		return
	}
	if w.cancelFetch != nil {
		w.cancelFetch()
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancelFetch = cancel
	w.gen++
	gen := w.gen
	if initial {
		w.setStatusLocked(StatusLoadingVisitors)
	}
	w.mu.Unlock()
	defer cancel()

	data, err := w.opts.Transport.GetJSON(ctx, w.visitorsURL())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Active || gen != w.gen {
		return
	}
	w.cancelFetch = nil
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Warn().Err(err).Msg("Fetch visitors failed")
		if initial {
			w.setStatusLocked(StatusRetrying)
		}
		return
	}

	w.clearStatusLocked()
	w.setWatermarkLocked(ShowWatermark(data))

	raw, _ := data["visitors"].([]any)
	points := Normalize(raw, w.opts.Now(), w.maxPoints())

	hash := Hash(points)
	if hash != "" && hash == w.lastHash {
		return
	}
	w.lastHash = hash
	w.renderLocked(points)
}

func (w *Widget) renderLocked(points []Point) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn().Interface("panic", r).Msg("Render failed")
		}
	}()
	w.renderer.SetPoints(points)
	w.renderer.SetRings(recentOnly(points))
}

func (w *Widget) startPolling() {
	ticker := time.NewTicker(w.opts.PollInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				go w.refresh(false)
			case <-w.ctx.Done():
				return
			}
		}
	}()

	w.listen("visibilitychange", func() {
		if w.opts.Host.PageVisible() {
			w.refresh(false)
		}
	})
}

func (w *Widget) listenResize() {
	w.listen("resize", func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.state == Destroyed {
			return
		}
		if w.resizeTimer != nil {
			w.resizeTimer.Stop()
		}
		w.resizeTimer = time.AfterFunc(w.opts.ResizeDebounce, w.onResize)
	})
}

func (w *Widget) onResize() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Destroyed || w.container == nil {
		return
	}
	w.resizeTimer = nil
	w.applyResponsiveSizing(w.container)
	if w.renderer != nil {
		safely(w.renderer.Redraw)
	}
}

func (w *Widget) attachLifecycle() {
	w.listen("beforeunload", w.Destroy)
	w.listen("pagehide", w.Destroy)
}

func (w *Widget) listen(event string, fn func()) {
	remove := w.opts.Host.Listen(event, fn)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Destroyed {
		safely(remove)
		return
	}
	w.removers = append(w.removers, remove)
}

// Destroy stops polling, aborts any fetch, removes listeners and disposes
// the globe. Repeated calls are no-ops.
func (w *Widget) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Destroyed {
		return
	}
	w.state = Destroyed
	w.cancel()

	if w.resizeTimer != nil {
		w.resizeTimer.Stop()
		w.resizeTimer = nil
	}
	if w.disconnect != nil {
		safely(w.disconnect)
		w.disconnect = nil
	}
	for _, remove := range w.removers {
		safely(remove)
	}
	w.removers = nil
	if w.renderer != nil {
		safely(w.renderer.Dispose)
		w.renderer = nil
	}

	w.cancelFetch = nil
	w.container = nil
	w.statusEl = nil
	w.watermarkEl = nil
}

// fail replaces the globe with an error text.
func (w *Widget) fail(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Destroyed {
		return
	}
	w.state = Failed
	w.showErrorLocked(text)
}

func (w *Widget) setStatusLocked(text string) {
	if w.container == nil {
		return
	}
	defer recoverSilently()
	if w.statusEl == nil {
		if el, ok := w.container.Find(attrStatus); ok {
			w.statusEl = el
		} else {
			el, err := w.container.Append(attrStatus, statusCSS)
			if err != nil {
				return
			}
			w.statusEl = el
		}
	}
	w.statusEl.SetText(text)
}

func (w *Widget) clearStatusLocked() {
	if w.statusEl == nil {
		return
	}
	el := w.statusEl
	w.statusEl = nil
	safely(el.Remove)
}

func (w *Widget) showErrorLocked(text string) {
	w.clearStatusLocked()
	if w.container == nil {
		return
	}
	defer recoverSilently()
	el, ok := w.container.Find(attrError)
	if !ok {
		var err error
		if el, err = w.container.Append(attrError, errorCSS); err != nil {
			return
		}
	}
	el.SetText(text)
}

func (w *Widget) setWatermarkLocked(show bool) {
	defer recoverSilently()
	if !show {
		if w.watermarkEl != nil {
			w.watermarkEl.Remove()
			w.watermarkEl = nil
		}
		return
	}
	if w.watermarkEl != nil || w.container == nil {
		return
	}
	el, err := w.container.Append(attrWatermark, watermarkCSS)
	if err != nil {
		return
	}
	el.SetHTML(watermarkHTML)
	w.watermarkEl = el
}

// PointLabel is the hover text for a point: "city, country", HTML escaped.
func PointLabel(p Point) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{p.City, p.Country} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return `<div style="font-family:` + fontStack + `;font-size:12px;padding:4px 6px">` +
		html.EscapeString(strings.Join(parts, ", ")) + `</div>`
}

func safely(fn func()) {
	defer recoverSilently()
	fn()
}

func recoverSilently() {
	_ = recover()
}
