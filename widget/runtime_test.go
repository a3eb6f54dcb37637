package widget

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const testWidgetID = "abcDEF123_-x"

type testEnv struct {
	host      *fakeHost
	factory   *fakeFactory
	renderer  *fakeRenderer
	transport *fakeTransport
	beacon    Beaconer
	// pageviewSent mirrors a loader that already queued the beacon.
	pageviewSent bool

	mu   sync.Mutex
	resp map[string]any
}

func newTestEnv() *testEnv {
	e := &testEnv{
		host:     newFakeHost(),
		renderer: &fakeRenderer{},
		resp:     map[string]any{"success": true, "showWatermark": true, "visitors": []any{}},
	}
	e.host.current = &Script{Src: "https://mapmyvisitors.com/widget/widget.js?id=" + testWidgetID}
	e.factory = &fakeFactory{renderer: e.renderer}
	e.transport = newFakeTransport(nil)
	e.transport.get = func(context.Context, int) (map[string]any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.resp, nil
	}
	return e
}

func (e *testEnv) setResponse(resp map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resp = resp
}

func (e *testEnv) install(t *testing.T) *Widget {
	t.Helper()
	w := Install(Options{
		Host:            e.host,
		Renderer:        e.factory,
		Transport:       e.transport,
		Beacon:          e.beacon,
		PageviewSent:    e.pageviewSent,
		APIBase:         "https://mapmyvisitors.com",
		PollInterval:    time.Hour,
		TrackRetryDelay: 5 * time.Millisecond,
		ResizeDebounce:  20 * time.Millisecond,
		Now:             func() time.Time { return testNow },
	})
	if w != nil {
		t.Cleanup(w.Destroy)
	}
	return w
}

// activate installs the widget and scrolls it into view.
func (e *testEnv) activate(t *testing.T) *Widget {
	t.Helper()
	w := e.install(t)
	if w == nil {
		t.Fatal("Install returned nil")
	}
	e.host.scrollIntoView()
	if s := w.State(); s != Active {
		t.Fatalf("expected active widget, got %s", s)
	}
	return w
}

func visitor(lat, lng float64, age time.Duration) map[string]any {
	return map[string]any{"lat": lat, "lng": lng, "timestamp": testNow.Add(-age).Format(time.RFC3339)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestInstall_InvalidWidgetIDAborts(t *testing.T) {
	e := newTestEnv()
	e.host.current = &Script{Src: "https://mapmyvisitors.com/widget/widget.js?id=tooShort"}

	if w := e.install(t); w != nil {
		t.Fatal("expected Install to abort")
	}
	if len(e.host.container.children) != 0 {
		t.Error("aborted install must not touch the page")
	}
	if len(e.transport.posts) != 0 {
		t.Error("aborted install must not report a pageview")
	}
}

func TestInstall_ContainerFailureAborts(t *testing.T) {
	e := newTestEnv()
	e.host.containerErr = fmt.Errorf("no body")
	if w := e.install(t); w != nil {
		t.Fatal("expected Install to abort")
	}
}

func TestInstall_ReportsPageview(t *testing.T) {
	e := newTestEnv()
	e.host.referrer = ""
	e.install(t)

	select {
	case <-e.transport.posted:
	case <-time.After(2 * time.Second):
		t.Fatal("pageview was not reported")
	}

	e.transport.mu.Lock()
	defer e.transport.mu.Unlock()
	if e.transport.postURLs[0] != "https://mapmyvisitors.com/api/track" {
		t.Errorf("unexpected track URL %q", e.transport.postURLs[0])
	}
	var body map[string]any
	if err := json.Unmarshal(e.transport.posts[0], &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["widgetId"] != testWidgetID || body["pageUrl"] != "https://customer.example/pricing" {
		t.Errorf("unexpected body %v", body)
	}
	if ref, ok := body["referrer"]; !ok || ref != nil {
		t.Errorf("empty referrer must be sent as null, got %v", body["referrer"])
	}
}

func TestInstall_PrefersBeacon(t *testing.T) {
	e := newTestEnv()
	b := &fakeBeacon{ok: true, sent: make(chan struct{}, 1)}
	e.beacon = b
	e.host.referrer = "https://news.example/"
	e.install(t)

	select {
	case <-b.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("beacon was not sent")
	}
	if !strings.Contains(string(b.bodies[0]), `"referrer":"https://news.example/"`) {
		t.Errorf("unexpected beacon body %s", b.bodies[0])
	}
	if len(e.transport.posts) != 0 {
		t.Error("a queued beacon must not be followed by a POST")
	}
}

func TestInstall_SkipsPageviewSentByLoader(t *testing.T) {
	e := newTestEnv()
	b := &fakeBeacon{ok: true, sent: make(chan struct{}, 1)}
	e.beacon = b
	e.pageviewSent = true
	e.activate(t)

	select {
	case <-b.sent:
		t.Fatal("a pageview already sent by the loader must not be beaconed again")
	case <-e.transport.posted:
		t.Fatal("a pageview already sent by the loader must not be posted again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_RetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantPosts int
	}{
		{"success", nil, 1},
		{"one failure", []error{errOffline}, 2},
		{"two failures give up", []error{errOffline, errOffline}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport(nil)
			tr.postErrs = tt.errs
			tk := &tracker{url: "https://api.test/api/track", transport: tr, retryDelay: time.Millisecond, log: zerolog.Nop()}

			tk.report(context.Background(), testWidgetID, "https://customer.example/", "")
			if len(tr.posts) != tt.wantPosts {
				t.Fatalf("expected %d posts, got %d", tt.wantPosts, len(tr.posts))
			}
		})
	}
}

func TestTracker_FallsBackWhenBeaconRefused(t *testing.T) {
	tr := newFakeTransport(nil)
	tk := &tracker{url: "https://api.test/api/track", transport: tr, beacon: &fakeBeacon{ok: false}, retryDelay: time.Millisecond, log: zerolog.Nop()}
	tk.report(context.Background(), testWidgetID, "https://customer.example/", "")
	if len(tr.posts) != 1 {
		t.Fatalf("expected fallback POST, got %d", len(tr.posts))
	}
}

func TestWidget_DefersUntilVisible(t *testing.T) {
	e := newTestEnv()
	w := e.install(t)

	if s := w.State(); s != AwaitingVisibility {
		t.Fatalf("expected awaiting visibility, got %s", s)
	}
	if got := e.host.container.textOf(attrStatus); got != StatusLoadingGlobe {
		t.Errorf("status = %q, want %q", got, StatusLoadingGlobe)
	}
	if _, ok := e.host.container.Find(attrMount); !ok {
		t.Error("mount element missing")
	}
	if e.factory.calls != 0 || e.transport.gets() != 0 {
		t.Fatal("nothing heavy may happen before the widget is visible")
	}

	e.host.scrollIntoView()

	if s := w.State(); s != Active {
		t.Fatalf("expected active, got %s", s)
	}
	if e.factory.calls != 1 || e.renderer.renders() != 1 {
		t.Errorf("expected one globe and one render, got %d/%d", e.factory.calls, e.renderer.renders())
	}
	if e.host.disconnects != 1 {
		t.Errorf("observer should disconnect once visible, got %d", e.host.disconnects)
	}
	if got := e.host.container.textOf(attrStatus); got != "" {
		t.Errorf("status overlay should be cleared, got %q", got)
	}
	if want := "https://mapmyvisitors.com/api/visitors/" + testWidgetID + "?limit=50"; e.transport.getURLs[0] != want {
		t.Errorf("fetched %q, want %q", e.transport.getURLs[0], want)
	}

	// A second visibility callback does not rebuild the globe.
	e.host.scrollIntoView()
	if e.factory.calls != 1 {
		t.Errorf("globe built %d times", e.factory.calls)
	}
}

func TestWidget_InitsWithoutVisibilityObserver(t *testing.T) {
	e := newTestEnv()
	e.host.observerSupported = false
	w := e.install(t)

	waitFor(t, "activation", func() bool { return w.State() == Active })
}

func TestWidget_SamePointsRenderOnce(t *testing.T) {
	e := newTestEnv()
	e.setResponse(map[string]any{"showWatermark": false, "visitors": []any{visitor(48.85, 2.35, time.Hour)}})
	w := e.activate(t)

	w.refresh(false)
	w.refresh(false)
	if got := e.renderer.renders(); got != 1 {
		t.Fatalf("expected a single render for an unchanged point set, got %d", got)
	}

	e.setResponse(map[string]any{"showWatermark": false, "visitors": []any{
		visitor(48.85, 2.35, time.Hour),
		visitor(35.68, 139.69, time.Minute),
	}})
	w.refresh(false)
	if got := e.renderer.renders(); got != 2 {
		t.Fatalf("expected a render after the point set changed, got %d", got)
	}
	if rings := e.renderer.rings[1]; len(rings) != 1 || rings[0].Lat != 35.68 {
		t.Errorf("expected one ring for the recent visitor, got %+v", rings)
	}
}

func TestWidget_WatermarkFailsClosed(t *testing.T) {
	e := newTestEnv()
	e.setResponse(map[string]any{"visitors": []any{}})
	w := e.activate(t)

	badge, ok := e.host.container.Find(attrWatermark)
	if !ok {
		t.Fatal("watermark must show when the response omits showWatermark and paid")
	}
	if !strings.Contains(badge.(*fakeElement).html, "Powered by") {
		t.Errorf("unexpected badge %q", badge.(*fakeElement).html)
	}

	e.setResponse(map[string]any{"paid": true, "visitors": []any{}})
	w.refresh(false)
	if _, ok := e.host.container.Find(attrWatermark); ok {
		t.Fatal("paid response without showWatermark should hide the badge")
	}

	e.setResponse(map[string]any{"showWatermark": true, "paid": true})
	w.refresh(false)
	w.refresh(false)
	count := 0
	for _, c := range e.host.container.children {
		if c.attr == attrWatermark {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one badge, got %d", count)
	}
}

func TestWidget_NoWebGL(t *testing.T) {
	e := newTestEnv()
	e.host.webgl = false
	w := e.install(t)
	e.host.scrollIntoView()

	if s := w.State(); s != Failed {
		t.Fatalf("expected failed, got %s", s)
	}
	if got := e.host.container.textOf(attrError); got != ErrTextNoWebGL {
		t.Errorf("error text = %q", got)
	}
	if e.factory.calls != 0 || e.transport.gets() != 0 {
		t.Error("no globe or fetch without WebGL")
	}
}

func TestWidget_RendererFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		panicMsg string
		want     string
	}{
		{"library unavailable", fmt.Errorf("script error: %w", ErrLibraryUnavailable), "", ErrTextLibrary},
		{"globe construction", fmt.Errorf("bad canvas"), "", ErrTextRender},
		{"panic is contained", nil, "boom", ErrTextInit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv()
			e.factory.err = tt.err
			e.factory.panicMsg = tt.panicMsg
			w := e.install(t)
			e.host.scrollIntoView()

			if s := w.State(); s != Failed {
				t.Fatalf("expected failed, got %s", s)
			}
			if got := e.host.container.textOf(attrError); got != tt.want {
				t.Errorf("error text = %q, want %q", got, tt.want)
			}
			if got := e.host.container.textOf(attrStatus); got != "" {
				t.Errorf("status overlay should be cleared, got %q", got)
			}
		})
	}
}

func TestWidget_InitialFetchFailureShowsRetrying(t *testing.T) {
	e := newTestEnv()
	e.transport.get = func(context.Context, int) (map[string]any, error) { return nil, errOffline }
	w := e.activate(t)

	if got := e.host.container.textOf(attrStatus); got != StatusRetrying {
		t.Fatalf("status = %q, want %q", got, StatusRetrying)
	}
	if e.renderer.renders() != 0 {
		t.Error("nothing to render after a failed fetch")
	}

	e.transport.get = func(context.Context, int) (map[string]any, error) {
		return map[string]any{"visitors": []any{visitor(1, 1, time.Hour)}}, nil
	}
	w.refresh(false)
	if got := e.host.container.textOf(attrStatus); got != "" {
		t.Errorf("status should clear after a successful poll, got %q", got)
	}
	if e.renderer.renders() != 1 {
		t.Error("expected a render once the API answers")
	}
}

func TestWidget_NewFetchCancelsInFlight(t *testing.T) {
	e := newTestEnv()
	started := make(chan struct{})
	firstErr := make(chan error, 1)
	e.transport.get = func(ctx context.Context, n int) (map[string]any, error) {
		if n == 1 {
			close(started)
			<-ctx.Done()
			firstErr <- ctx.Err()
			return nil, ctx.Err()
		}
		return map[string]any{"visitors": []any{visitor(10, 20, time.Minute)}}, nil
	}
	w := e.install(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.host.scrollIntoView()
	}()
	<-started

	w.refresh(false)

	select {
	case err := <-firstErr:
		if err != context.Canceled {
			t.Errorf("expected the first fetch to be canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first fetch was not canceled")
	}
	<-done

	if got := e.renderer.renders(); got != 1 {
		t.Errorf("expected one render, got %d", got)
	}
	if got := e.host.container.textOf(attrStatus); got != "" {
		t.Errorf("a canceled fetch must not leave a status, got %q", got)
	}
}

func TestWidget_RefreshOnVisibilityRegain(t *testing.T) {
	e := newTestEnv()
	e.activate(t)

	e.host.fire("visibilitychange")
	if got := e.transport.gets(); got != 2 {
		t.Fatalf("expected a refresh on tab focus, got %d fetches", got)
	}

	e.host.visible = false
	e.host.fire("visibilitychange")
	if got := e.transport.gets(); got != 2 {
		t.Fatalf("hidden page must not refresh, got %d fetches", got)
	}
}

func TestWidget_PollsOnInterval(t *testing.T) {
	e := newTestEnv()
	w := Install(Options{
		Host:         e.host,
		Renderer:     e.factory,
		Transport:    e.transport,
		PollInterval: 10 * time.Millisecond,
		Now:          func() time.Time { return testNow },
	})
	defer w.Destroy()
	e.host.scrollIntoView()

	waitFor(t, "polling", func() bool { return e.transport.gets() >= 3 })
}

func TestWidget_DestroyIsIdempotent(t *testing.T) {
	e := newTestEnv()
	w := e.activate(t)

	w.Destroy()
	w.Destroy()
	e.host.fire("pagehide")

	if s := w.State(); s != Destroyed {
		t.Fatalf("expected destroyed, got %s", s)
	}
	if e.renderer.disposed != 1 {
		t.Errorf("renderer disposed %d times", e.renderer.disposed)
	}
	for _, ev := range []string{"resize", "visibilitychange", "beforeunload", "pagehide"} {
		if e.host.listening(ev) {
			t.Errorf("%s listener still attached", ev)
		}
	}

	before := e.transport.gets()
	w.refresh(false)
	if e.transport.gets() != before {
		t.Error("destroyed widget must not fetch")
	}
}

func TestWidget_PagehideDestroys(t *testing.T) {
	e := newTestEnv()
	w := e.install(t)

	e.host.fire("pagehide")
	if s := w.State(); s != Destroyed {
		t.Fatalf("expected destroyed, got %s", s)
	}

	// Becoming visible afterwards does nothing.
	e.host.scrollIntoView()
	if e.factory.calls != 0 {
		t.Error("destroyed widget must not build a globe")
	}
}

func TestWidget_ResponsiveSizing(t *testing.T) {
	tests := []struct {
		viewport int
		height   string
		margin   string
		radius   string
	}{
		{380, "420px", "12px auto", "14px"},
		{500, "520px", "16px auto", "16px"},
		{1280, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.viewport), func(t *testing.T) {
			e := newTestEnv()
			e.host.viewport = tt.viewport
			e.host.container.width = 600
			e.install(t)

			style := e.host.container.style
			if style["height"] != tt.height || style["margin"] != tt.margin || style["border-radius"] != tt.radius {
				t.Fatalf("unexpected style %v", style)
			}
		})
	}
}

func TestWidget_ResizeIsDebounced(t *testing.T) {
	e := newTestEnv()
	e.activate(t)

	e.host.fire("resize")
	e.host.fire("resize")
	e.host.fire("resize")

	waitFor(t, "redraw", func() bool {
		e.renderer.mu.Lock()
		defer e.renderer.mu.Unlock()
		return e.renderer.redraws == 1
	})
	time.Sleep(60 * time.Millisecond)

	e.renderer.mu.Lock()
	defer e.renderer.mu.Unlock()
	if e.renderer.redraws != 1 {
		t.Fatalf("expected one redraw for a burst of resizes, got %d", e.renderer.redraws)
	}
}

func TestWidget_DeviceClassLimits(t *testing.T) {
	tests := []struct {
		touch     bool
		ratio     float64
		wantRatio float64
		wantLimit string
	}{
		{false, 3, 2.5, "limit=50"},
		{true, 3, 2, "limit=30"},
		{false, 0, 1, "limit=50"},
	}
	for _, tt := range tests {
		e := newTestEnv()
		e.host.touch = tt.touch
		e.host.ratio = tt.ratio
		e.activate(t)

		if e.factory.opts.PixelRatio != tt.wantRatio {
			t.Errorf("touch=%v ratio=%v: pixel ratio %v, want %v", tt.touch, tt.ratio, e.factory.opts.PixelRatio, tt.wantRatio)
		}
		if !strings.HasSuffix(e.transport.getURLs[0], tt.wantLimit) {
			t.Errorf("touch=%v: fetched %q", tt.touch, e.transport.getURLs[0])
		}
	}
}

func TestWidget_APIBaseFollowsOriginRule(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		location string
		want     string
	}{
		{"same origin dev server", "/widget/widget.js?id=" + testWidgetID, "http://localhost:3000/demo", "http://localhost:3000/api/"},
		{"cross origin embed", "https://mapmyvisitors.com/widget/widget.js?id=" + testWidgetID, "https://evil.example/", "https://mapmyvisitors.com/api/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv()
			e.host.current = &Script{Src: tt.src}
			e.host.location = tt.location
			e.activate(t)

			if !strings.HasPrefix(e.transport.getURLs[0], tt.want) {
				t.Errorf("visitors fetched from %q, want prefix %q", e.transport.getURLs[0], tt.want)
			}
			<-e.transport.posted
			e.transport.mu.Lock()
			defer e.transport.mu.Unlock()
			if !strings.HasPrefix(e.transport.postURLs[0], tt.want) {
				t.Errorf("pageview sent to %q, want prefix %q", e.transport.postURLs[0], tt.want)
			}
		})
	}
}
