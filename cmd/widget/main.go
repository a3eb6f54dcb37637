//go:build js && wasm

// Command widget is the WebAssembly build of the embeddable globe. widget.js
// starts it with argv = [name, script src, data-mapmyvisitors-id, pageview],
// where pageview is "sent" once the loader's beacon was queued and "post"
// when the beacon was refused and the module must report it.
package main

import (
	"net/http"
	"os"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/widget"
)

// apiBase is set at build time: -ldflags "-X main.apiBase=https://...".
var apiBase = widget.DefaultAPIBase

func main() {
	logging.Init(logging.Config{Level: "warn", Format: "console"})

	var (
		current  *widget.Script
		pageview string
	)
	if len(os.Args) > 1 {
		current = &widget.Script{Src: os.Args[1]}
		if len(os.Args) > 2 {
			current.DataID = os.Args[2]
		}
		if len(os.Args) > 3 {
			pageview = os.Args[3]
		}
	}

	opts := widget.Options{
		Host:     widget.NewBrowserHost(current),
		Renderer: widget.NewGlobeFactory(),
		Transport: &widget.HTTPTransport{
			Header:        http.Header{"js.fetch:credentials": {"omit"}},
			KeepalivePost: widget.FetchKeepalive,
		},
		Beacon:       widget.BrowserBeacon{},
		APIBase:      apiBase,
		PageviewSent: pageview == "sent",
	}
	if pageview == "post" {
		opts.Beacon = nil
	}

	w := widget.Install(opts)
	if w == nil {
		return
	}

	// Keep the module alive for DOM callbacks until the page unloads.
	<-w.Done()
}
