package widget

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const DefaultTrackRetryDelay = 2 * time.Second

type trackPayload struct {
	WidgetID string  `json:"widgetId"`
	PageURL  string  `json:"pageUrl"`
	Referrer *string `json:"referrer"`
}

// tracker reports a single pageview: beacon first, then a POST with one
// delayed retry. Failures are logged and dropped.
type tracker struct {
	url        string
	transport  Transport
	beacon     Beaconer
	retryDelay time.Duration
	log        zerolog.Logger
}

func (t *tracker) report(ctx context.Context, widgetID, pageURL, referrer string) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn().Interface("panic", r).Msg("Track failed")
		}
	}()

	p := trackPayload{WidgetID: widgetID, PageURL: pageURL}
	if referrer != "" {
		p.Referrer = &referrer
	}
	body, err := json.Marshal(p)
	if err != nil {
		return
	}

	if t.beacon != nil && t.beacon.SendBeacon(t.url, body) {
		return
	}

	err = t.transport.PostJSON(ctx, t.url, body)
	if err == nil {
		return
	}
	t.log.Warn().Err(err).Msg("Track failed, retrying once")

	timer := time.NewTimer(t.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	if err := t.transport.PostJSON(ctx, t.url, body); err != nil {
		t.log.Debug().Err(err).Msg("Track retry failed")
	}
}
