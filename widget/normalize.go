package widget

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	RecentWindow     = 5 * time.Minute
	MaxPointsDesktop = 50
	MaxPointsTouch   = 30

	// Numeric timestamps below this are epoch seconds, the rest milliseconds.
	secondsCutoff = 2e9
)

// Accepted field names per logical field, in priority order.
var (
	latKeys     = []string{"lat", "latitude"}
	lngKeys     = []string{"lng", "lon", "longitude"}
	timeKeys    = []string{"timestamp", "ts", "created_at", "seen_at"}
	cityKeys    = []string{"city", "region", "location"}
	countryKeys = []string{"country", "country_name"}
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Point is one visitor ready for the globe.
type Point struct {
	Lat     float64
	Lng     float64
	City    string
	Country string
	// Time is zero when the record carried no usable timestamp.
	Time   time.Time
	Recent bool
}

// Normalize turns raw visitor records into points. Records without valid
// coordinates are skipped; at most limit points are kept, in input order.
func Normalize(raw []any, now time.Time, limit int) []Point {
	out := make([]Point, 0, min(len(raw), limit))
	for _, item := range raw {
		if len(out) >= limit {
			break
		}
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p, ok := normalizeOne(rec, now)
		if !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeOne(rec map[string]any, now time.Time) (Point, bool) {
	lat, ok := pickNumber(rec, latKeys)
	if !ok {
		return Point{}, false
	}
	lng, ok := pickNumber(rec, lngKeys)
	if !ok {
		return Point{}, false
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Point{}, false
	}

	p := Point{
		Lat:     lat,
		Lng:     lng,
		City:    pickString(rec, cityKeys),
		Country: pickString(rec, countryKeys),
	}
	// Untimestamped points are never recent.
	if ts, ok := pickTimestamp(rec, timeKeys); ok {
		p.Time = ts
		p.Recent = now.Sub(ts) < RecentWindow
	}
	return p, true
}

func pickNumber(rec map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, present := rec[k]
		if !present {
			continue
		}
		if f, ok := toNumber(v); ok {
			return f, true
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func pickString(rec map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func pickTimestamp(rec map[string]any, keys []string) (time.Time, bool) {
	for _, k := range keys {
		v, present := rec[k]
		if !present {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if t, ok := parseDate(s); ok {
				return t, true
			}
		}
		if f, ok := toNumber(v); ok {
			return fromEpoch(f), true
		}
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if f > 0 && f < secondsCutoff {
		f *= 1000
	}
	return time.UnixMilli(int64(f))
}

// Hash is an order-preserving digest of the points as drawn: coordinates
// rounded to 3 decimals plus the recency flag.
func Hash(points []Point) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.FormatFloat(round3(p.Lat), 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(round3(p.Lng), 'f', -1, 64))
		if p.Recent {
			b.WriteString(",1")
		} else {
			b.WriteString(",0")
		}
	}
	return b.String()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// ShowWatermark decides the badge from a visitors response. An explicit
// showWatermark wins, then paid == true hides it; anything else shows it.
func ShowWatermark(resp map[string]any) bool {
	if show, ok := resp["showWatermark"].(bool); ok {
		return show
	}
	if paid, ok := resp["paid"].(bool); ok && paid {
		return false
	}
	return true
}

// recentOnly returns the points that get a pulsing ring.
func recentOnly(points []Point) []Point {
	var rings []Point
	for _, p := range points {
		if p.Recent {
			rings = append(rings, p)
		}
	}
	return rings
}
