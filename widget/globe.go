package widget

import "time"

const (
	earthTexture      = "https://unpkg.com/three-globe@2.27.5/example/img/earth-blue-marble.jpg"
	bumpTexture       = "https://unpkg.com/three-globe@2.27.5/example/img/earth-topology.png"
	backgroundTexture = "https://unpkg.com/three-globe@2.27.5/example/img/night-sky.png"
)

// PointStyle is the visual encoding of one class of point.
type PointStyle struct {
	Radius   float64
	Altitude float64
	Color    string
}

// GlobeOptions is the fixed look of the globe. Renderers translate it into
// calls on the underlying library.
type GlobeOptions struct {
	GlobeImageURL      string
	BumpImageURL       string
	BackgroundImageURL string

	AtmosphereColor    string
	AtmosphereAltitude float64

	AutoRotateSpeed float64
	DampingFactor   float64
	PixelRatio      float64

	RecentPoint PointStyle
	OldPoint    PointStyle
	// PointsTransition animates point changes.
	PointsTransition time.Duration

	// Rings pulse around recent points. RingRGB fades from RingPeakAlpha to 0.
	RingRGB              string
	RingPeakAlpha        float64
	RingMaxRadius        float64
	RingPropagationSpeed float64
	RingRepeatPeriod     time.Duration

	Label func(Point) string
}

func DefaultGlobeOptions() GlobeOptions {
	return GlobeOptions{
		GlobeImageURL:      earthTexture,
		BumpImageURL:       bumpTexture,
		BackgroundImageURL: backgroundTexture,

		AtmosphereColor:    "#3b82f6",
		AtmosphereAltitude: 0.25,

		AutoRotateSpeed: 0.5,
		DampingFactor:   0.08,
		PixelRatio:      1,

		RecentPoint:      PointStyle{Radius: 0.4, Altitude: 0.02, Color: "#3b82f6"},
		OldPoint:         PointStyle{Radius: 0.2, Altitude: 0.01, Color: "#6b7280"},
		PointsTransition: 600 * time.Millisecond,

		RingRGB:              "59,130,246",
		RingPeakAlpha:        0.65,
		RingMaxRadius:        2.0,
		RingPropagationSpeed: 1.2,
		RingRepeatPeriod:     1800 * time.Millisecond,

		Label: PointLabel,
	}
}

// Style picks the encoding for p.
func (o GlobeOptions) Style(p Point) PointStyle {
	if p.Recent {
		return o.RecentPoint
	}
	return o.OldPoint
}
