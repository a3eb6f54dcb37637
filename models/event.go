package models

import (
	"time"
)

// VisitorEvent is one accepted pageview observation.
type VisitorEvent struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Country     string    `json:"country"`
	CountryCode string    `json:"countryCode"`
	City        *string   `json:"city"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	PageURL     string    `json:"pageUrl"`
	Referrer    *string   `json:"referrer,omitempty"`
	UserAgent   *string   `json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TrackRequest is the body accepted by POST /api/track.
type TrackRequest struct {
	WidgetID string `json:"widgetId" binding:"required,widgetid"`
	PageURL  string `json:"pageUrl" binding:"required,max=2048,absurl"`
	Referrer string `json:"referrer"`
}

// VisitorPoint is one entry of the visitors list returned to the widget.
type VisitorPoint struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	City      *string `json:"city"`
	Country   string  `json:"country"`
	Timestamp string  `json:"timestamp"`
	IsRecent  bool    `json:"isRecent"`
}

// VisitorsResponse is the body returned by GET /api/visitors/:widgetId.
type VisitorsResponse struct {
	Success       bool           `json:"success"`
	Paid          bool           `json:"paid"`
	ShowWatermark bool           `json:"showWatermark"`
	Visitors      []VisitorPoint `json:"visitors"`
	TotalToday    int64          `json:"totalToday"`
	ActiveNow     int64          `json:"activeNow"`
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}

type TopCountryResult struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Count       uint64 `json:"count"`
}

// ArchivedVisit is a VisitorEvent as written to the analytics archive.
type ArchivedVisit struct {
	VisitorEvent
	WidgetID string `json:"widgetId"`
}

type CountByTime struct {
	Time  time.Time `json:"time"`
	Count uint64    `json:"count"`
}
