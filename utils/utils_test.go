package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIsValidWidgetID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abcDEF123_-x", true},
		{"AAAAAAAAAAAA", true},
		{"abcDEF123_-", false},   // 11 chars
		{"abcDEF123_-xy", false}, // 13 chars
		{"abcDEF123_-!", false},
		{"abc DEF123_-", false},
		{"", false},
		{"ÀbcDEF123_-x", false},
	}
	for _, tt := range tests {
		if got := IsValidWidgetID(tt.id); got != tt.want {
			t.Errorf("IsValidWidgetID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestIsValidPageURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"https", "https://example.com/path?q=1", true},
		{"http with port", "http://localhost:3000/", true},
		{"relative", "/just/a/path", false},
		{"no scheme", "example.com", false},
		{"empty", "", false},
		{"too long", "https://example.com/" + strings.Repeat("a", 2048), false},
		{"exactly max", "https://e.co/" + strings.Repeat("a", 2048-len("https://e.co/")), true},
	}
	for _, tt := range tests {
		if got := IsValidPageURL(tt.url); got != tt.want {
			t.Errorf("%s: IsValidPageURL = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGenerateWidgetID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateWidgetID()
		if err != nil {
			t.Fatalf("GenerateWidgetID: %v", err)
		}
		if !IsValidWidgetID(id) {
			t.Fatalf("generated id %q is not a valid widget id", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Errorf("expected ids to be unique, got %d distinct of 100", len(seen))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.2"}, "203.0.113.7"},
		{"with port", map[string]string{"X-Real-IP": "198.51.100.2:5555"}, "198.51.100.2"},
		{"none", nil, "127.0.0.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("POST", "/api/track", nil)
		for k, v := range tt.headers {
			req.Header.Set(k, v)
		}
		if got := ClientIP(req); got != tt.want {
			t.Errorf("%s: ClientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMonthStart(t *testing.T) {
	// 23:30 on Jan 31 in UTC-5 is already Feb 1 in UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2026, time.January, 31, 23, 30, 0, 0, loc)
	if got := MonthStart(ts); got != "2026-02-01" {
		t.Errorf("MonthStart = %q, want 2026-02-01", got)
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, time.March, 3, 1, 0, 0, 0, time.UTC)
	got := StartOfDay(ts, loc)
	want := time.Date(2026, time.March, 3, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("StartOfDay = %v, want %v", got, want)
	}
}
