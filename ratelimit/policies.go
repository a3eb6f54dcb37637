package ratelimit

import "time"

// KeyKind names what a policy keys on.
type KeyKind string

const (
	KeyIP     KeyKind = "ip"
	KeyWidget KeyKind = "widget"
)

type Policy struct {
	Key    KeyKind
	Max    int
	Window time.Duration
}

// Policies are the per-route limits shared by every surface of the service.
var Policies = map[string]Policy{
	"dashboard":   {Key: KeyWidget, Max: 60, Window: time.Minute},
	"recover":     {Key: KeyIP, Max: 3, Window: time.Hour},
	"signup":      {Key: KeyIP, Max: 5, Window: time.Hour},
	"license":     {Key: KeyIP, Max: 10, Window: time.Minute},
	"track":       {Key: KeyIP, Max: 10, Window: time.Minute},
	"visitors":    {Key: KeyWidget, Max: 100, Window: time.Minute},
	"admin-login": {Key: KeyIP, Max: 5, Window: time.Minute},
}

// ForPolicy builds a limiter for a named policy. It panics on an unknown
// name since policy names are compile-time constants.
func ForPolicy(name string) *Limiter {
	p, ok := Policies[name]
	if !ok {
		panic("ratelimit: unknown policy " + name)
	}
	return New(Options{Max: p.Max, Window: p.Window})
}
