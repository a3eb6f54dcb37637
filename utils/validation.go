package utils

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	WidgetIDLength = 12
	MaxPageURLLen  = 2048
	widgetAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
)

var widgetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)

// IsValidWidgetID reports whether id has the public widget token shape.
func IsValidWidgetID(id string) bool {
	return widgetIDPattern.MatchString(id)
}

// IsValidPageURL accepts absolute URLs of at most 2048 characters.
func IsValidPageURL(raw string) bool {
	if raw == "" || len(raw) > MaxPageURLLen {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && (u.Host != "" || u.Opaque != "")
}

// GenerateWidgetID returns a random 12-character id over the widget alphabet.
func GenerateWidgetID() (string, error) {
	b := make([]byte, WidgetIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// 64-symbol alphabet, so the low six bits map uniformly.
	for i := range b {
		b[i] = widgetAlphabet[b[i]&63]
	}
	return string(b), nil
}

var registerOnce sync.Once

// RegisterValidators adds the widgetid and absurl tags to gin's validator engine.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("widgetid", func(fl validator.FieldLevel) bool {
			return IsValidWidgetID(fl.Field().String())
		})
		_ = v.RegisterValidation("absurl", func(fl validator.FieldLevel) bool {
			return IsValidPageURL(fl.Field().String())
		})
	})
}
