package models

import "time"

// Account is the paying customer a widget id belongs to. Only the fields the
// tracking core needs are mapped.
type Account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	WidgetID         string    `json:"widgetId"`
	Paid             bool      `json:"paid"`
	WatermarkRemoved bool      `json:"watermarkRemoved"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ShowWatermark is the watermark policy the visitors endpoint hands to the widget.
func (a *Account) ShowWatermark() bool {
	return !a.WatermarkRemoved
}

type CreateAccountRequest struct {
	Email string `json:"email" binding:"required,email,max=320"`
}

type UpdateAccountRequest struct {
	Paid             *bool `json:"paid"`
	WatermarkRemoved *bool `json:"watermarkRemoved"`
}

type AdminLoginRequest struct {
	Key string `json:"key" binding:"required,min=8"`
}
