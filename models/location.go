package models

// Location is the result of resolving an IP address.
type Location struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	City        *string `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// UnknownLocation is used for private addresses and failed lookups.
func UnknownLocation() Location {
	return Location{Country: "Unknown", CountryCode: "XX"}
}
