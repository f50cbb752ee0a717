// Package search talks to the external product-search provider.
package search

import "context"

type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
)

// ParseDevice maps a config value onto a Device, defaulting to desktop.
func ParseDevice(s string) Device {
	if Device(s) == DeviceMobile {
		return DeviceMobile
	}
	return DeviceDesktop
}

type Query struct {
	Text     string
	Device   Device
	Location string // optional
	Num      int    // optional result count hint
}

// ProductListing is a provider result with every optional field already
// defaulted: zero rating/reviews/price when absent, empty Link when the
// provider gave no seller URL.
type ProductListing struct {
	ID        string
	Source    string
	Title     string
	Thumbnail string
	Price     float64
	Link      string
	Rating    float64
	Reviews   int
}

// Provider runs one product query. Transport and provider-side failures are
// returned as errors.
type Provider interface {
	Search(ctx context.Context, q Query) ([]ProductListing, error)
}
