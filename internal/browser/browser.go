// Package browser defines the boundary to the driven browser. One Tab is
// owned by exactly one worker goroutine; instances and tabs are never shared
// across goroutines.
package browser

import (
	"context"
	"time"
)

// Rect is an element's bounding box in page coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Tab is a single page the flow executor drives. Every method is a bounded
// operation: it either completes within the deadline carried by ctx (or the
// explicit timeout parameter) or returns an error. No method blocks
// indefinitely.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// WaitVisible blocks until the selector is visible or the timeout expires.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// Exists probes for selector presence within the timeout without erroring
	// on absence.
	Exists(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	Bounds(ctx context.Context, selector string) (Rect, error)
	MoveMouse(ctx context.Context, x, y float64) error
	ClickAt(ctx context.Context, x, y float64) error
	Cookie(ctx context.Context, name string) (string, error)
	Close() error
}

// Instance is a heavyweight browser process hosting one or more tabs. In
// hierarchical scheduling each instance serves several workers, one tab each.
type Instance interface {
	NewTab(ctx context.Context) (Tab, error)
	// Close force-terminates the process without draining open tabs.
	Close() error
}

// Launcher creates browser instances. The flat scheduler launches one
// instance per task; the hierarchical scheduler launches a bounded set
// up front.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
}
