package lifecycle

import "context"

// Hook is a named shutdown callback.
type Hook struct {
	Name string
	Fn   func(context.Context) error
}
