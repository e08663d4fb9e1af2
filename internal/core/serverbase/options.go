// SPDX-License-Identifier: MPL-2.0

package serverbase

// Option configures a Base instance.
type Option func(*Base)

// WithErrorBuffer sets the capacity of the asynchronous error channel.
// The default is 1.
func WithErrorBuffer(size int) Option {
	return func(b *Base) {
		if size < 0 {
			size = 0
		}
		b.errCh = make(chan error, size)
	}
}

// WithName sets the component name used in state errors.
func WithName(name string) Option {
	return func(b *Base) {
		b.name = name
	}
}
