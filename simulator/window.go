// Package simulator provides an in-memory presentation stack and a scripted
// workout engine, used by the CLI and end-to-end tests in place of a device.
package simulator

import (
	"sync"
	"time"

	sonarfit "github.com/goliatone/go-sonarfit"
)

// Window owns a stack of views. Only the key window hands out anchors.
type Window struct {
	mu           sync.Mutex
	root         *View
	key          bool
	dismissDelay time.Duration
}

type WindowOption func(*Window)

// WithDismissDelay makes dismissals complete asynchronously after d.
func WithDismissDelay(d time.Duration) WindowOption {
	return func(w *Window) {
		w.dismissDelay = d
	}
}

// NewWindow creates a key window with a root view named rootName.
func NewWindow(rootName string, opts ...WindowOption) *Window {
	w := &Window{key: true}
	w.root = &View{name: rootName, window: w}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

var _ sonarfit.AnchorSource = (*Window)(nil)

// KeyAnchor implements sonarfit.AnchorSource.
func (w *Window) KeyAnchor() sonarfit.Anchor {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.key || w.root == nil {
		return nil
	}
	return w.root
}

// SetKey toggles whether the window is the key window.
func (w *Window) SetKey(key bool) {
	w.mu.Lock()
	w.key = key
	w.mu.Unlock()
}

func (w *Window) Root() *View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Stack lists view names from the root to the topmost view.
func (w *Window) Stack() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var names []string
	for v := w.root; v != nil; v = v.presented {
		names = append(names, v.name)
	}
	return names
}

// View is one presented surface.
type View struct {
	name      string
	window    *Window
	parent    *View
	presented *View
}

var _ sonarfit.Anchor = (*View)(nil)

func (v *View) Name() string {
	return v.name
}

// Presented implements sonarfit.Anchor.
func (v *View) Presented() sonarfit.Anchor {
	v.window.mu.Lock()
	defer v.window.mu.Unlock()
	if v.presented == nil {
		return nil
	}
	return v.presented
}

// Present shows a new view on top of v, replacing anything v presented.
func (v *View) Present(name string) *View {
	v.window.mu.Lock()
	defer v.window.mu.Unlock()
	child := &View{name: name, window: v.window, parent: v}
	v.presented = child
	return child
}

// Dismiss removes whatever v presents. A view presenting nothing dismisses
// itself from its parent. done runs once the stack changed.
func (v *View) Dismiss(done func(error)) {
	apply := func() {
		v.window.mu.Lock()
		switch {
		case v.presented != nil:
			v.presented = nil
		case v.parent != nil:
			v.parent.presented = nil
		}
		v.window.mu.Unlock()
		if done != nil {
			done(nil)
		}
	}

	if delay := v.window.dismissDelay; delay > 0 {
		time.AfterFunc(delay, apply)
		return
	}
	apply()
}
