package sonarfit

import "reflect"

// Anchor is a presentation surface able to host the engine's modal UI.
type Anchor interface {
	// Presented returns the surface currently shown on top of this one, or nil.
	Presented() Anchor
	// Dismiss tears down whatever this anchor presents. done is called once
	// the teardown finished, with a non-nil error if it failed.
	Dismiss(done func(error))
}

// AnchorSource exposes the root surface of the key window, if any.
type AnchorSource interface {
	KeyAnchor() Anchor
}

// AnchorSourceFunc adapts a function to AnchorSource.
type AnchorSourceFunc func() Anchor

func (f AnchorSourceFunc) KeyAnchor() Anchor {
	return f()
}

// maxAnchorDepth bounds the walk over a malformed (cyclic) presentation chain.
const maxAnchorDepth = 64

// ResolveAnchor returns the topmost surface of the key window. A prior modal
// may already be showing, so the presentation chain is walked to its end.
func ResolveAnchor(src AnchorSource) (Anchor, error) {
	if src == nil {
		return nil, NoAnchor()
	}
	root := src.KeyAnchor()
	if isNilAnchor(root) {
		return nil, NoAnchor()
	}
	return Topmost(root), nil
}

// Topmost follows Presented from anchor until the last surface.
func Topmost(anchor Anchor) Anchor {
	current := anchor
	for i := 0; i < maxAnchorDepth; i++ {
		next := current.Presented()
		if isNilAnchor(next) {
			return current
		}
		current = next
	}
	return current
}

func isNilAnchor(a Anchor) bool {
	if a == nil {
		return true
	}
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
