package bytecode

// ExtraKey identifies the owner of a chunk's extra-data slot. Keys compare by
// pointer identity, so two keys with the same name are still distinct owners.
type ExtraKey struct {
	name string
}

// NewExtraKey creates a new owner key. The name is only used in diagnostics.
func NewExtraKey(name string) *ExtraKey {
	return &ExtraKey{name: name}
}

// String returns the key's diagnostic name.
func (k *ExtraKey) String() string {
	if k == nil {
		return "<none>"
	}
	return k.name
}

// Releaser is implemented by extra-data values that hold resources.
// Release is called exactly once, when the value leaves the slot.
type Releaser interface {
	Release()
}

// Extra returns the slot contents, or (nil, nil) when the slot is empty.
func (c *Chunk) Extra() (*ExtraKey, any) {
	return c.extraKey, c.extra
}

// ExtraFor returns the value stored under key. ok is false when the slot is
// empty or is owned by a different key.
func (c *Chunk) ExtraFor(key *ExtraKey) (value any, ok bool) {
	if key == nil || c.extraKey != key {
		return nil, false
	}
	return c.extra, true
}

// SetExtra replaces the slot contents, releasing the previous value.
// SetExtra(nil, nil) empties the slot.
//
// Callers must hold the global execution lock; the slot is not synchronized.
func (c *Chunk) SetExtra(key *ExtraKey, value any) {
	prev := c.extra
	c.extraKey, c.extra = key, value
	if r, ok := prev.(Releaser); ok && !sameValue(prev, value) {
		r.Release()
	}
}

// Close releases the extra-data slot. The chunk must not be executed afterwards.
func (c *Chunk) Close() {
	c.SetExtra(nil, nil)
}

// sameValue reports whether storing value over prev is a no-op for the
// purposes of release. Non-comparable values are never the same.
func sameValue(prev, value any) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return prev == value
}
