package phase

import "sync/atomic"

// Holder keeps the current phase of a light. It has a single writer (the
// cycler) and any number of readers; every access is atomic so readers never
// observe a torn value.
type Holder struct {
	value atomic.Int32
}

func NewHolder(initial Phase) *Holder {
	holder := &Holder{}
	holder.Store(initial)
	return holder
}

func (holder *Holder) Load() Phase {
	return Phase(holder.value.Load())
}

func (holder *Holder) Store(phase Phase) {
	holder.value.Store(int32(phase))
}

// Flip switches the held phase and returns the new one.
func (holder *Holder) Flip() Phase {
	for {
		current := holder.value.Load()
		next := Phase(current).Next()
		if holder.value.CompareAndSwap(current, int32(next)) {
			return next
		}
	}
}
