package tcache

// Iterator walks a weakly-consistent snapshot of the cache's contents
// taken at the moment Iterator() was called. It never observes writes
// made after that moment and never blocks them.
type Iterator struct {
	keys []string
	vals map[string]any
	pos  int
}

func newIterator(snapshot map[string]any) *Iterator {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	return &Iterator{keys: keys, vals: snapshot, pos: -1}
}

// Next advances the iterator and reports whether a value is available.
func (it *Iterator) Next() bool {
	if it.pos+1 >= len(it.keys) {
		return false
	}
	it.pos++
	return true
}

// Key returns the current entry's key. Valid only after a call to Next
// that returned true.
func (it *Iterator) Key() string { return it.keys[it.pos] }

// Value returns the current entry's value. Valid only after a call to
// Next that returned true.
func (it *Iterator) Value() any { return it.vals[it.keys[it.pos]] }
