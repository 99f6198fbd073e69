package sample

// DefaultCapacity is the number of samples retained per target.
const DefaultCapacity = 300

// Store is a fixed capacity ring of samples for a single target. The oldest
// sample is evicted once the ring is full.
//
// A Store is not safe for concurrent use, it belongs to whichever goroutine
// ingests samples for its target.
type Store struct {
	buf   []Sample
	start int
	size  int
}

// NewStore returns an empty store holding at most capacity samples.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]Sample, capacity)}
}

// Append pushes s to the end, dropping the oldest sample on overflow.
func (st *Store) Append(s Sample) {
	if st.size < len(st.buf) {
		st.buf[(st.start+st.size)%len(st.buf)] = s
		st.size++
		return
	}
	st.buf[st.start] = s
	st.start = (st.start + 1) % len(st.buf)
}

// Len is the number of stored samples.
func (st *Store) Len() int { return st.size }

// Cap is the configured capacity.
func (st *Store) Cap() int { return len(st.buf) }

// At returns the i-th oldest sample. Negative indexes count from the newest.
func (st *Store) At(i int) (Sample, bool) {
	if i < 0 {
		i += st.size
	}
	if i < 0 || i >= st.size {
		return Sample{}, false
	}
	return st.buf[(st.start+i)%len(st.buf)], true
}

// Samples returns a copy of the stored samples, oldest first.
func (st *Store) Samples() []Sample {
	out := make([]Sample, st.size)
	for i := range out {
		out[i] = st.buf[(st.start+i)%len(st.buf)]
	}
	return out
}

// Latencies returns the latency sequence oldest first with failures as zero.
func (st *Store) Latencies() []float64 {
	out := make([]float64, st.size)
	for i := range out {
		out[i] = st.buf[(st.start+i)%len(st.buf)].Value()
	}
	return out
}

// Reset empties the store.
func (st *Store) Reset() {
	for i := range st.buf {
		st.buf[i] = Sample{}
	}
	st.start, st.size = 0, 0
}
