package decision

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf   []Decision
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Decision, capacity)}
}

func (r *ring) push(d Decision) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = d
		r.n++
		return
	}
	r.buf[r.start] = d
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Decision {
	out := make([]Decision, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) last() (Decision, bool) {
	if r.n == 0 {
		return Decision{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

func (r *ring) len() int {
	return r.n
}
