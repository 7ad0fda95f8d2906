package dedupe

// DefaultRecentCapacity bounds the fuzzy comparison scan.
const DefaultRecentCapacity = 500

// Recent is a fixed-capacity most-recent-first list of titles. Pushing past
// capacity evicts the oldest entry.
type Recent struct {
	buf   []string
	start int
	n     int
}

// NewRecent returns a buffer seeded with titles given most-recent-first.
func NewRecent(capacity int, titles []string) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	r := &Recent{buf: make([]string, capacity)}
	if len(titles) > capacity {
		titles = titles[:capacity]
	}
	for i := len(titles) - 1; i >= 0; i-- {
		r.Push(titles[i])
	}
	return r
}

// Push makes title the most recent entry.
func (r *Recent) Push(title string) {
	r.start = (r.start - 1 + len(r.buf)) % len(r.buf)
	r.buf[r.start] = title
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *Recent) Len() int { return r.n }

// Titles returns a most-recent-first copy.
func (r *Recent) Titles() []string {
	out := make([]string, 0, r.n)
	r.each(func(t string) bool {
		out = append(out, t)
		return true
	})
	return out
}

func (r *Recent) each(fn func(string) bool) {
	for i := 0; i < r.n; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}
