package audio

// EnvelopeBuckets is the resolution of the level meter shown to the user.
const EnvelopeBuckets = 16

// Envelope summarizes samples into buckets peak values scaled to 0..1.
// Trailing samples that do not fill a bucket are folded into the last one.
func Envelope(samples []int16, buckets int) []float64 {
	if buckets <= 0 {
		return nil
	}
	out := make([]float64, buckets)
	if len(samples) == 0 {
		return out
	}

	size := len(samples) / buckets
	if size == 0 {
		size = 1
	}
	for i, s := range samples {
		b := i / size
		if b >= buckets {
			b = buckets - 1
		}
		v := float64(s)
		if v < 0 {
			v = -v
		}
		if v /= 32768; v > out[b] {
			out[b] = v
		}
	}
	return out
}
