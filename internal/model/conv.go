package model

const smallInts = "0123456789"

// Itoa formats an int without going through strconv; key construction
// is the hot path and the arguments are almost always small TF values.
func Itoa(n int) string {
	if n >= 0 && n < 10 {
		return smallInts[n : n+1]
	}

	var buf [20]byte
	i := len(buf)
	u := uint64(n)
	if n < 0 {
		u = uint64(-n)
	}
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if n < 0 {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
