package model

// Itoa converts an int to its decimal string without strconv. Stream key
// construction runs per tick, so this stays allocation-minimal.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Rupees converts paise to rupees.
func Rupees(paise int64) float64 {
	return float64(paise) / 100.0
}
