package helper

import (
	"fmt"
	"math/rand"
	"net"
)

// FormatBytes renders a byte count in human readable form.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "unknown"
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// RandomString returns a random alphanumeric string of the given length.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// IsIP reports whether str is a literal IP address, with or without a
// port attached.
func IsIP(str string) bool {
	host, _, err := net.SplitHostPort(str)
	if err != nil {
		return net.ParseIP(str) != nil
	}
	return net.ParseIP(host) != nil
}
