//go:build linux

package contribval

import "os"

// processRSSBytes reports the resident set size from /proc/self/statm.
// ok is false when /proc is unavailable.
func processRSSBytes() (uint64, bool) {
	b, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, false
	}
	return parseStatmRSS(b, os.Getpagesize())
}
