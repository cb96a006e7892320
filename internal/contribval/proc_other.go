//go:build !linux

package contribval

func processRSSBytes() (uint64, bool) { return 0, false }
