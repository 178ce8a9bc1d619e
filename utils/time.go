package utils

import "time"

// GetCurrentTimeMS returns current time in milliseconds
func GetCurrentTimeMS() int64 {
	return time.Now().UnixMilli()
}

// MakeTimeMS returns milliseconds from time.Time
func MakeTimeMS(t time.Time) int64 {
	return t.UnixMilli()
}

// MakeTimeFromMS returns time.Time from milliseconds
func MakeTimeFromMS(ms int64) time.Time {
	return time.UnixMilli(ms)
}
