// Package idgen generates the 20-digit time-ordered identifiers used as
// both request ids and backend job ids throughout admitq.
package idgen

import (
	"fmt"
	"time"
)

// timeFormat renders the YYYYMMDDhhmmss calendar part (14 digits); New
// appends 6 microsecond digits, giving YYYYMMDDhhmmssffffff, 20 digits total.
const timeFormat = "20060102150405"

// New returns a fresh 20-digit decimal id derived from the current local
// time. Uniqueness is by timestamp resolution (microsecond); the caller is
// responsible for tolerating collisions under extreme issue rates, same as
// the source this was translated from.
func New() string {
	now := time.Now()
	return fmt.Sprintf("%s%06d", now.Format(timeFormat), now.Nanosecond()/1000)
}

// Len is the fixed width every id produced by New satisfies.
const Len = 20
