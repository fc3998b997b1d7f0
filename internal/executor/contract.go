package executor

import (
	"fmt"
	"time"
)

// quarterly futures month codes
var quarterCodes = map[time.Month]byte{
	time.March:     'H',
	time.June:      'M',
	time.September: 'U',
	time.December:  'Z',
}

// rollLeadDays is how long before expiry the front month rolls forward.
// Liquidity migrates to the next quarter roughly a week ahead of the
// third-Friday expiry.
const rollLeadDays = 8

// thirdFriday returns the third Friday of the given month.
func thirdFriday(year int, month time.Month, loc *time.Location) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+14)
}

// FrontMonth maps a root symbol to its current front-month contract code,
// e.g. ES in early June 2025 becomes ESM5 until the roll date, then ESU5.
func FrontMonth(symbol string, now time.Time) string {
	y, m := now.Year(), now.Month()
	for i := 0; i < 5; i++ {
		code, ok := quarterCodes[m]
		if ok {
			roll := thirdFriday(y, m, now.Location()).AddDate(0, 0, -rollLeadDays)
			if now.Before(roll) {
				return fmt.Sprintf("%s%c%d", symbol, code, y%10)
			}
		}
		m++
		if m > time.December {
			m = time.January
			y++
		}
	}
	// unreachable: a quarterly month always occurs within four months
	return symbol
}
