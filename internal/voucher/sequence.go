package voucher

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const numberDateLayout = "060102"

// formatNumber renders {prefix}-{yyMMdd}-{seq} with a zero-padded
// five digit sequence.
func formatNumber(prefix string, date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, date.Format(numberDateLayout), seq)
}

// nextSuffix derives the next sequence from the highest issued number.
// An unparseable suffix restarts the sequence at 1 rather than failing
// the posting.
func nextSuffix(last string, found bool) int {
	if !found {
		return 1
	}
	idx := strings.LastIndex(last, "-")
	if idx < 0 || idx == len(last)-1 {
		return 1
	}
	n, err := strconv.Atoi(last[idx+1:])
	if err != nil || n < 0 {
		return 1
	}
	return n + 1
}
