package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// nextFireWindow bounds the minute-by-minute search for the next matching
// instant. Expressions that never match inside the window fall back to one
// hour from now; this is a bounded-search policy, not a full cron solver.
const nextFireWindow = 7 * 24 * time.Hour

// CronExpr is a parsed cron expression of 5 to 7 whitespace-separated
// fields: minute hour day-of-month month day-of-week. Fields beyond the
// fifth are accepted and ignored. Each field supports "*", a literal
// integer, a comma-separated list, a "start-end" range, and a "*/n" stride.
// Day-of-week uses 0=Sunday.
type CronExpr struct {
	raw    string
	fields [5]string
}

// ParseCron validates and parses a cron expression.
func ParseCron(expr string) (*CronExpr, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}

	parts := strings.Fields(trimmed)
	if len(parts) < 5 || len(parts) > 7 {
		return nil, fmt.Errorf("cron expression must have 5 to 7 fields, got %d", len(parts))
	}

	c := &CronExpr{raw: trimmed}
	copy(c.fields[:], parts[:5])

	for i, field := range c.fields {
		if err := validateField(field); err != nil {
			return nil, fmt.Errorf("invalid cron field %d (%q): %w", i+1, field, err)
		}
	}
	return c, nil
}

// String returns the original expression.
func (c *CronExpr) String() string {
	return c.raw
}

// Matches reports whether the instant (truncated to the minute) satisfies
// the expression.
func (c *CronExpr) Matches(t time.Time) bool {
	return matchField(t.Minute(), c.fields[0]) &&
		matchField(t.Hour(), c.fields[1]) &&
		matchField(t.Day(), c.fields[2]) &&
		matchField(int(t.Month()), c.fields[3]) &&
		matchField(int(t.Weekday()), c.fields[4])
}

// Next returns the next matching instant strictly after from, scanning
// minute by minute up to seven days ahead. When no instant in the window
// matches, it returns from+1h and false.
func (c *CronExpr) Next(from time.Time) (time.Time, bool) {
	candidate := from.Truncate(time.Minute).Add(time.Minute)
	limit := int(nextFireWindow / time.Minute)

	for i := 0; i < limit; i++ {
		if c.Matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return from.Add(time.Hour), false
}

func validateField(field string) error {
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*":
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil || step <= 0 {
				return fmt.Errorf("bad stride %q", part)
			}
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err1 != nil || err2 != nil || start > end {
				return fmt.Errorf("bad range %q", part)
			}
		default:
			if _, err := strconv.Atoi(part); err != nil {
				return fmt.Errorf("bad value %q", part)
			}
		}
	}
	return nil
}

func matchField(value int, field string) bool {
	if field == "*" {
		return true
	}

	if strings.Contains(field, ",") {
		for _, part := range strings.Split(field, ",") {
			if matchField(value, strings.TrimSpace(part)) {
				return true
			}
		}
		return false
	}

	if strings.HasPrefix(field, "*/") {
		step, err := strconv.Atoi(field[2:])
		if err != nil || step <= 0 {
			return false
		}
		return value%step == 0
	}

	if strings.Contains(field, "-") {
		bounds := strings.SplitN(field, "-", 2)
		start, err1 := strconv.Atoi(strings.TrimSpace(bounds[0]))
		end, err2 := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err1 != nil || err2 != nil {
			return false
		}
		return value >= start && value <= end
	}

	n, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return false
	}
	return value == n
}
