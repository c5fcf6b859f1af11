package selection

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"storeops/internal/models"
)

// ParseText heuristically translates a free-text request into structured
// criteria. Best effort only: text that matches no pattern leaves that filter
// dimension empty, it never errors. Selection quality depends on this layer;
// safety does not.
func ParseText(text string, now time.Time) models.Criteria {
	lower := strings.ToLower(text)
	c := models.Criteria{}

	c.Statuses = parseStatuses(lower)
	c.CreatedFrom, c.CreatedTo = parseDateRange(lower, now)
	c.CustomerEmail = parseEmail(text)
	c.MinTotalCents, c.MaxTotalCents = parseTotals(lower)
	c.Country = parseCountry(lower)

	return c
}

// Phrase fragments mapped onto platform statuses. Checked in order so that
// e.g. "on hold" wins before a bare "hold".
var statusPhrases = []struct {
	phrase string
	status string
}{
	{"on hold", models.OrderOnHold},
	{"on-hold", models.OrderOnHold},
	{"processing", models.OrderProcessing},
	{"pending", models.OrderPending},
	{"completed", models.OrderCompleted},
	{"complete", models.OrderCompleted},
	{"cancelled", models.OrderCancelled},
	{"canceled", models.OrderCancelled},
	{"refunded", models.OrderRefunded},
	{"failed", models.OrderFailed},
}

func parseStatuses(lower string) []string {
	var out []string
	seen := map[string]bool{}
	for _, sp := range statusPhrases {
		if strings.Contains(lower, sp.phrase) && !seen[sp.status] {
			seen[sp.status] = true
			out = append(out, sp.status)
		}
	}
	return out
}

var (
	explicitDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	pastDaysRe     = regexp.MustCompile(`\b(?:past|last)\s+(\d+)\s+days?\b`)
)

func parseDateRange(lower string, now time.Time) (*time.Time, *time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Explicit dates take precedence: one date means "since", two mean a
	// closed range.
	if dates := explicitDateRe.FindAllString(lower, 2); len(dates) > 0 {
		from, err := time.ParseInLocation("2006-01-02", dates[0], now.Location())
		if err != nil {
			return nil, nil
		}
		if len(dates) == 1 {
			return &from, nil
		}
		to, err := time.ParseInLocation("2006-01-02", dates[1], now.Location())
		if err != nil {
			return &from, nil
		}
		endOfDay := to.Add(24*time.Hour - time.Nanosecond)
		return &from, &endOfDay
	}

	if m := pastDaysRe.FindStringSubmatch(lower); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil && days > 0 {
			from := dayStart.AddDate(0, 0, -days)
			return &from, nil
		}
	}

	switch {
	case strings.Contains(lower, "today"):
		return &dayStart, nil
	case strings.Contains(lower, "yesterday"):
		from := dayStart.AddDate(0, 0, -1)
		to := dayStart.Add(-time.Nanosecond)
		return &from, &to
	case strings.Contains(lower, "this week"):
		from := startOfWeek(dayStart)
		return &from, nil
	case strings.Contains(lower, "last week"):
		thisWeek := startOfWeek(dayStart)
		from := thisWeek.AddDate(0, 0, -7)
		to := thisWeek.Add(-time.Nanosecond)
		return &from, &to
	case strings.Contains(lower, "this month"):
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &from, nil
	case strings.Contains(lower, "last month"):
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		from := thisMonth.AddDate(0, -1, 0)
		to := thisMonth.Add(-time.Nanosecond)
		return &from, &to
	}
	return nil, nil
}

// startOfWeek returns the preceding Monday (or the day itself).
func startOfWeek(day time.Time) time.Time {
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

func parseEmail(text string) string {
	return emailRe.FindString(text)
}

var (
	overRe  = regexp.MustCompile(`\b(?:over|above|more than|at least|>=?)\s*\$?\s*(\d+(?:\.\d{1,2})?)`)
	underRe = regexp.MustCompile(`\b(?:under|below|less than|at most|<=?)\s*\$?\s*(\d+(?:\.\d{1,2})?)`)
)

func parseTotals(lower string) (*int64, *int64) {
	var min, max *int64
	if m := overRe.FindStringSubmatch(lower); m != nil {
		if cents, ok := toCents(m[1]); ok {
			min = &cents
		}
	}
	if m := underRe.FindStringSubmatch(lower); m != nil {
		if cents, ok := toCents(m[1]); ok {
			max = &cents
		}
	}
	return min, max
}

func toCents(amount string) (int64, bool) {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0, false
	}
	return int64(f*100 + 0.5), true
}

// Country names the heuristic recognizes, beyond bare ISO codes.
var countryNames = map[string]string{
	"united states":  "US",
	"usa":            "US",
	"canada":         "CA",
	"united kingdom": "GB",
	"uk":             "GB",
	"germany":        "DE",
	"france":         "FR",
	"spain":          "ES",
	"italy":          "IT",
	"netherlands":    "NL",
	"australia":      "AU",
	"japan":          "JP",
	"brazil":         "BR",
	"mexico":         "MX",
	"india":          "IN",
}

var countryFromRe = regexp.MustCompile(`\b(?:from|in|shipped to|shipping to)\s+([a-z][a-z ]{1,20})\b`)

func parseCountry(lower string) string {
	// Word-boundary match so short names like "uk" do not fire inside
	// words like "bulk".
	for name, code := range countryNames {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if re.MatchString(lower) {
			return code
		}
	}
	if m := countryFromRe.FindStringSubmatch(lower); m != nil {
		candidate := strings.TrimSpace(m[1])
		if len(candidate) == 2 {
			return strings.ToUpper(candidate)
		}
	}
	return ""
}
