// Package timeparse turns loose English and Chinese time phrases into a
// concrete time relative to a base instant.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	cnWeekRe     = regexp.MustCompile(`下周([一二三四五六日天])`)
	enWeekRe     = regexp.MustCompile(`\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	cnMonthDayRe = regexp.MustCompile(`(\d{1,2})月(\d{1,2})[日号]?`)
	slashDateRe  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)

	cnClockRe    = regexp.MustCompile(`(\d{1,2})[点时](半|(\d{1,2})分?)?`)
	colonClockRe = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	meridiemRe   = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	hourSuffixRe = regexp.MustCompile(`\b(\d{1,2})h\b`)

	pmMarkerRe = regexp.MustCompile(`\d\s*pm\b|\bafternoon\b|\bevening\b|\btonight\b|下午|晚上`)
	amMarkerRe = regexp.MustCompile(`\d\s*am\b|\bmorning\b|上午|早上`)
)

// Monday is 0.
var weekdays = map[string]int{
	"一": 0, "二": 1, "三": 2, "四": 3, "五": 4, "六": 5, "日": 6, "天": 6,
	"monday": 0, "tuesday": 1, "wednesday": 2, "thursday": 3,
	"friday": 4, "saturday": 5, "sunday": 6,
}

// Parse resolves phrase against base. A zero base means now. The result is
// base's date at midnight unless the phrase names a date or time of day;
// parts that cannot be understood keep their default.
func Parse(phrase string, base time.Time) time.Time {
	if base.IsZero() {
		base = time.Now()
	}
	text := strings.ToLower(phrase)
	return parseClock(text, parseDate(text, base))
}

func parseDate(text string, base time.Time) time.Time {
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location())

	switch {
	case strings.Contains(text, "今天") || strings.Contains(text, "today"):
		return day
	case strings.Contains(text, "后天") || strings.Contains(text, "day after tomorrow"):
		return day.AddDate(0, 0, 2)
	case strings.Contains(text, "明天") || strings.Contains(text, "tomorrow"):
		return day.AddDate(0, 0, 1)
	}

	if m := cnWeekRe.FindStringSubmatch(text); m != nil {
		return nextWeek(day, base, weekdays[m[1]])
	}
	if m := enWeekRe.FindStringSubmatch(text); m != nil {
		return nextWeek(day, base, weekdays[m[1]])
	}

	m := cnMonthDayRe.FindStringSubmatch(text)
	if m == nil {
		m = slashDateRe.FindStringSubmatch(text)
	}
	if m != nil {
		month, _ := strconv.Atoi(m[1])
		dom, _ := strconv.Atoi(m[2])
		t := time.Date(base.Year(), time.Month(month), dom, 0, 0, 0, 0, base.Location())
		if month < 1 || month > 12 || t.Month() != time.Month(month) || t.Day() != dom {
			return day
		}
		return t
	}
	return day
}

// nextWeek lands on target in the calendar week after base's.
func nextWeek(day, base time.Time, target int) time.Time {
	current := (int(base.Weekday()) + 6) % 7
	return day.AddDate(0, 0, 7-current+target)
}

func parseClock(text string, day time.Time) time.Time {
	hour, minute, ok := findClock(text)
	if !ok {
		return day
	}
	switch {
	case pmMarkerRe.MatchString(text):
		if hour < 12 {
			hour += 12
		}
	case amMarkerRe.MatchString(text):
		if hour == 12 && meridiemRe.MatchString(text) {
			hour = 0
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func findClock(text string) (hour, minute int, ok bool) {
	if m := cnClockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		switch {
		case m[2] == "半":
			minute = 30
		case m[3] != "":
			minute, _ = strconv.Atoi(m[3])
		}
		return hour, minute, true
	}
	if m := colonClockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, true
	}
	if m := meridiemRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		return hour, 0, true
	}
	if m := hourSuffixRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		return hour, 0, true
	}
	return 0, 0, false
}
