package orchestrator

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// identity fields name what was looked up; repeating them is expected
var identityKeys = map[string]bool{
	"city":           true,
	"country":        true,
	"units":          true,
	"icon":           true,
	"timestamp":      true,
	"days_requested": true,
	"days_returned":  true,
}

// restatedValues returns the tool result values that reappear verbatim in
// text, sorted. Numbers match on digit boundaries; strings of four or more
// characters match case-insensitively on word boundaries.
func restatedValues(text string, payloads []map[string]any) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	values := make(map[string]bool)
	for _, p := range payloads {
		collectScalars(p, values)
	}

	var found []string
	for v := range values {
		if restates(text, v) {
			found = append(found, v)
		}
	}
	sort.Strings(found)
	return found
}

func collectScalars(v any, into map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if identityKeys[k] {
				continue
			}
			collectScalars(child, into)
		}
	case []any:
		for _, child := range val {
			collectScalars(child, into)
		}
	case float64:
		into[strconv.FormatFloat(val, 'f', -1, 64)] = true
	case string:
		s := strings.TrimSpace(val)
		if len(s) >= 4 && strings.IndexFunc(s, unicode.IsLetter) >= 0 {
			into[s] = true
		}
	}
}

func restates(text, value string) bool {
	var pattern string
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		q := regexp.QuoteMeta(value)
		pattern = `(?:^|[^\d.])` + q + `(?:\.\D|[^\d.]|\.?$)`
	} else {
		pattern = `(?i)\b` + regexp.QuoteMeta(value) + `\b`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
