package utils

import (
	"regexp"
	"strings"
)

// FirstNonEmpty returns the first non-empty string, or ""
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	delimiterPattern := "[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]"
	re := regexp.MustCompile(delimiterPattern)
	return re.Split(s, -1)
}

// SplitList splits a header-style list on commas, semicolons or whitespace
// and drops empty items. An empty input yields nil.
func SplitList(s string) []string {
	var out []string
	for _, item := range SplitByMultipleDelimiters(s, ",", ";", " ", "\t") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
