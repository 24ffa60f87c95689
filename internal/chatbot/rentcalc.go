package chatbot

import (
	"strconv"
	"strings"
)

// extractIntegers scans text left to right and returns every integer in order
// of appearance. Thousand separators inside a number are tolerated, so
// "$2,500" yields 2500 rather than 2 and 500.
func extractIntegers(text string) []int {
	var nums []int
	i := 0
	for i < len(text) {
		if !isDigit(text[i]) {
			i++
			continue
		}
		var b strings.Builder
		for i < len(text) {
			if isDigit(text[i]) {
				b.WriteByte(text[i])
				i++
				continue
			}
			if text[i] == ',' && thousandGroupAt(text, i+1) {
				i++
				continue
			}
			break
		}
		n, err := strconv.Atoi(b.String())
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// thousandGroupAt reports whether text[i:] starts with exactly three digits,
// i.e. a comma before it is a thousand separator and not a list delimiter.
func thousandGroupAt(text string, i int) bool {
	if i+3 > len(text) {
		return false
	}
	for j := i; j < i+3; j++ {
		if !isDigit(text[j]) {
			return false
		}
	}
	return i+3 == len(text) || !isDigit(text[i+3])
}

// formatAmount renders a dollar amount with thousand separators, e.g. 10800
// becomes "10,800".
func formatAmount(n int) string {
	s := strconv.Itoa(n)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
