package models

import "strings"

func toLowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
