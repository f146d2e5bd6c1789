package apierr

import "regexp"

var sanitizeRegexp = regexp.MustCompile(`(?i)secret`)
