package router

import (
	"strconv"
	"strings"
)

const defaultBodyLimit = 8 * 1024 * 1024

// HTTP surface settings. Configure replaces them before the app is built.
var (
	BaseURL    string
	CORSOrigin = "*"
	BodyLimit  = "8M"
	GZipLevel  = 1

	bodyLimitBytes = defaultBodyLimit
)

// Configure applies the HTTP settings loaded by the config package. The
// base URL is reduced to "" or a single leading-slash path without a
// trailing slash.
func Configure(baseURL, corsOrigin, bodyLimit string, gzipLevel int) {
	BaseURL = normalizeBaseURL(baseURL)

	CORSOrigin = strings.TrimSpace(corsOrigin)
	if CORSOrigin == "" {
		CORSOrigin = "*"
	}

	BodyLimit = bodyLimit
	bodyLimitBytes = parseBodyLimit(bodyLimit)

	GZipLevel = gzipLevel
}

func BodyLimitBytes() int {
	return bodyLimitBytes
}

func normalizeBaseURL(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return "/" + base
}

func parseBodyLimit(limit string) int {
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return defaultBodyLimit
	}
	multiplier := 1
	switch {
	case strings.HasSuffix(limit, "K"):
		multiplier = 1024
		limit = strings.TrimSuffix(limit, "K")
	case strings.HasSuffix(limit, "M"):
		multiplier = 1024 * 1024
		limit = strings.TrimSuffix(limit, "M")
	case strings.HasSuffix(limit, "G"):
		multiplier = 1024 * 1024 * 1024
		limit = strings.TrimSuffix(limit, "G")
	}
	value, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || value <= 0 {
		return defaultBodyLimit
	}
	return value * multiplier
}
