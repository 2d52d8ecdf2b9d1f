package utils

import (
	"net/url"
	"strings"

	"kptv-search/work/config"
)

// LogURL returns either the original URL or an obfuscated version for
// logging, depending on the obfuscateUrls option. Panel URLs carry
// credentials in their query string, so anything logged goes through here.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query and fragment of a URL, keeping only
// scheme and host.
//
// Example:
//
//	Input:  "http://panel.example/live/u1/p1/10.ts?token=abc"
//	Output: "http://panel.example/***?***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// MaskSecret replaces a sensitive configured value (the credential TXT
// locator, a password) with a fixed-width dot run for display. Empty input
// stays empty so callers can tell "unset" from "hidden".
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	n := len(s)
	if n < 8 {
		n = 8
	}
	if n > 24 {
		n = 24
	}
	return strings.Repeat(".", n)
}
