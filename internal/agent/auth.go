package agent

import "strings"

// DetectAuthFailure scans captured stderr for the provider's credential
// failure patterns. It returns the provider's remediation hint and true on
// a match. Matching is case-insensitive and wins over any exit-code based
// classification: a non-zero exit caused by missing credentials is an auth
// failure, not a crash.
func DetectAuthFailure(p Provider, stderr string) (string, bool) {
	if stderr == "" {
		return "", false
	}
	lower := strings.ToLower(stderr)
	for _, pattern := range p.AuthPatterns() {
		if strings.Contains(lower, pattern) {
			return p.AuthRemediation(), true
		}
	}
	return "", false
}
