package normalize

import "regexp"

// extensionPatterns are tried in order; the first capture group is the
// extension. Add new channel naming schemes here.
var extensionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d{3,5})$`),
	regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*/(\d{3,5})(?:-|$)`),
	regexp.MustCompile(`(?i)Local/(\d{3,5})@`),
	regexp.MustCompile(`(?i)Agent/(\d{3,5})`),
	regexp.MustCompile(`(\d{3,5})`),
}

// Extension extracts a bare extension number from identifiers such as
// "1201", "PJSIP/1201-0000a", "Local/1201@from-queue" or "Agent/1201".
// It reports false when no 3-5 digit run can be found.
func Extension(identifier string) (string, bool) {
	if identifier == "" {
		return "", false
	}
	for _, re := range extensionPatterns {
		if m := re.FindStringSubmatch(identifier); m != nil {
			return m[1], true
		}
	}
	return "", false
}
