package engine

import "regexp"

// dangerousPatterns flag suggested actions that must never run without a
// human sign-off, no matter what the session's auto-action flag says. The
// list errs on the side of flagging: a false positive costs one manual
// confirmation, a false negative costs data.
var dangerousPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"recursive delete", regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]*\s+)*-[a-z]*[rf][a-z]*\b`)},
	{"force push", regexp.MustCompile(`(?i)\bgit\s+push\b.*(?:--force\b|--force-with-lease\b|\s-f\b)`)},
	{"hard reset", regexp.MustCompile(`(?i)\bgit\s+(?:reset\s+--hard|clean\s+-[a-z]*f)`)},
	{"disk write", regexp.MustCompile(`(?i)\b(?:dd\s+if=|mkfs\b|fdisk\b|>\s*/dev/sd)`)},
	{"drop data", regexp.MustCompile(`(?i)\bdrop\s+(?:table|database|schema)\b`)},
	{"truncate data", regexp.MustCompile(`(?i)\btruncate\s+(?:table\b|-s\s*0)`)},
	{"permissions blast", regexp.MustCompile(`(?i)\bchmod\s+(?:-[a-z]+\s+)*777\b`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"system halt", regexp.MustCompile(`(?i)\b(?:shutdown|reboot|halt|poweroff)\b`)},
	{"kill all", regexp.MustCompile(`(?i)\bkill(?:all)?\s+-9\s`)},
	{"curl pipe shell", regexp.MustCompile(`(?i)\b(?:curl|wget)\b.*\|\s*(?:ba|z|da)?sh\b`)},
}

// CheckDangerous reports whether a suggested action matches the
// destructive-pattern deny list, and which pattern matched.
func CheckDangerous(action string) (bool, string) {
	if action == "" {
		return false, ""
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(action) {
			return true, p.label
		}
	}
	return false, ""
}
