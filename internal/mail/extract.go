package mail

import (
	"regexp"
	"strings"
)

// Sender and subject keywords across the languages the upstream localizes
// into. A message must hit at least one keyword before code extraction runs,
// so unrelated mail at the same address cannot produce a false match.
var (
	senderKeywords = []string{
		"no-reply",
		"noreply",
		"no_reply",
		"verify",
		"verification",
		"cursor",
	}
	subjectKeywords = []string{
		"verification",
		"verify",
		"code",
		"one-time",
		"验证码",
		"验证",
		"код",
		"подтверждени",
		"verifizierung",
		"bestätigung",
		"vérification",
		"確認コード",
		"인증",
	}
)

var (
	// contiguous: 123456
	contiguousCodeRe = regexp.MustCompile(`\b(\d{6})\b`)
	// spaced or dashed: 1 2 3 4 5 6 / 1-2-3-4-5-6
	spacedCodeRe = regexp.MustCompile(`\b(\d)[ \-](\d)[ \-](\d)[ \-](\d)[ \-](\d)[ \-](\d)\b`)
)

// looksLikeVerification applies the keyword heuristics to sender and subject.
func looksLikeVerification(msg Message) bool {
	from := strings.ToLower(msg.From)
	for _, kw := range senderKeywords {
		if strings.Contains(from, kw) {
			return true
		}
	}

	subject := strings.ToLower(msg.Subject)
	for _, kw := range subjectKeywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}

	return false
}

// extractCode pulls a six-digit code from the body using ordered strategies:
// contiguous digits, then spaced digits, then a digits-only line. The first
// strategy that matches wins.
func extractCode(body string) (string, bool) {
	if match := contiguousCodeRe.FindStringSubmatch(body); match != nil {
		return match[1], true
	}

	if match := spacedCodeRe.FindStringSubmatch(body); match != nil {
		return strings.Join(match[1:], ""), true
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) == 6 && isDigits(trimmed) {
			return trimmed, true
		}
	}

	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
