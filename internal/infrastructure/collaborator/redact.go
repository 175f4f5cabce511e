package collaborator

import "regexp"

type redaction struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: CPF digits would otherwise be taken for a phone number.
var redactions = []redaction{
	{regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`), "[CPF_REMOVIDO]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[EMAIL_REMOVIDO]"},
	{regexp.MustCompile(`\+?\b\d{2}\s?\(?\d{2}\)?\s?\d{4,5}-?\d{4}\b`), "[TEL_REMOVIDO]"},
}

// Redact masks CPF numbers, e-mail addresses and phone numbers in free text
func Redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.mask)
	}
	return s
}
