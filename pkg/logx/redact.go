package logx

import (
	"io"
	"regexp"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(token=)[^&\s"]+`),
	regexp.MustCompile(`(password=)[^&\s"]+`),
	regexp.MustCompile(`(email=)[^&\s"]+`),
}

// Redact masks credential-looking key=value pairs (token=, password=,
// email=) so bot tokens and account logins never reach a sink.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}

// redactWriter applies Redact to every serialized log line.
type redactWriter struct{ w io.Writer }

func (r *redactWriter) Write(p []byte) (int, error) {
	out := []byte(Redact(string(p)))
	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}
	// Report the caller's length: zerolog treats short writes as errors.
	return len(p), nil
}
