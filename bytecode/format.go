package bytecode

import (
	"strconv"
	"strings"
)

// Substitute replaces "{N}" markers in compiled text with subs[N]. Markers
// with no matching substitution are left as written.
func Substitute(text string, subs []string) string {
	if len(subs) == 0 || !strings.Contains(text, "{") {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			if end := strings.IndexByte(text[i+1:], '}'); end > 0 {
				if n, err := strconv.Atoi(text[i+1 : i+1+end]); err == nil && n >= 0 && n < len(subs) {
					sb.WriteString(subs[n])
					i += end + 1
					continue
				}
			}
		}
		sb.WriteByte(text[i])
	}
	return sb.String()
}
