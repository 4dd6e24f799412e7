package store

import "strings"

// GlobToLike converts a shell-style glob (`*`, `**`, `?`) into a SQL LIKE
// pattern safe to use with `ESCAPE '\'`. Literal `%`, `_`, and `\` in the
// input are escaped so they match literally rather than as LIKE
// metacharacters.
func GlobToLike(glob string) string {
	var sb strings.Builder
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '%', '_', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++ // consume the second '*' of "**"
			}
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
