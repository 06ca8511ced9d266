package molecule

import (
	"strings"
	"unicode"
)

// namePrefixes are stereo and position descriptors kept in their canonical
// case at the start of a name. Longer spellings precede their abbreviations
// where one is a prefix of the other.
var namePrefixes = []string{
	"DL-", "D-", "L-", "S-",
	"cis-", "trans-",
	"meta-", "m-", "para-", "p-", "ortho-", "o-",
	"aza-", "alpha-", "beta-", "gamma-", "delta-", "theta-",
}

// UnifiedName normalises a compound name for lookups: leading prefixes keep
// their canonical case, the next letter is capitalised, everything else is
// lower-cased except roman numeral groups such as "(II)". The "$apos;" escape
// becomes an apostrophe, "$l^" radical markers and stray "$" are dropped, and
// surrounding whitespace is trimmed.
func UnifiedName(name string) string {
	rs := []rune(strings.TrimLeftFunc(name, unicode.IsSpace))
	if len(rs) == 0 {
		return ""
	}

	var sb strings.Builder
	i := 0
	for matched := true; matched; {
		matched = false
		for _, p := range namePrefixes {
			pr := []rune(p)
			if i+len(pr) >= len(rs) {
				continue
			}
			if strings.EqualFold(string(rs[i:i+len(pr)]), p) {
				sb.WriteString(p)
				i += len(pr)
				matched = true
				break
			}
		}
	}

	sb.WriteRune(unicode.ToUpper(rs[i]))
	i++

	for ; i < len(rs); i++ {
		c := rs[i]
		if c == '$' {
			rest := strings.ToLower(string(rs[i+1:]))
			switch {
			case strings.HasPrefix(rest, "l^"):
				i += 2
			case strings.HasPrefix(rest, "apos;"):
				i += 5
				sb.WriteByte('\'')
			}
			continue
		}
		if c == '(' {
			if end := romanGroupEnd(rs, i); end > 0 {
				sb.WriteString(strings.ToUpper(string(rs[i : end+1])))
				i = end
				if next := i + 1; next < len(rs) {
					switch rs[next] {
					case ' ', ']', ')', '-':
					default:
						sb.WriteByte(' ')
					}
				}
				continue
			}
		}
		sb.WriteRune(unicode.ToLower(c))
	}
	return strings.TrimRightFunc(sb.String(), unicode.IsSpace)
}

// romanGroupEnd returns the index of the ")" closing a group made only of
// roman numeral letters starting at rs[open] == '(', or -1.
func romanGroupEnd(rs []rune, open int) int {
	j := open + 1
	for ; j < len(rs) && rs[j] != ')'; j++ {
		switch unicode.ToLower(rs[j]) {
		case 'i', 'v', 'x':
		default:
			return -1
		}
	}
	if j >= len(rs) || j == open+1 {
		return -1
	}
	return j
}
