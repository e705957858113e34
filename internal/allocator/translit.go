package allocator

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// arabicFold maps the Arabic consonant/vowel letters a cluster is
// likely to see in a preferred or given name to their closest Latin
// transliteration. It is not a complete Arabic romanization scheme;
// unmapped letters are dropped, matching keepAscii's "strip anything
// not [0-9a-zA-Z]" behaviour for characters it can't fold.
var arabicFold = map[rune]string{
	'ا': "a", 'أ': "a", 'إ': "a", 'آ': "a",
	'ب': "b",
	'ت': "t",
	'ث': "th",
	'ج': "j",
	'ح': "h",
	'خ': "kh",
	'د': "d",
	'ذ': "dh",
	'ر': "r",
	'ز': "z",
	'س': "s",
	'ش': "sh",
	'ص': "s",
	'ض': "d",
	'ط': "t",
	'ظ': "z",
	'ع': "a",
	'غ': "gh",
	'ف': "f",
	'ق': "q",
	'ك': "k",
	'ل': "l",
	'م': "m",
	'ن': "n",
	'ه': "h",
	'ة': "h",
	'و': "w",
	'ي': "y",
	'ى': "a",
	'ء': "",
}

var asciiFoldTransform = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII transliterates s to lowercase ASCII: accented Latin
// characters are decomposed and stripped of their combining marks,
// Arabic letters are folded via arabicFold, and anything left that
// isn't [a-z0-9] is dropped, mirroring keepAscii's character class.
func foldASCII(s string) string {
	decomposed, _, err := transform.String(asciiFoldTransform, s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	for _, r := range decomposed {
		if folded, ok := arabicFold[r]; ok {
			b.WriteString(folded)
			continue
		}
		lower := unicode.ToLower(r)
		if lower >= 'a' && lower <= 'z' || lower >= '0' && lower <= '9' {
			b.WriteRune(lower)
		}
	}
	return b.String()
}
