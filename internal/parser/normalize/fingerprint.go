// Файл fingerprint.go — детерминированные отпечатки идентичности.
// Отпечаток обязан переживать регистр, пробелы, диакритику и типовые путаницы
// распознавания (0↔O, 1↔l↔I), поэтому все составляющие сначала сворачиваются
// foldIdentity, затем хэшируются SHA-256.

package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper раскладывает руны по NFKD и выбрасывает комбинирующие знаки.
var accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// LocationFingerprint — отпечаток места: sha256("улица|номер|район-или-город")
// по свёрнутым составляющим.
func LocationFingerprint(street, number, place string) string {
	return hashParts(foldIdentity(street), foldIdentity(number), foldIdentity(place))
}

// CustomerFingerprint — отпечаток клиента: фамилией считается самый длинный
// токен свёрнутого имени, остальные токены дают отсортированные инициалы.
// Так "Anna B. Svensson" и "A. Svensson Anna" сходятся к одному ключу.
func CustomerFingerprint(name string) string {
	tokens := strings.Fields(foldIdentity(name))
	if len(tokens) == 0 {
		return hashParts("")
	}

	surnameIdx := 0
	for i, t := range tokens {
		if len(t) > len(tokens[surnameIdx]) {
			surnameIdx = i
		}
	}

	var initials []string
	for i, t := range tokens {
		if i == surnameIdx {
			continue
		}
		initials = append(initials, t[:1])
	}
	sort.Strings(initials)

	return hashParts(tokens[surnameIdx], strings.Join(initials, ""))
}

// hashParts хэширует составляющие, склеенные вертикальной чертой.
func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// foldIdentity сворачивает строку для сравнения идентичностей: нижний регистр,
// снятая диакритика, схлопнутые пробелы, замена путаниц распознавания
// (0→o, 1/i/|→l) и отсев всего, кроме букв, цифр и пробелов.
func foldIdentity(value string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	if lower == "" {
		return ""
	}
	stripped, _, err := transform.String(accentStripper, lower)
	if err != nil {
		stripped = lower
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		switch {
		case r == '0':
			b.WriteRune('o')
		case r == '1' || r == 'i' || r == '|':
			b.WriteRune('l')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
