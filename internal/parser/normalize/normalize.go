// Package normalize — семантическая нормализация сырых записей в канонические
// смены. Здесь чистится имя клиента (шум фирменных суффиксов и клининговых
// слов), раскладывается шведский адрес (улица, номер, индекс NNN NN, район,
// город), классифицируется тип смены по меткам места и считаются отпечатки
// идентичности, устойчивые к регистру, пробелам, диакритике и типовым
// ошибкам распознавания.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"schedule-worker/internal/domain/schedule"
	"schedule-worker/internal/parser/layout"
)

// postalCodePattern — шведский почтовый индекс NNN NN (пробел опционален).
var postalCodePattern = regexp.MustCompile(`\b(\d{3})\s?(\d{2})\b`)

// streetNumberPattern отделяет номер дома (с необязательной литерой) от улицы.
var streetNumberPattern = regexp.MustCompile(`^(.*?)\s+(\d+\s?[A-Za-z]?)$`)

// companyNoiseTokens — токены, не несущие идентичности клиента: организационные
// суффиксы и клининговые родовые слова. Сравнение идёт по свёрнутой форме.
var companyNoiseTokens = map[string]struct{}{
	"ab": {}, "hb": {}, "kb": {},
	"stadservice": {}, "stadtjanst": {}, "stadning": {}, "stad": {},
}

// Normalize превращает записи одного скриншота в канонические смены.
// Функция чистая; порядок входа сохраняется.
func Normalize(entries []layout.Entry) []schedule.Shift {
	out := make([]schedule.Shift, 0, len(entries))
	for _, e := range entries {
		out = append(out, normalizeEntry(e))
	}
	return out
}

// normalizeEntry собирает одну каноническую смену из сырой записи.
func normalizeEntry(e layout.Entry) schedule.Shift {
	street, number, postalCode, postalArea, city := DecomposeAddress(e.Address)
	customer := CleanCustomerName(e.Title)

	place := postalArea
	if place == "" {
		place = city
	}

	return schedule.Shift{
		Start:               strings.TrimSpace(e.Start),
		End:                 strings.TrimSpace(e.End),
		CustomerName:        customer,
		Street:              street,
		StreetNumber:        number,
		PostalCode:          postalCode,
		PostalArea:          postalArea,
		City:                city,
		Type:                ClassifyShiftType(e.Location, e.Title),
		LocationFingerprint: LocationFingerprint(street, number, place),
		CustomerFingerprint: CustomerFingerprint(customer),
	}
}

// CleanCustomerName убирает из названия клиента шумовые токены и приводит
// результат к Title Case. Если после чистки ничего не осталось, берутся
// исходные токены в том же Title Case: лучше шумное имя, чем пустое.
func CleanCustomerName(title string) string {
	cleaned := schedule.CleanText(title)
	if cleaned == "" {
		return ""
	}

	tokens := strings.Fields(cleaned)
	var kept []string
	for _, token := range tokens {
		folded := foldIdentity(token)
		if _, noise := companyNoiseTokens[folded]; noise {
			continue
		}
		kept = append(kept, titleCaseToken(token))
	}
	if len(kept) == 0 {
		for _, token := range tokens {
			kept = append(kept, titleCaseToken(token))
		}
	}
	return strings.Join(kept, " ")
}

// titleCaseToken переводит токен в нижний регистр и капитализирует первую
// руну. Регистр входа канонической формой не сохраняется: OCR путает его
// свободно, и "ACME" с "acme" обязаны давать один и тот же байтовый результат.
func titleCaseToken(token string) string {
	runes := []rune(strings.ToLower(token))
	if len(runes) == 0 {
		return token
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// DecomposeAddress раскладывает адресную строку на составляющие.
// Ожидаемые формы: "Storgatan 5", "Storgatan 5, 411 05 Göteborg",
// "Storgatan 5, Centrum, 411 05 Göteborg". Сегменты без цифр между улицей и
// индексом трактуются как район; текст после индекса — как город.
func DecomposeAddress(address string) (street, number, postalCode, postalArea, city string) {
	cleaned := schedule.CleanText(address)
	if cleaned == "" {
		return "", "", "", "", ""
	}

	segments := strings.Split(cleaned, ",")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}

	// Первый сегмент — улица с номером дома.
	if m := streetNumberPattern.FindStringSubmatch(segments[0]); m != nil {
		street = strings.TrimSpace(m[1])
		number = strings.ReplaceAll(m[2], " ", "")
	} else {
		street = segments[0]
	}

	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		if m := postalCodePattern.FindStringSubmatch(seg); m != nil {
			postalCode = m[1] + " " + m[2]
			rest := strings.TrimSpace(postalCodePattern.ReplaceAllString(seg, ""))
			if rest != "" {
				city = rest
			}
			continue
		}
		if postalArea == "" {
			postalArea = seg
			continue
		}
		if city == "" {
			city = seg
		}
	}
	return street, number, postalCode, postalArea, city
}

// shiftTypeHints — подстроки меток места в свёрнутой форме.
var shiftTypeHints = []struct {
	hint string
	typ  schedule.ShiftType
}{
	{hint: "skola", typ: schedule.TypeSchool},
	{hint: "skolan", typ: schedule.TypeSchool},
	{hint: "forskola", typ: schedule.TypeSchool},
	{hint: "kontor", typ: schedule.TypeOffice},
	{hint: "office", typ: schedule.TypeOffice},
	{hint: "hemstad", typ: schedule.TypeHomeVisit},
	{hint: "hembesok", typ: schedule.TypeHomeVisit},
	{hint: "hemma", typ: schedule.TypeHomeVisit},
}

// ClassifyShiftType определяет тип смены по метке места, а при её отсутствии —
// по названию. Нераспознанное остаётся UNKNOWN.
func ClassifyShiftType(location, title string) schedule.ShiftType {
	for _, source := range []string{location, title} {
		folded := foldIdentity(source)
		if folded == "" {
			continue
		}
		for _, h := range shiftTypeHints {
			if strings.Contains(folded, h.hint) {
				return h.typ
			}
		}
	}
	return schedule.TypeUnknown
}
