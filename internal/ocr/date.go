// Файл date.go — извлечение даты расписания из распознанных боксов.
// Заголовок скриншота содержит дату словами (по-шведски либо по-английски),
// часто с названием дня недели. Боксы собираются в строки по y-центру,
// строки сканируются сверху вниз до первого совпадения с шаблоном
// "<день> <месяц> [<год>]". Год может отсутствовать: тогда подставляется
// defaultYear. Из имён файлов и таймстемпов дата не выводится никогда.

package ocr

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// monthNames — шведские и английские названия месяцев, включая усечённые
// формы, которые стабильно выдаёт распознавание.
var monthNames = map[string]int{
	"januari": 1, "january": 1, "jan": 1,
	"februari": 2, "february": 2, "feb": 2,
	"mars": 3, "march": 3, "mar": 3,
	"april": 4, "apr": 4,
	"maj": 5, "may": 5,
	"juni": 6, "june": 6, "jun": 6,
	"juli": 7, "july": 7, "jul": 7,
	"augusti": 8, "august": 8, "aug": 8,
	"september": 9, "sep": 9, "sept": 9,
	"oktober": 10, "october": 10, "okt": 10, "oct": 10,
	"november": 11, "nov": 11,
	"december": 12, "dec": 12,
}

// weekdayNames служат только как маркер заголовка с датой; в вычислении даты
// день недели не участвует.
var weekdayNames = map[string]struct{}{
	"måndag": {}, "tisdag": {}, "onsdag": {}, "torsdag": {}, "fredag": {}, "lördag": {}, "söndag": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
}

// datePattern матчит "<день> <месяц>" с необязательным годом после месяца.
var datePattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(\p{L}+)\.?\s*(\d{4})?\b`)

// ExtractScheduleDate ищет дату расписания в боксах одного скриншота и
// возвращает её в формате YYYY-MM-DD. defaultYear подставляется, когда год в
// заголовке не напечатан. Отсутствие распознаваемой даты — ошибка.
func ExtractScheduleDate(boxes []Box, defaultYear int) (string, error) {
	for _, line := range AssembleLines(boxes) {
		if date, ok := parseDateLine(line, defaultYear); ok {
			return date, nil
		}
	}
	return "", fmt.Errorf("no schedule date found in %d boxes", len(boxes))
}

// AssembleLines группирует боксы в текстовые строки по y-центру и возвращает
// строки сверху вниз, слова внутри строки слева направо.
func AssembleLines(boxes []Box) []string {
	if len(boxes) == 0 {
		return nil
	}

	sorted := make([]Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y+sorted[i].H/2 < sorted[j].Y+sorted[j].H/2
	})

	threshold := lineThreshold(sorted)
	var lines [][]Box
	for _, b := range sorted {
		if len(lines) == 0 {
			lines = append(lines, []Box{b})
			continue
		}
		last := lines[len(lines)-1]
		lastCenter := last[0].Y + last[0].H/2
		if (b.Y+b.H/2)-lastCenter <= threshold {
			lines[len(lines)-1] = append(last, b)
			continue
		}
		lines = append(lines, []Box{b})
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		words := make([]string, 0, len(line))
		for _, b := range line {
			if t := strings.TrimSpace(b.Text); t != "" {
				words = append(words, t)
			}
		}
		if len(words) > 0 {
			out = append(out, strings.Join(words, " "))
		}
	}
	return out
}

// lineThreshold — допуск кластеризации по y: max(8, 0.6 * медианная высота).
func lineThreshold(boxes []Box) float64 {
	heights := make([]float64, len(boxes))
	for i, b := range boxes {
		heights[i] = b.H
	}
	sort.Float64s(heights)
	median := heights[len(heights)/2]
	if t := median * 0.6; t > 8 {
		return t
	}
	return 8
}

// parseDateLine пытается вытащить дату из одной строки. Строка с названием дня
// недели проверяется в первую очередь целиком, иначе — по общему шаблону.
func parseDateLine(line string, defaultYear int) (string, bool) {
	lower := strings.ToLower(line)

	// Быстрый отсев: строка без имени месяца дату содержать не может.
	hasMonth := false
	for name := range monthNames {
		if strings.Contains(lower, name) {
			hasMonth = true
			break
		}
	}
	if !hasMonth && !hasWeekday(lower) {
		return "", false
	}

	for _, m := range datePattern.FindAllStringSubmatch(lower, -1) {
		day, err := strconv.Atoi(m[1])
		if err != nil || day < 1 || day > 31 {
			continue
		}
		month, ok := monthNames[strings.TrimSuffix(m[2], ".")]
		if !ok {
			continue
		}
		year := defaultYear
		if m[3] != "" {
			if y, yErr := strconv.Atoi(m[3]); yErr == nil {
				year = y
			}
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
	}
	return "", false
}

// hasWeekday сообщает, содержит ли строка название дня недели.
func hasWeekday(lower string) bool {
	for _, word := range strings.Fields(lower) {
		if _, ok := weekdayNames[strings.Trim(word, ",.")]; ok {
			return true
		}
	}
	return false
}
