// Package layout — разбор геометрии скриншота: превращает плоский список
// текстовых боксов в записи смен. Алгоритм чисто геометрический и
// детерминированный: разрез на колонки по наибольшему горизонтальному разрыву,
// сборка строк по y-центру, группировка строк в карточки по вертикальным
// зазорам. Карточка без строки времени считается верхним хромом интерфейса и
// отбрасывается. Времена вида HH:MM и HH.MM нормализуются к HH:MM.
package layout

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"schedule-worker/internal/ocr"
)

// Entry — сырая запись одной смены, извлечённая из карточки.
type Entry struct {
	Start    string
	End      string
	Title    string
	Location string
	Address  string
}

// timeRangePattern матчит интервал "HH:MM - HH:MM" с точкой или двоеточием
// в роли разделителя и любым из распространённых дефисов.
var timeRangePattern = regexp.MustCompile(`(\d{1,2})[:.](\d{2})\s*[-–—]\s*(\d{1,2})[:.](\d{2})`)

// locationHints — метки типа места, которые приложение печатает отдельной
// строкой карточки.
var locationHints = []string{"skola", "skolan", "kontor", "kontoret", "hemstäd", "hembesök", "hemma"}

const (
	// minColumnGapRatio — доля ширины контента, начиная с которой горизонтальный
	// разрыв считается границей колонок.
	minColumnGapRatio = 0.22
	// cardGapFactor — множитель медианной высоты строки для зазора между карточками.
	cardGapFactor = 1.8
	// minCardGap — нижняя граница зазора между карточками в пикселях.
	minCardGap = 18.0
)

// Parse превращает боксы одного скриншота в упорядоченный список записей:
// колонки слева направо, карточки сверху вниз.
func Parse(boxes []ocr.Box) []Entry {
	var entries []Entry
	for _, column := range splitColumns(boxes) {
		lines := assembleLines(column)
		for _, card := range groupCards(lines) {
			if entry, ok := parseCard(card); ok {
				entries = append(entries, entry)
			}
		}
	}
	return entries
}

// line — одна собранная строка текста с геометрией.
type line struct {
	text    string
	yCenter float64
	height  float64
}

// splitColumns режет боксы на колонки по наибольшему разрыву x-центров.
// Разрыв уже minColumnGapRatio от ширины контента колонкой не считается.
func splitColumns(boxes []ocr.Box) [][]ocr.Box {
	if len(boxes) == 0 {
		return nil
	}

	sorted := make([]ocr.Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].X+sorted[i].W/2 < sorted[j].X+sorted[j].W/2
	})

	minC := sorted[0].X + sorted[0].W/2
	maxC := sorted[len(sorted)-1].X + sorted[len(sorted)-1].W/2
	span := maxC - minC
	if span <= 0 {
		return [][]ocr.Box{sorted}
	}

	bestGap, bestIdx := 0.0, -1
	for i := 1; i < len(sorted); i++ {
		gap := (sorted[i].X + sorted[i].W/2) - (sorted[i-1].X + sorted[i-1].W/2)
		if gap > bestGap {
			bestGap, bestIdx = gap, i
		}
	}
	if bestIdx < 0 || bestGap < span*minColumnGapRatio {
		return [][]ocr.Box{sorted}
	}
	return [][]ocr.Box{sorted[:bestIdx], sorted[bestIdx:]}
}

// assembleLines собирает строки колонки по y-центру; допуск —
// max(8, 0.6 * медианная высота бокса).
func assembleLines(boxes []ocr.Box) []line {
	if len(boxes) == 0 {
		return nil
	}

	sorted := make([]ocr.Box, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Y+sorted[i].H/2 < sorted[j].Y+sorted[j].H/2
	})
	tolerance := lineTolerance(sorted)

	var groups [][]ocr.Box
	for _, b := range sorted {
		center := b.Y + b.H/2
		if len(groups) > 0 {
			first := groups[len(groups)-1][0]
			if center-(first.Y+first.H/2) <= tolerance {
				groups[len(groups)-1] = append(groups[len(groups)-1], b)
				continue
			}
		}
		groups = append(groups, []ocr.Box{b})
	}

	lines := make([]line, 0, len(groups))
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return group[i].X < group[j].X })
		var words []string
		var ySum, height float64
		for _, b := range group {
			if t := strings.TrimSpace(b.Text); t != "" {
				words = append(words, t)
			}
			ySum += b.Y + b.H/2
			if b.H > height {
				height = b.H
			}
		}
		if len(words) == 0 {
			continue
		}
		lines = append(lines, line{
			text:    strings.Join(words, " "),
			yCenter: ySum / float64(len(group)),
			height:  height,
		})
	}
	return lines
}

// lineTolerance повторяет допуск кластеризации строк.
func lineTolerance(boxes []ocr.Box) float64 {
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

// groupCards режет строки на карточки по вертикальному зазору больше
// max(minCardGap, cardGapFactor * медианная высота строки).
func groupCards(lines []line) [][]line {
	if len(lines) == 0 {
		return nil
	}

	heights := make([]float64, len(lines))
	for i, l := range lines {
		heights[i] = l.height
	}
	sort.Float64s(heights)
	gap := heights[len(heights)/2] * cardGapFactor
	if gap < minCardGap {
		gap = minCardGap
	}

	cards := [][]line{{lines[0]}}
	for _, l := range lines[1:] {
		prev := cards[len(cards)-1]
		if l.yCenter-prev[len(prev)-1].yCenter > gap {
			cards = append(cards, []line{l})
			continue
		}
		cards[len(cards)-1] = append(prev, l)
	}
	return cards
}

// parseCard извлекает запись из карточки. Карточка без строки времени —
// заголовок или хром приложения, такие пропускаются.
func parseCard(card []line) (Entry, bool) {
	timeIdx := -1
	var start, end string
	for i, l := range card {
		if m := timeRangePattern.FindStringSubmatch(l.text); m != nil {
			start = normalizeTime(m[1], m[2])
			end = normalizeTime(m[3], m[4])
			timeIdx = i
			break
		}
	}
	if timeIdx < 0 {
		return Entry{}, false
	}

	entry := Entry{Start: start, End: end}
	var addressParts []string
	for i, l := range card {
		if i == timeIdx {
			continue
		}
		text := strings.TrimSpace(l.text)
		if text == "" {
			continue
		}
		switch {
		case entry.Title == "":
			entry.Title = text
		case entry.Location == "" && isLocationHint(text):
			entry.Location = text
		default:
			addressParts = append(addressParts, text)
		}
	}
	entry.Address = strings.Join(addressParts, ", ")
	return entry, true
}

// normalizeTime собирает HH:MM из часов и минут с паддингом часов.
func normalizeTime(hh, mm string) string {
	h, _ := strconv.Atoi(hh)
	return fmt.Sprintf("%02d:%s", h, mm)
}

// isLocationHint проверяет, что строка — метка типа места.
func isLocationHint(text string) bool {
	lower := strings.ToLower(text)
	for _, hint := range locationHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
