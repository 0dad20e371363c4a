// Файл clockmath.go — арифметика времени на циклических 24 часах.
// Смены могут пересекать полночь, поэтому расстояния и выбор «раннего начала /
// позднего конца» считаются по модулю суток: наивные min/max над минутами
// от полуночи дают неверный результат для пары 23:50 и 00:10.

package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// minutesPerDay — длина суточного цикла в минутах.
const minutesPerDay = 24 * 60

// halfDay — максимально возможное циклическое расстояние между двумя точками.
const halfDay = minutesPerDay / 2

// ParseClock разбирает время в формате HH:MM или HH.MM и возвращает минуты от
// полуночи. Любая другая форма (лишние символы, часы >23, минуты >59) — ошибка.
func ParseClock(value string) (int, error) {
	sep := strings.IndexAny(value, ":.")
	if sep <= 0 || sep == len(value)-1 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM or HH.MM", value)
	}
	hh, mm := value[:sep], value[sep+1:]
	if len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM or HH.MM", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return h*60 + m, nil
}

// FormatClock возвращает каноническую запись HH:MM для минут от полуночи.
// Значение предварительно приводится к диапазону [0, 1440).
func FormatClock(minutes int) string {
	m := ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// clockDist — циклическое расстояние между двумя точками суток, всегда ≤ 720.
func clockDist(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= minutesPerDay
	if d > halfDay {
		d = minutesPerDay - d
	}
	return d
}

// rangeDist — расстояние между интервалами: сумма циклических расстояний
// начал и концов. Метрика симметрична и ограничена 2*720.
func rangeDist(aStart, aEnd, bStart, bEnd int) int {
	return clockDist(aStart, bStart) + clockDist(aEnd, bEnd)
}

// unwrapNear выбирает представление точки v (v, v±1440), ближайшее к ref.
// Используется, чтобы сравнивать точки одной компоненты на общей числовой оси.
func unwrapNear(v, ref int) int {
	d := v - ref
	for d > halfDay {
		d -= minutesPerDay
	}
	for d < -halfDay {
		d += minutesPerDay
	}
	return ref + d
}

// containsRange проверяет, что интервал b целиком лежит внутри a на цикле.
// Оба интервала разворачиваются (конец раньше начала означает переход через
// полночь), после чего b пробуется в сдвигах на ±сутки.
func containsRange(aStart, aEnd, bStart, bEnd int) bool {
	ae := aEnd
	if ae < aStart {
		ae += minutesPerDay
	}
	be := bEnd
	if be < bStart {
		be += minutesPerDay
	}
	for _, shift := range []int{-minutesPerDay, 0, minutesPerDay} {
		if aStart <= bStart+shift && be+shift <= ae {
			return true
		}
	}
	return false
}

// circularExtreme выбирает из values крайнее значение относительно центроида
// компоненты: при earliest=true — минимальное после разворачивания, иначе
// максимальное. Возвращает исходный индекс выбранного наблюдения.
func circularExtreme(values []int, earliest bool) int {
	ref := values[0]
	sum := 0
	for _, v := range values {
		sum += unwrapNear(v, ref)
	}
	centroid := sum / len(values)

	bestIdx := 0
	best := unwrapNear(values[0], centroid)
	for i, v := range values[1:] {
		u := unwrapNear(v, centroid)
		if (earliest && u < best) || (!earliest && u > best) {
			best = u
			bestIdx = i + 1
		}
	}
	return bestIdx
}
