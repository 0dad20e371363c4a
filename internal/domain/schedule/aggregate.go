// Файл aggregate.go — слияние наблюдений одной смены с нескольких скриншотов.
// Кандидаты группируются по отпечатку локации; внутри группы два наблюдения
// сливаются, если их интервалы близки по циклическому времени либо один
// целиком содержит другой. Слияние транзитивно: связные компоненты отношения
// становятся одной агрегированной сменой.

package schedule

import "sort"

// DefaultTimeTolerance — допуск близости интервалов в минутах (|Δstart|+|Δend|).
const DefaultTimeTolerance = 5

// observation — наблюдение с провенансом (индекс скриншота, позиция на нём)
// для детерминированных тай-брейков.
type observation struct {
	shift Shift
	img   int
	pos   int
	start int // минуты; -1, если время отсутствует или нечитаемо
	end   int
}

// Aggregate сливает пер-скриншотные списки канонических смен в один список
// агрегированных смен дня. toleranceMin ≤ 0 заменяется на DefaultTimeTolerance.
// Результат отсортирован в каноническом порядке дня.
func Aggregate(perScreenshot [][]Shift, toleranceMin int) []Aggregated {
	if toleranceMin <= 0 {
		toleranceMin = DefaultTimeTolerance
	}

	var all []observation
	for img, shifts := range perScreenshot {
		for pos, s := range shifts {
			all = append(all, observation{
				shift: s,
				img:   img,
				pos:   pos,
				start: clockOrMissing(s.Start),
				end:   clockOrMissing(s.End),
			})
		}
	}
	if len(all) == 0 {
		return nil
	}

	// Группировка по отпечатку локации; порядок групп фиксируем сортировкой ключей.
	groups := make(map[string][]int)
	for i, obs := range all {
		groups[obs.shift.LocationFingerprint] = append(groups[obs.shift.LocationFingerprint], i)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result []Aggregated
	for _, key := range keys {
		members := groups[key]
		for _, component := range components(all, members, toleranceMin) {
			result = append(result, mergeComponent(all, component))
		}
	}

	sort.Slice(result, func(i, j int) bool { return less(result[i].Shift, result[j].Shift) })
	return result
}

// clockOrMissing парсит время смены; нечитаемое значение помечается -1 и
// исключает наблюдение из слияния по времени.
func clockOrMissing(value string) int {
	if value == "" {
		return -1
	}
	m, err := ParseClock(value)
	if err != nil {
		return -1
	}
	return m
}

// mergeEligible — отношение слияния двух наблюдений одной локации: близость
// интервалов в пределах допуска либо полное вложение одного в другой.
func mergeEligible(a, b observation, toleranceMin int) bool {
	if a.start < 0 || a.end < 0 || b.start < 0 || b.end < 0 {
		return false
	}
	if rangeDist(a.start, a.end, b.start, b.end) <= toleranceMin {
		return true
	}
	return containsRange(a.start, a.end, b.start, b.end) ||
		containsRange(b.start, b.end, a.start, a.end)
}

// components строит связные компоненты отношения слияния внутри группы
// (union-find с попарной проверкой; группы невелики).
func components(all []observation, members []int, toleranceMin int) [][]int {
	parent := make(map[int]int, len(members))
	for _, m := range members {
		parent[m] = m
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if mergeEligible(all[members[i]], all[members[j]], toleranceMin) {
				union(members[i], members[j])
			}
		}
	}

	byRoot := make(map[int][]int)
	var roots []int
	for _, m := range members {
		r := find(m)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], m)
	}
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

// mergeComponent собирает одну агрегированную смену из компоненты наблюдений.
// Правила: начало/конец — циклические крайние значения; строковые поля —
// самое длинное непустое с тай-брейком (img, pos); тип — большинством с
// тай-брейком по фиксированному порядку; отпечаток клиента — лексикографически
// наименьший.
func mergeComponent(all []observation, member []int) Aggregated {
	// Стабильный порядок внутри компоненты: (img, pos).
	sort.Slice(member, func(i, j int) bool {
		a, b := all[member[i]], all[member[j]]
		if a.img != b.img {
			return a.img < b.img
		}
		return a.pos < b.pos
	})

	obs := make([]observation, len(member))
	for i, m := range member {
		obs[i] = all[m]
	}

	merged := obs[0].shift
	merged.Start, merged.End = mergeTimes(obs)
	merged.CustomerName = longestNonEmpty(obs, func(s Shift) string { return s.CustomerName })
	merged.Street = longestNonEmpty(obs, func(s Shift) string { return s.Street })
	merged.StreetNumber = longestNonEmpty(obs, func(s Shift) string { return s.StreetNumber })
	merged.PostalCode = longestNonEmpty(obs, func(s Shift) string { return s.PostalCode })
	merged.PostalArea = longestNonEmpty(obs, func(s Shift) string { return s.PostalArea })
	merged.City = longestNonEmpty(obs, func(s Shift) string { return s.City })
	merged.Type = majorityType(obs)
	merged.CustomerFingerprint = smallestCustomer(obs)

	return Aggregated{Shift: merged, SourceCount: len(obs)}
}

// mergeTimes выбирает самое раннее начало и самый поздний конец компоненты
// с учётом цикличности суток. Наблюдения без времени не участвуют.
func mergeTimes(obs []observation) (string, string) {
	var starts, ends []int
	var timedIdx []int
	for i, o := range obs {
		if o.start >= 0 && o.end >= 0 {
			starts = append(starts, o.start)
			ends = append(ends, o.end)
			timedIdx = append(timedIdx, i)
		}
	}
	if len(starts) == 0 {
		return obs[0].shift.Start, obs[0].shift.End
	}
	startIdx := circularExtreme(starts, true)
	endIdx := circularExtreme(ends, false)
	return obs[timedIdx[startIdx]].shift.Start, obs[timedIdx[endIdx]].shift.End
}

// longestNonEmpty возвращает самое длинное непустое значение поля; при равной
// длине побеждает более раннее наблюдение (obs уже отсортированы по (img, pos)).
func longestNonEmpty(obs []observation, field func(Shift) string) string {
	best := ""
	for _, o := range obs {
		v := field(o.shift)
		if len(v) > len(best) {
			best = v
		}
	}
	return best
}

// majorityType голосует за тип смены; ничьи решает фиксированный порядок типов.
func majorityType(obs []observation) ShiftType {
	counts := make(map[ShiftType]int)
	for _, o := range obs {
		counts[o.shift.Type]++
	}
	best := obs[0].shift.Type
	for t, n := range counts {
		if n > counts[best] || (n == counts[best] && t.Rank() < best.Rank()) {
			best = t
		}
	}
	return best
}

// smallestCustomer возвращает лексикографически наименьший отпечаток клиента
// компоненты (отпечаток локации у компоненты общий по построению).
func smallestCustomer(obs []observation) string {
	best := obs[0].shift.CustomerFingerprint
	for _, o := range obs[1:] {
		if o.shift.CustomerFingerprint < best {
			best = o.shift.CustomerFingerprint
		}
	}
	return best
}
