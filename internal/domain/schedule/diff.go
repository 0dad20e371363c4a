// Файл diff.go — семантический дифф двух наблюдений одного дня.
// Обе стороны группируются по ключу идентичности (отпечаток локации +
// отпечаток клиента); внутри группы пары подбираются жадно по минимальному
// циклическому расстоянию интервалов. Классификация пар идёт в фиксированном
// порядке: время → тип → адрес → отображаемое имя; непарные смены дают
// added/removed. Чистая перестановка одинаковых смен событий не порождает.

package schedule

import "sort"

// EventType — закрытое множество типов событий изменения расписания.
type EventType string

const (
	EventShiftAdded        EventType = "shift_added"
	EventShiftRemoved      EventType = "shift_removed"
	EventShiftTimeChanged  EventType = "shift_time_changed"
	EventShiftRelocated    EventType = "shift_relocated"
	EventShiftRetitled     EventType = "shift_retitled"
	EventShiftReclassified EventType = "shift_reclassified"
)

// Event — одно семантическое изменение. Old/New несут полные канонические
// смены копией; у added отсутствует Old, у removed — New.
type Event struct {
	Type                EventType
	LocationFingerprint string
	CustomerFingerprint string
	Old                 *Shift
	New                 *Shift
}

// anchor возвращает смену, по которой событие позиционируется при сортировке:
// новая сторона, если она есть, иначе старая.
func (ev Event) anchor() *Shift {
	if ev.New != nil {
		return ev.New
	}
	return ev.Old
}

// Diff сравнивает прежние смены дня prior с новыми next и возвращает
// упорядоченный список событий. Порядок эмиссии детерминирован: сортировка по
// (event_type, location_fingerprint, start, end) якорной смены.
func Diff(prior, next []Shift) []Event {
	prevByKey := groupByIdentity(prior)
	nextByKey := groupByIdentity(next)

	keys := make([]IdentityKey, 0, len(prevByKey)+len(nextByKey))
	seen := make(map[IdentityKey]struct{})
	for _, s := range prior {
		if _, ok := seen[s.Identity()]; !ok {
			seen[s.Identity()] = struct{}{}
			keys = append(keys, s.Identity())
		}
	}
	for _, s := range next {
		if _, ok := seen[s.Identity()]; !ok {
			seen[s.Identity()] = struct{}{}
			keys = append(keys, s.Identity())
		}
	}

	var events []Event
	for _, key := range keys {
		p, n := prevByKey[key], nextByKey[key]
		paired, unpairedP, unpairedN := pairByTime(p, n)
		for _, pr := range paired {
			if ev, ok := classify(pr[0], pr[1]); ok {
				events = append(events, ev)
			}
		}
		for _, s := range unpairedN {
			added := s
			events = append(events, Event{
				Type:                EventShiftAdded,
				LocationFingerprint: s.LocationFingerprint,
				CustomerFingerprint: s.CustomerFingerprint,
				New:                 &added,
			})
		}
		for _, s := range unpairedP {
			removed := s
			events = append(events, Event{
				Type:                EventShiftRemoved,
				LocationFingerprint: s.LocationFingerprint,
				CustomerFingerprint: s.CustomerFingerprint,
				Old:                 &removed,
			})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.LocationFingerprint != b.LocationFingerprint {
			return a.LocationFingerprint < b.LocationFingerprint
		}
		as, bs := a.anchor(), b.anchor()
		if as.Start != bs.Start {
			return as.Start < bs.Start
		}
		return as.End < bs.End
	})
	return events
}

// groupByIdentity раскладывает смены по ключу идентичности, сохраняя порядок.
func groupByIdentity(shifts []Shift) map[IdentityKey][]Shift {
	out := make(map[IdentityKey][]Shift)
	for _, s := range shifts {
		out[s.Identity()] = append(out[s.Identity()], s)
	}
	return out
}

// pairByTime жадно подбирает пары по минимальной стоимости |Δstart|+|Δend|
// на циклических сутках: считается полная матрица стоимостей, на каждом шаге
// выбирается минимальная пара (тай-брейк по индексам), обе стороны изымаются.
func pairByTime(prior, next []Shift) (paired [][2]Shift, unpairedPrior, unpairedNext []Shift) {
	if len(prior) == 0 || len(next) == 0 {
		return nil, prior, next
	}

	cost := make([][]int, len(prior))
	for i, p := range prior {
		cost[i] = make([]int, len(next))
		for j, n := range next {
			cost[i][j] = pairCost(p, n)
		}
	}

	usedP := make([]bool, len(prior))
	usedN := make([]bool, len(next))
	pairs := min(len(prior), len(next))
	for range pairs {
		bestI, bestJ, best := -1, -1, 0
		for i := range prior {
			if usedP[i] {
				continue
			}
			for j := range next {
				if usedN[j] {
					continue
				}
				if bestI < 0 || cost[i][j] < best {
					bestI, bestJ, best = i, j, cost[i][j]
				}
			}
		}
		usedP[bestI], usedN[bestJ] = true, true
		paired = append(paired, [2]Shift{prior[bestI], next[bestJ]})
	}

	for i, u := range usedP {
		if !u {
			unpairedPrior = append(unpairedPrior, prior[i])
		}
	}
	for j, u := range usedN {
		if !u {
			unpairedNext = append(unpairedNext, next[j])
		}
	}
	return paired, unpairedPrior, unpairedNext
}

// pairCost — стоимость пары для жадного подбора. Нечитаемые времена дают
// максимальную стоимость, чтобы такие пары подбирались последними.
func pairCost(p, n Shift) int {
	ps, pe := clockOrMissing(p.Start), clockOrMissing(p.End)
	ns, ne := clockOrMissing(n.Start), clockOrMissing(n.End)
	if ps < 0 || pe < 0 || ns < 0 || ne < 0 {
		return 2 * halfDay
	}
	return rangeDist(ps, pe, ns, ne)
}

// classify определяет тип события для пары (старое, новое) в фиксированном
// порядке проверок. Идентичные смены события не порождают.
func classify(p, n Shift) (Event, bool) {
	old, cur := p, n
	ev := Event{
		LocationFingerprint: n.LocationFingerprint,
		CustomerFingerprint: n.CustomerFingerprint,
		Old:                 &old,
		New:                 &cur,
	}
	switch {
	case !sameTimes(p, n):
		ev.Type = EventShiftTimeChanged
	case p.Type != n.Type:
		ev.Type = EventShiftReclassified
	case !sameAddress(p, n):
		ev.Type = EventShiftRelocated
	case p.CustomerName != n.CustomerName:
		ev.Type = EventShiftRetitled
	default:
		return Event{}, false
	}
	return ev, true
}
