// Файл mapper.go — перевод событий изменения расписания в человекочитаемые
// уведомления. Правила: уже уведомлённые события отбрасываются; при всплеске
// (количество оставшихся ≥ порога) вместо пачки отдельных сообщений строится
// одно сводное. Тексты собираются только из канонических полей, сырые строки
// OCR сюда не попадают.

package notifications

import (
	"fmt"
	"strings"

	"schedule-worker/internal/domain/schedule"
)

// Kind — тип уведомления: отдельное событие либо сводка.
type Kind string

const (
	KindEvent   Kind = "event"
	KindSummary Kind = "summary"
)

// DefaultSummaryThreshold — порог схлопывания событий в сводку.
const DefaultSummaryThreshold = 3

// EventRecord — событие вместе с его персистентным идентификатором.
type EventRecord struct {
	EventID string
	Event   schedule.Event
}

// Notification — исходящее сообщение, готовое к записи в хранилище.
type Notification struct {
	ID              string
	UserID          int64
	ScheduleDate    string
	SourceSessionID string
	Kind            Kind
	Message         string
	EventIDs        []string
}

// Build строит уведомления по событиям одной обработанной сессии.
// already — множество event_id, по которым уведомления уже отправлялись;
// такие события молча пропускаются. threshold ≤ 0 заменяется на дефолт.
func Build(
	userID int64,
	scheduleDate, sessionID string,
	events []EventRecord,
	already map[string]struct{},
	threshold int,
) []Notification {
	if threshold <= 0 {
		threshold = DefaultSummaryThreshold
	}

	fresh := make([]EventRecord, 0, len(events))
	for _, rec := range events {
		if _, seen := already[rec.EventID]; seen {
			continue
		}
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return nil
	}

	if len(fresh) >= threshold {
		return []Notification{buildSummary(userID, scheduleDate, sessionID, fresh)}
	}

	out := make([]Notification, 0, len(fresh))
	for _, rec := range fresh {
		ids := []string{rec.EventID}
		out = append(out, Notification{
			ID:              NotificationID(userID, scheduleDate, sessionID, KindEvent, ids),
			UserID:          userID,
			ScheduleDate:    scheduleDate,
			SourceSessionID: sessionID,
			Kind:            KindEvent,
			Message:         eventMessage(scheduleDate, rec.Event),
			EventIDs:        ids,
		})
	}
	return out
}

// buildSummary собирает одно сводное уведомление: счётчики по типам событий
// в фиксированном порядке плюс полный список исходных event_ids.
func buildSummary(userID int64, scheduleDate, sessionID string, events []EventRecord) Notification {
	counts := make(map[schedule.EventType]int)
	ids := make([]string, 0, len(events))
	for _, rec := range events {
		counts[rec.Event.Type]++
		ids = append(ids, rec.EventID)
	}

	order := []struct {
		typ   schedule.EventType
		label string
	}{
		{schedule.EventShiftAdded, "added"},
		{schedule.EventShiftRemoved, "removed"},
		{schedule.EventShiftTimeChanged, "time changed"},
		{schedule.EventShiftRelocated, "relocated"},
		{schedule.EventShiftRetitled, "retitled"},
		{schedule.EventShiftReclassified, "reclassified"},
	}
	var parts []string
	for _, o := range order {
		if n := counts[o.typ]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o.label))
		}
	}

	msg := fmt.Sprintf("%s: %d schedule changes (%s)", scheduleDate, len(events), strings.Join(parts, ", "))
	return Notification{
		ID:              NotificationID(userID, scheduleDate, sessionID, KindSummary, ids),
		UserID:          userID,
		ScheduleDate:    scheduleDate,
		SourceSessionID: sessionID,
		Kind:            KindSummary,
		Message:         msg,
		EventIDs:        ids,
	}
}

// eventMessage строит однострочный текст по типу события.
func eventMessage(date string, ev schedule.Event) string {
	switch ev.Type {
	case schedule.EventShiftTimeChanged:
		return timeChangeMessage(date, ev)
	case schedule.EventShiftAdded:
		s := ev.New
		return fmt.Sprintf("%s: %s added %s-%s", date, customer(s), s.Start, s.End)
	case schedule.EventShiftRemoved:
		s := ev.Old
		return fmt.Sprintf("%s: %s removed %s-%s", date, customer(s), s.Start, s.End)
	case schedule.EventShiftRelocated:
		s := ev.New
		return fmt.Sprintf("%s: %s relocated to %s", date, customer(s), address(s))
	case schedule.EventShiftRetitled:
		return fmt.Sprintf("%s: %s renamed to %s", date, customer(ev.Old), customer(ev.New))
	case schedule.EventShiftReclassified:
		return fmt.Sprintf("%s: %s is now %s", date, customer(ev.New), ev.New.Type)
	default:
		return fmt.Sprintf("%s: schedule changed", date)
	}
}

// timeChangeMessage различает сдвиг начала, конца или обоих концов.
func timeChangeMessage(date string, ev schedule.Event) string {
	old, cur := ev.Old, ev.New
	name := customer(cur)
	switch {
	case old.Start != cur.Start && old.End != cur.End:
		return fmt.Sprintf("%s: %s %s-%s → %s-%s", date, name, old.Start, old.End, cur.Start, cur.End)
	case old.Start != cur.Start:
		return fmt.Sprintf("%s: %s moved %s → %s", date, name, old.Start, cur.Start)
	default:
		return fmt.Sprintf("%s: %s ends %s → %s", date, name, old.End, cur.End)
	}
}

// customer возвращает отображаемое имя клиента либо заглушку для пустого.
func customer(s *schedule.Shift) string {
	if s == nil || s.CustomerName == "" {
		return "unknown customer"
	}
	return s.CustomerName
}

// address собирает короткую адресную строку из непустых частей.
func address(s *schedule.Shift) string {
	var parts []string
	for _, p := range []string{s.Street, s.StreetNumber, s.PostalCode, s.PostalArea, s.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "unknown address"
	}
	return strings.Join(parts, " ")
}
