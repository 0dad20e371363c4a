package clock

import "time"

// Now возвращает текущее время в UTC. Все метки времени воркера (лизинг,
// отсечки простоя, created_at) считаются в одной зоне, чтобы сравнения с
// базой были однозначными.
func Now() time.Time {
	return time.Now().UTC()
}
