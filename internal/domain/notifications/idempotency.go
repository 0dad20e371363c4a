// Package notifications: идемпотентность исходящих сообщений через
// детерминированные идентификаторы. Хранилище дедуплицирует вставки по
// notification_id, поэтому идентификатор обязан быть функцией содержимого:
// одна и та же комбинация (пользователь, дата, сессия, тип, события) при любом
// ретрае или перезапуске даёт один и тот же ключ.
package notifications

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// NotificationID вычисляет детерминированный первичный ключ уведомления:
// hex SHA-256 от "user_id|schedule_date|source_session_id|type|sorted_event_ids".
// Список событий предварительно сортируется, чтобы порядок генерации не влиял
// на ключ; сами event_ids склеиваются запятой.
func NotificationID(userID int64, scheduleDate, sessionID string, kind Kind, eventIDs []string) string {
	ids := make([]string, len(eventIDs))
	copy(ids, eventIDs)
	sort.Strings(ids)

	parts := []string{
		strconv.FormatInt(userID, 10),
		scheduleDate,
		sessionID,
		string(kind),
		strings.Join(ids, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
