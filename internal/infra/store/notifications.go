// Файл notifications.go — персист исходящих уведомлений.
// Воркер только вставляет строки со status=pending; доставкой и переводом
// статусов занимается отдельный downstream-актор. Конфликт по notification_id
// игнорируется: детерминированный ключ делает повторную генерацию безвредной.

package store

import (
	"context"

	"github.com/go-faster/jx"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/domain/notifications"
)

// StoreNotifications вставляет сгенерированные уведомления с conflict-ignore
// по notification_id. Возвращает число реально вставленных строк.
func (s *Store) StoreNotifications(ctx context.Context, items []notifications.Notification) (int, error) {
	stored := 0
	for _, n := range items {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO schedule_notification
			   (notification_id, user_id, schedule_date, source_session_id,
			    status, notification_type, message, event_ids, created_at)
			 VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, now())
			 ON CONFLICT (notification_id) DO NOTHING`,
			n.ID, n.UserID, n.ScheduleDate, n.SourceSessionID,
			string(n.Kind), n.Message, encodeEventIDs(n.EventIDs))
		if err != nil {
			return stored, faults.Wrap(faults.TransientDB, faults.StageDB, err, "insert notification")
		}
		stored += int(tag.RowsAffected())
	}
	return stored, nil
}

// encodeEventIDs кодирует список event_id как JSON-массив строк.
func encodeEventIDs(ids []string) []byte {
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, id := range ids {
			e.Str(id)
		}
	})
	return e.Bytes()
}
