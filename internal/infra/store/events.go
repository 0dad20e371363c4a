// Файл events.go — журнал семантических событий и снапшот дня.
// Вставка событий и upsert снапшота выполняются в одной транзакции; дубликаты
// гасятся уникальным индексом по (user_id, schedule_date, location_fingerprint,
// event_type, old_value_hash, new_value_hash), так что повтор того же цикла
// диффа не рождает новых строк.

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/domain/notifications"
	"schedule-worker/internal/domain/schedule"
)

// LoadSnapshot читает прежний снапшот дня (diff-базу). Отсутствие строки
// означает пустой день и не является ошибкой.
func (s *Store) LoadSnapshot(ctx context.Context, userID int64, scheduleDate string) ([]schedule.Shift, error) {
	var raw []byte
	row := s.pool.QueryRow(ctx,
		`SELECT snapshot_payload FROM day_snapshot WHERE user_id = $1 AND schedule_date = $2`,
		userID, scheduleDate)
	switch err := row.Scan(&raw); err {
	case nil:
	case pgx.ErrNoRows:
		return nil, nil
	default:
		return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "load day snapshot")
	}

	shifts, err := schedule.DecodeShifts(raw)
	if err != nil {
		return nil, faults.Wrap(faults.SchemaContract, faults.StageDB, err, "decode day snapshot")
	}
	return shifts, nil
}

// PersistCycle атомарно фиксирует один цикл диффа: вставляет события с
// дедупликацией и перезаписывает снапшот дня новыми сменами. Возвращает все
// события с source_session_id этой сессии (не только вставленные в этом
// цикле) и число вставленных строк. Перечитывание обязательно: после падения
// воркера между фиксацией событий и записью уведомлений повторный захват
// сессии диффует уже обновлённый снапшот, получает ноль новых событий и без
// перечитывания навсегда потерял бы уведомления. Идемпотентность повторной
// доставки обеспечивают кэш уведомлённых event_id и конфликт по
// notification_id в базе.
func (s *Store) PersistCycle(
	ctx context.Context,
	userID int64,
	scheduleDate, sessionID string,
	events []schedule.Event,
	snapshot []schedule.Shift,
) ([]notifications.EventRecord, int, error) {
	const insertEvent = `
INSERT INTO schedule_event
  (event_id, user_id, schedule_date, event_type,
   location_fingerprint, customer_fingerprint,
   old_value, new_value, old_value_hash, new_value_hash,
   detected_at, source_session_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), $11)
ON CONFLICT (user_id, schedule_date, location_fingerprint, event_type, old_value_hash, new_value_hash)
DO NOTHING
RETURNING event_id`

	inserted := 0
	var records []notifications.EventRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, ev := range events {
			var oldJSON, newJSON []byte
			if ev.Old != nil {
				oldJSON = schedule.EncodeShift(*ev.Old)
			}
			if ev.New != nil {
				newJSON = schedule.EncodeShift(*ev.New)
			}

			var eventID string
			row := tx.QueryRow(ctx, insertEvent,
				uuid.NewString(), userID, scheduleDate, string(ev.Type),
				ev.LocationFingerprint, ev.CustomerFingerprint,
				oldJSON, newJSON,
				schedule.ValueHash(ev.Old), schedule.ValueHash(ev.New),
				sessionID)
			switch err := row.Scan(&eventID); err {
			case nil:
				inserted++
			case pgx.ErrNoRows:
				// Дубликат логического события: строка уже есть, новой не будет.
			default:
				return faults.Wrap(faults.TransientDB, faults.StageDB, err, "insert schedule event")
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO day_snapshot (user_id, schedule_date, snapshot_payload, source_session_id, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (user_id, schedule_date)
			 DO UPDATE SET snapshot_payload = EXCLUDED.snapshot_payload,
			               source_session_id = EXCLUDED.source_session_id,
			               updated_at = now()`,
			userID, scheduleDate, schedule.EncodeShifts(snapshot), sessionID)
		if err != nil {
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "upsert day snapshot")
		}

		records, err = loadSessionEvents(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return records, inserted, nil
}

// loadSessionEvents перечитывает все события сессии в детерминированном
// порядке и восстанавливает их доменную форму из old_value/new_value.
func loadSessionEvents(ctx context.Context, tx pgx.Tx, sessionID string) ([]notifications.EventRecord, error) {
	rows, err := tx.Query(ctx,
		`SELECT event_id, event_type, location_fingerprint, customer_fingerprint, old_value, new_value
		 FROM schedule_event
		 WHERE source_session_id = $1
		 ORDER BY event_type, location_fingerprint, event_id`,
		sessionID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "select session events")
	}
	defer rows.Close()

	var records []notifications.EventRecord
	for rows.Next() {
		var (
			rec              notifications.EventRecord
			eventType        string
			oldJSON, newJSON []byte
		)
		if err := rows.Scan(&rec.EventID, &eventType,
			&rec.Event.LocationFingerprint, &rec.Event.CustomerFingerprint,
			&oldJSON, &newJSON); err != nil {
			return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "scan session event")
		}
		rec.Event.Type = schedule.EventType(eventType)
		if rec.Event.Old, err = decodeValue(oldJSON); err != nil {
			return nil, err
		}
		if rec.Event.New, err = decodeValue(newJSON); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "iterate session events")
	}
	return records, nil
}

// decodeValue разбирает nullable-колонку old_value/new_value.
func decodeValue(raw []byte) (*schedule.Shift, error) {
	if raw == nil {
		return nil, nil
	}
	s, err := schedule.DecodeShift(raw)
	if err != nil {
		return nil, faults.Wrap(faults.SchemaContract, faults.StageDB, err, "decode event value")
	}
	return &s, nil
}
