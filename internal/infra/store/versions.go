// Файл versions.go — запись неизменяемых версий канонического дня.
// Конкурентные писатели одного (user_id, schedule_date) сериализуются
// транзакционной advisory-блокировкой; повтор той же сессии упирается в
// уникальность session_id и классифицируется как AlreadyExisted.

package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"schedule-worker/internal/domain/faults"
)

// VersionOutcome — исход попытки записать версию.
type VersionOutcome string

const (
	// VersionUnchanged — хэш полезной нагрузки совпал с последней версией, запись не нужна.
	VersionUnchanged VersionOutcome = "unchanged"
	// VersionCreated — вставлена новая версия.
	VersionCreated VersionOutcome = "created"
	// VersionAlreadyExisted — вставка упёрлась в уникальность (ретрай той же сессии).
	VersionAlreadyExisted VersionOutcome = "already_existed"
)

// WriteVersion записывает новую версию канонического дня для (userID, scheduleDate).
// Внутри одной транзакции: advisory-блокировка по паре ключей, чтение последней
// версии, сравнение хэшей, вставка version = latest+1 с conflict-ignore.
// Возвращает исход и номер актуальной версии.
func (s *Store) WriteVersion(
	ctx context.Context,
	userID int64,
	scheduleDate, sessionID string,
	payload []byte,
	payloadHash string,
) (VersionOutcome, int, error) {
	outcome := VersionUnchanged
	version := 0

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Сериализация конкурентных писателей одного дня. Блокировка
		// транзакционная: снимется сама при COMMIT/ROLLBACK.
		_, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1::text), hashtext($2))`,
			userID, scheduleDate)
		if err != nil {
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "acquire day lock")
		}

		var (
			latest     int
			latestHash string
		)
		row := tx.QueryRow(ctx,
			`SELECT version, payload_hash FROM schedule_version
			 WHERE user_id = $1 AND schedule_date = $2
			 ORDER BY version DESC LIMIT 1`,
			userID, scheduleDate)
		switch err := row.Scan(&latest, &latestHash); err {
		case nil:
		case pgx.ErrNoRows:
			latest = 0
		default:
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "read latest version")
		}

		if latest > 0 && latestHash == payloadHash {
			outcome = VersionUnchanged
			version = latest
			return nil
		}

		next := latest + 1
		row = tx.QueryRow(ctx,
			`INSERT INTO schedule_version
			   (user_id, schedule_date, version, session_id, payload, payload_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT DO NOTHING
			 RETURNING version`,
			userID, scheduleDate, next, sessionID, payload, payloadHash)
		switch err := row.Scan(&version); err {
		case nil:
			outcome = VersionCreated
		case pgx.ErrNoRows:
			// Конфликт по (user_id, schedule_date, version) либо session_id:
			// версия этой сессии уже записана раньше.
			outcome = VersionAlreadyExisted
			version = latest
		default:
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "insert version")
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return outcome, version, nil
}
