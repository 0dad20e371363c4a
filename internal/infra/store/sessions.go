// Файл sessions.go — жизненный цикл capture-сессий: атомарный захват с гейтом
// простоя, heartbeat лизинга и финализация. Все мутации защищены guard'ом
// locked_by = workerID; нулевое число затронутых строк трактуется как потеря
// лизинга, после которой воркер обязан прервать обработку без записей.

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"schedule-worker/internal/domain/faults"
)

// maxErrorLen ограничивает длину текста ошибки в capture_session.error.
const maxErrorLen = 4000

// Session — захваченная capture-сессия.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	// Reclaimed = true, если сессия отобрана у воркера с протухшим лизингом,
	// а не финализирована из pending.
	Reclaimed bool
}

// Image — одна строка capture_image в порядке съёмки.
type Image struct {
	ID       string
	Sequence int
	R2Key    string
}

// claimQuery выбирает первую сессию, пригодную к обработке: либо pending,
// прошедшую гейт простоя (есть снимки и ни одного свежее отсечки), либо
// processing с протухшим лизингом. pending имеет приоритет; внутри группы
// порядок по created_at. SKIP LOCKED гарантирует, что конкуренты не встанут
// в очередь за той же строкой.
const claimQuery = `
SELECT id, user_id, state, created_at
FROM capture_session AS cs
WHERE (cs.state = $1
       AND EXISTS (SELECT 1 FROM capture_image ci WHERE ci.session_id = cs.id)
       AND NOT EXISTS (
           SELECT 1 FROM capture_image ci
           WHERE ci.session_id = cs.id
             AND ci.created_at > now() - make_interval(secs => $3)))
   OR (cs.state = $2
       AND cs.locked_at IS NOT NULL
       AND cs.locked_at <= now() - make_interval(secs => $4))
ORDER BY (cs.state = $1) DESC, cs.created_at
LIMIT 1
FOR UPDATE SKIP LOCKED`

// ClaimNext атомарно захватывает следующую пригодную сессию: переводит её в
// processing и ставит лизинг (locked_at=now, locked_by=workerID). Возвращает
// nil, nil если пригодных сессий нет. Захват и перевод состояния выполняются
// в одной транзакции, так что проигравшие гонку воркеры не видят строку вовсе.
func (s *Store) ClaimNext(ctx context.Context, idleTimeout, leaseTimeout time.Duration) (*Session, error) {
	var claimed *Session
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			sess  Session
			state string
		)
		row := tx.QueryRow(ctx, claimQuery,
			s.states.Pending, s.states.Processing,
			int64(idleTimeout.Seconds()), int64(leaseTimeout.Seconds()))
		if err := row.Scan(&sess.ID, &sess.UserID, &state, &sess.CreatedAt); err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "select claimable session")
		}
		sess.Reclaimed = state == s.states.Processing

		_, err := tx.Exec(ctx,
			`UPDATE capture_session SET state = $2, locked_at = now(), locked_by = $3 WHERE id = $1`,
			sess.ID, s.states.Processing, s.workerID)
		if err != nil {
			return faults.Wrap(faults.TransientDB, faults.StageDB, err, "claim session")
		}
		claimed = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CountWaiting возвращает число pending-сессий, у которых уже есть снимки,
// но гейт простоя ещё не прошёл. Используется для события session.skipped_idle.
func (s *Store) CountWaiting(ctx context.Context, idleTimeout time.Duration) (int, error) {
	const query = `
SELECT count(*)
FROM capture_session AS cs
WHERE cs.state = $1
  AND EXISTS (SELECT 1 FROM capture_image ci WHERE ci.session_id = cs.id)
  AND EXISTS (
      SELECT 1 FROM capture_image ci
      WHERE ci.session_id = cs.id
        AND ci.created_at > now() - make_interval(secs => $2))`

	var count int
	err := s.pool.QueryRow(ctx, query, s.states.Pending, int64(idleTimeout.Seconds())).Scan(&count)
	if err != nil {
		return 0, faults.Wrap(faults.TransientDB, faults.StageDB, err, "count waiting sessions")
	}
	return count, nil
}

// Images возвращает снимки сессии в порядке съёмки (sequence).
func (s *Store) Images(ctx context.Context, sessionID string) ([]Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sequence, r2_key FROM capture_image WHERE session_id = $1 ORDER BY sequence`,
		sessionID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "select session images")
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.Sequence, &img.R2Key); err != nil {
			return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "scan image row")
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.TransientDB, faults.StageDB, err, "iterate image rows")
	}
	return images, nil
}

// Heartbeat продлевает лизинг (locked_at=now) под guard'ом locked_by.
// Ноль затронутых строк означает, что лизинг перехвачен: возвращается
// faults.LeaseLost, и вызывающий обязан прервать обработку.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE capture_session SET locked_at = now() WHERE id = $1 AND locked_by = $2 AND state = $3`,
		sessionID, s.workerID, s.states.Processing)
	if err != nil {
		return faults.Wrap(faults.TransientDB, faults.StageDB, err, "heartbeat")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle,
			"lease on session %s lost during heartbeat", sessionID)
	}
	return nil
}

// MarkDone завершает сессию успехом: state=done, лизинг снимается.
// Guard по locked_by тот же, что и у heartbeat.
func (s *Store) MarkDone(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE capture_session
		 SET state = $3, locked_at = NULL, locked_by = NULL, error = NULL
		 WHERE id = $1 AND locked_by = $2`,
		sessionID, s.workerID, s.states.Done)
	if err != nil {
		return faults.Wrap(faults.TransientDB, faults.StageDB, err, "mark session done")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle,
			"lease on session %s lost before finalize", sessionID)
	}
	return nil
}

// MarkFailed завершает сессию ошибкой: state=failed, непустой текст ошибки,
// лизинг снимается. Текст усекается до maxErrorLen, чтобы не раздувать строку.
func (s *Store) MarkFailed(ctx context.Context, sessionID, errText string) error {
	if errText == "" {
		errText = "unknown error"
	}
	if len(errText) > maxErrorLen {
		errText = errText[:maxErrorLen]
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE capture_session
		 SET state = $3, error = $4, locked_at = NULL, locked_by = NULL
		 WHERE id = $1 AND locked_by = $2`,
		sessionID, s.workerID, s.states.Failed, errText)
	if err != nil {
		return faults.Wrap(faults.TransientDB, faults.StageDB, err, "mark session failed")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle,
			"lease on session %s lost before failure finalize", sessionID)
	}
	return nil
}
