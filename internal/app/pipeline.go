// Файл pipeline.go — обработка одной захваченной сессии от снимков до done.
// Последовательность: чтение снимков → агрегация → канонизация → версия →
// дифф со снапшотом → события → уведомления → финализация. Параллельно с
// обработкой живёт heartbeat; потеря лизинга отменяет контекст обработки,
// и ни одна последующая мутация не выполняется.

package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/domain/notifications"
	"schedule-worker/internal/domain/schedule"
	"schedule-worker/internal/infra/logger"
	"schedule-worker/internal/infra/store"
)

// SessionStore — контракт пайплайна к базе. Реализуется *store.Store;
// в тестах подменяется фейком без PostgreSQL.
type SessionStore interface {
	ClaimNext(ctx context.Context, idleTimeout, leaseTimeout time.Duration) (*store.Session, error)
	CountWaiting(ctx context.Context, idleTimeout time.Duration) (int, error)
	Images(ctx context.Context, sessionID string) ([]store.Image, error)
	Heartbeat(ctx context.Context, sessionID string) error
	MarkDone(ctx context.Context, sessionID string) error
	MarkFailed(ctx context.Context, sessionID, errText string) error
	WriteVersion(ctx context.Context, userID int64, scheduleDate, sessionID string,
		payload []byte, payloadHash string) (store.VersionOutcome, int, error)
	LoadSnapshot(ctx context.Context, userID int64, scheduleDate string) ([]schedule.Shift, error)
	PersistCycle(ctx context.Context, userID int64, scheduleDate, sessionID string,
		events []schedule.Event, snapshot []schedule.Shift) ([]notifications.EventRecord, int, error)
	StoreNotifications(ctx context.Context, items []notifications.Notification) (int, error)
}

// NotifiedCache — локальный кэш уведомлённых событий (bbolt).
type NotifiedCache interface {
	Seen(ids []string) (map[string]struct{}, error)
	Mark(ids []string) error
}

// ImageDay — результат интерпретации одного снимка.
type ImageDay struct {
	ScheduleDate string // дата, извлечённая из снимка; пустая, если не найдена
	BoxCount     int
	Shifts       []schedule.Shift
}

// DayReader превращает один снимок сессии в смены. Реализации: OCR-пайплайн
// и fixture-набор для офлайн-прогонов.
type DayReader interface {
	ReadImage(ctx context.Context, key string) (ImageDay, error)
}

// Pipeline связывает хранилище, чтение снимков и кэш уведомлений.
type Pipeline struct {
	store            SessionStore
	reader           DayReader
	cache            NotifiedCache
	heartbeatEvery   time.Duration
	summaryThreshold int
	timeToleranceMin int
}

// NewPipeline собирает пайплайн обработки сессий.
func NewPipeline(
	st SessionStore,
	reader DayReader,
	cache NotifiedCache,
	heartbeatEvery time.Duration,
	summaryThreshold, timeToleranceMin int,
) *Pipeline {
	return &Pipeline{
		store:            st,
		reader:           reader,
		cache:            cache,
		heartbeatEvery:   heartbeatEvery,
		summaryThreshold: summaryThreshold,
		timeToleranceMin: timeToleranceMin,
	}
}

// Process обрабатывает одну захваченную сессию до терминального состояния.
// Ошибки обработки переводят сессию в failed; потеря лизинга прерывает
// итерацию без каких-либо записей. Возвращаемая ошибка описывает итог
// для вызывающего цикла, финализация уже выполнена внутри.
func (p *Pipeline) Process(ctx context.Context, sess *store.Session) error {
	correlationID := uuid.NewString()
	fields := []zap.Field{
		zap.String("session_id", sess.ID),
		zap.Int64("user_id", sess.UserID),
		zap.String("correlation_id", correlationID),
	}

	logger.Event("session.finalized", append(fields, zap.Bool("reclaimed", sess.Reclaimed))...)

	// Контекст обработки отменяется при потере лизинга из heartbeat.
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hb := p.startHeartbeat(procCtx, cancel, sess.ID, fields)
	runErr := p.run(procCtx, sess, fields)
	cancel()
	hb.wait()

	// Потеря лизинга (из heartbeat или из guarded-запроса) запрещает любые
	// дальнейшие мутации, включая mark failed: сессией владеет другой воркер.
	if hb.leaseLost() || faults.IsLeaseLost(runErr) {
		logger.ErrorEvent("session.lease_lost",
			string(faults.LeaseLost), "lease taken over by another worker",
			string(faults.StageLifecycle), fields...)
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle, "session %s lease lost", sess.ID)
	}

	if runErr != nil {
		// Отмена родительского контекста означает shutdown, а не сбой сессии:
		// строка остаётся в processing и будет переподхвачена другим воркером
		// по протуханию лизинга.
		if ctx.Err() != nil {
			logger.Warn("session processing interrupted by shutdown", fields...)
			return runErr
		}
		kind := faults.KindOf(runErr)
		stage := faults.StageOf(runErr)
		logger.ErrorEvent("session.failed", string(kind), runErr.Error(), string(stage), fields...)
		if failErr := p.store.MarkFailed(ctx, sess.ID, runErr.Error()); failErr != nil {
			if faults.IsLeaseLost(failErr) {
				return failErr
			}
			logger.ErrorEvent("session.finalize_failed",
				string(faults.KindOf(failErr)), failErr.Error(), string(faults.StageDB), fields...)
		}
		return runErr
	}

	if err := p.store.MarkDone(ctx, sess.ID); err != nil {
		return err
	}
	return nil
}

// run выполняет содержательную часть обработки; финализацией занимается Process.
func (p *Pipeline) run(ctx context.Context, sess *store.Session, fields []zap.Field) error {
	images, err := p.store.Images(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return faults.Newf(faults.SchemaContract, faults.StageLifecycle,
			"session %s passed the idle gate with no images", sess.ID)
	}

	scheduleDate, perImage, err := p.readImages(ctx, sess, images, fields)
	if err != nil {
		return err
	}

	merged := schedule.Aggregate(perImage, p.timeToleranceMin)
	sourceShifts := 0
	for _, shifts := range perImage {
		sourceShifts += len(shifts)
	}
	logger.Event("aggregation.completed", append(fields,
		zap.Int("source_shifts", sourceShifts),
		zap.Int("merged_shifts", len(merged)))...)

	payload, err := schedule.Canonicalize(scheduleDate, merged)
	if err != nil {
		return faults.Wrap(faults.Canonicalization, faults.StageDiff, err, "canonicalize day")
	}

	outcome, version, err := p.store.WriteVersion(ctx,
		sess.UserID, scheduleDate, sess.ID, payload.JSON, payload.Hash)
	if err != nil {
		return err
	}

	prior, err := p.store.LoadSnapshot(ctx, sess.UserID, scheduleDate)
	if err != nil {
		return err
	}
	events := schedule.Diff(prior, payload.Day.Shifts)
	logger.Event("diff.computed", append(fields,
		zap.String("schedule_date", scheduleDate),
		zap.Int("prior_shifts", len(prior)),
		zap.Int("next_shifts", len(payload.Day.Shifts)),
		zap.Int("events", len(events)))...)

	// records — все события сессии, не только вставленные этим циклом:
	// повторный прогон после падения между фиксацией событий и записью
	// уведомлений обязан доставить уведомления по уже существующим строкам.
	records, inserted, err := p.store.PersistCycle(ctx, sess.UserID, scheduleDate, sess.ID, events, payload.Day.Shifts)
	if err != nil {
		return err
	}
	logger.Event("events.persisted", append(fields,
		zap.Int("inserted", inserted),
		zap.Int("deduplicated", len(events)-inserted),
		zap.Int("session_events", len(records)))...)

	stored, err := p.notify(ctx, sess, scheduleDate, records, fields)
	if err != nil {
		return err
	}

	logger.Event("session.processed", append(fields,
		zap.String("schedule_date", scheduleDate),
		zap.String("version_outcome", string(outcome)),
		zap.Int("version", version),
		zap.Int("events", len(records)),
		zap.Int("notifications", stored))...)
	return nil
}

// readImages интерпретирует все снимки сессии и сверяет извлечённые даты.
// Все снимки одной сессии обязаны показывать один день.
func (p *Pipeline) readImages(
	ctx context.Context,
	sess *store.Session,
	images []store.Image,
	fields []zap.Field,
) (string, [][]schedule.Shift, error) {
	scheduleDate := ""
	perImage := make([][]schedule.Shift, 0, len(images))

	for _, img := range images {
		day, err := p.reader.ReadImage(ctx, img.R2Key)
		if err != nil {
			return "", nil, err
		}
		logger.Event("ocr.completed", append(fields,
			zap.String("r2_key", img.R2Key),
			zap.Int("boxes", day.BoxCount))...)
		logger.Event("layout.shifts_detected", append(fields,
			zap.String("r2_key", img.R2Key),
			zap.Int("shifts", len(day.Shifts)))...)

		switch {
		case day.ScheduleDate == "":
		case scheduleDate == "":
			scheduleDate = day.ScheduleDate
		case scheduleDate != day.ScheduleDate:
			return "", nil, faults.Newf(faults.Canonicalization, faults.StageLayout,
				"session %s images disagree on schedule date: %s vs %s",
				sess.ID, scheduleDate, day.ScheduleDate)
		}
		perImage = append(perImage, day.Shifts)
	}

	if scheduleDate == "" {
		return "", nil, faults.Newf(faults.SchemaContract, faults.StageLayout,
			"session %s has no recognizable schedule date", sess.ID)
	}
	return scheduleDate, perImage, nil
}

// notify строит и сохраняет уведомления по реально вставленным событиям.
func (p *Pipeline) notify(
	ctx context.Context,
	sess *store.Session,
	scheduleDate string,
	records []notifications.EventRecord,
	fields []zap.Field,
) (int, error) {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.EventID)
	}

	seen, err := p.cache.Seen(ids)
	if err != nil {
		return 0, faults.Wrap(faults.Unexpected, faults.StageLifecycle, err, "read notified cache")
	}

	notifs := notifications.Build(sess.UserID, scheduleDate, sess.ID, records, seen, p.summaryThreshold)
	logger.Event("notifications.generated", append(fields,
		zap.Int("count", len(notifs)))...)
	if len(notifs) == 0 {
		return 0, nil
	}

	stored, err := p.store.StoreNotifications(ctx, notifs)
	if err != nil {
		return 0, err
	}
	logger.Event("notifications.stored", append(fields,
		zap.Int("stored", stored),
		zap.Int("deduplicated", len(notifs)-stored))...)

	notified := make([]string, 0, len(ids))
	for _, n := range notifs {
		notified = append(notified, n.EventIDs...)
	}
	if markErr := p.cache.Mark(notified); markErr != nil {
		// Кэш вторичен: дедупликация по notification_id в базе останется.
		logger.Warn("notified cache mark failed", append(fields, zap.Error(markErr))...)
	}
	return stored, nil
}

// heartbeatRunner — фоновый heartbeat одной сессии.
type heartbeatRunner struct {
	done chan struct{}
	lost chan struct{}
}

// startHeartbeat продлевает лизинг каждые heartbeatEvery. Потеря лизинга
// закрывает lost и отменяет контекст обработки: все guarded-запросы после
// этого не выполняются.
func (p *Pipeline) startHeartbeat(
	ctx context.Context,
	cancel context.CancelFunc,
	sessionID string,
	fields []zap.Field,
) *heartbeatRunner {
	hb := &heartbeatRunner{
		done: make(chan struct{}),
		lost: make(chan struct{}),
	}

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(p.heartbeatEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.store.Heartbeat(ctx, sessionID)
				switch {
				case err == nil:
				case faults.IsLeaseLost(err):
					close(hb.lost)
					cancel()
					return
				default:
					// Временный сбой БД не фатален: лизинг ещё жив,
					// следующий тик попробует снова.
					logger.Warn("heartbeat failed", append(fields, zap.Error(err))...)
				}
			}
		}
	}()
	return hb
}

// wait дожидается завершения фоновой горутины heartbeat.
func (h *heartbeatRunner) wait() { <-h.done }

// leaseLost сообщает, зафиксировал ли heartbeat потерю лизинга.
func (h *heartbeatRunner) leaseLost() bool {
	select {
	case <-h.lost:
		return true
	default:
		return false
	}
}
