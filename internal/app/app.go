// Package app — верхний уровень сборки воркера интерпретации расписаний.
// Здесь связываются конфигурация, пул PostgreSQL, источник смен (OCR либо
// fixture), локальный кэш уведомлений и цикл опроса. Отсюда стартует обработка
// сессий и обеспечивается корректный shutdown.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"schedule-worker/internal/infra/blob"
	"schedule-worker/internal/infra/config"
	"schedule-worker/internal/infra/db"
	"schedule-worker/internal/infra/logger"
	"schedule-worker/internal/infra/notifiedcache"
	"schedule-worker/internal/infra/store"
	"schedule-worker/internal/ocr"
)

// App агрегирует зависимости воркера и управляет их связью.
// Отвечает за:
//   - подключение к базе и сборку слоя store с идентичностью воркера,
//   - выбор источника смен по WORKER_INPUT_MODE,
//   - кэш уведомлённых событий и его очистку,
//   - запуск Runner и корректное освобождение ресурсов.
type App struct {
	env        config.EnvConfig
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.
}

// NewApp создаёт каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, env config.EnvConfig) *App {
	return &App{
		env:        env,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает зависимости и блокируется в цикле опроса до остановки.
func (a *App) Run() error {
	logger.Info("worker initializing")

	pool, err := db.Connect(a.mainCtx, a.env.DatabaseURL, a.env.DBSchema)
	if err != nil {
		return errors.Wrap(err, "connect database")
	}
	defer pool.Close()

	st := store.New(pool, a.env.WorkerID, store.States{
		Pending:    a.env.StatePending,
		Processing: a.env.StateProcessing,
		Done:       a.env.StateDone,
		Failed:     a.env.StateFailed,
	})

	reader, cleanup, err := a.buildReader()
	if err != nil {
		return err
	}
	defer cleanup()

	cache, err := notifiedcache.Open(a.env.NotifiedCacheFile,
		time.Duration(a.env.NotifiedTTLDays)*24*time.Hour)
	if err != nil {
		return errors.Wrap(err, "open notified cache")
	}
	defer func() { _ = cache.Close() }()

	pipeline := NewPipeline(st, reader, cache,
		time.Duration(a.env.LeaseHeartbeatSec)*time.Second,
		a.env.SummaryThreshold, a.env.TimeToleranceMin)

	runner := NewRunner(a.mainCtx, a.mainCancel, st, pipeline, cache,
		time.Duration(a.env.WorkerPollSec)*time.Second,
		time.Duration(a.env.SessionIdleTimeoutSec)*time.Second,
		time.Duration(a.env.LeaseTimeoutSec)*time.Second,
		a.env.IdleLogEvery)

	return runner.Run()
}

// buildReader выбирает источник смен по режиму входа. Возвращаемый cleanup
// безопасен для вызова в любом случае.
func (a *App) buildReader() (DayReader, func(), error) {
	noop := func() {}

	switch a.env.InputMode {
	case config.InputModeOCR:
		blobs, err := blob.New(a.mainCtx, blob.Config{
			EndpointURL:     a.env.R2EndpointURL,
			AccessKeyID:     a.env.R2AccessKeyID,
			SecretAccessKey: a.env.R2SecretAccessKey,
			Bucket:          a.env.R2Bucket,
			Region:          a.env.R2Region,
			KeyPrefix:       a.env.R2KeyPrefix,
			DownloadRPS:     a.env.DownloadRPS,
		})
		if err != nil {
			return nil, noop, errors.Wrap(err, "init blob client")
		}
		recognizer := ocr.NewHTTPClient(a.env.OCREndpointURL)
		return NewOCRReader(blobs, recognizer, a.env.OCRDefaultYear), blobs.Close, nil

	case config.InputModeFixture:
		reader, err := NewFixtureReader(a.env.FixturePayloadPath)
		if err != nil {
			return nil, noop, errors.Wrap(err, "load fixture payload")
		}
		return reader, noop, nil

	default:
		return nil, noop, errors.Errorf("unknown input mode %q", a.env.InputMode)
	}
}
