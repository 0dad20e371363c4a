// Файл runner.go — цикл опроса воркера. Каждую итерацию воркер пытается
// захватить одну пригодную сессию и прогнать её через пайплайн; пустые
// итерации логируются с гашением (не каждый тик), чтобы простой не заливал
// журнал. Фоном раз в час подметается локальный кэш уведомлений.

package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/infra/logger"
)

// sweepEvery — период TTL-очистки кэша уведомлённых событий.
const sweepEvery = time.Hour

// Sweeper — TTL-очистка локального кэша.
type Sweeper interface {
	Sweep() (int, error)
}

// Runner оркестрирует цикл опроса: захват сессии, обработка, гашение
// idle-логов и фоновая очистка кэша.
type Runner struct {
	store    SessionStore
	pipeline *Pipeline
	sweeper  Sweeper

	pollEvery    time.Duration
	idleTimeout  time.Duration
	leaseTimeout time.Duration
	idleLogEvery int

	mainCtx    context.Context
	mainCancel context.CancelFunc

	idleStreak int
	wg         sync.WaitGroup
}

// NewRunner подготавливает Runner с переданными зависимостями.
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	st SessionStore,
	pipeline *Pipeline,
	sweeper Sweeper,
	pollEvery, idleTimeout, leaseTimeout time.Duration,
	idleLogEvery int,
) *Runner {
	return &Runner{
		mainCtx:      mainCtx,
		mainCancel:   mainCancel,
		store:        st,
		pipeline:     pipeline,
		sweeper:      sweeper,
		pollEvery:    pollEvery,
		idleTimeout:  idleTimeout,
		leaseTimeout: leaseTimeout,
		idleLogEvery: idleLogEvery,
	}
}

// Run — главный цикл воркера. Блокируется до отмены mainCtx; одна итерация
// на тик, максимум одна сессия на итерацию.
func (r *Runner) Run() error {
	logger.Info("worker loop started",
		zap.Duration("poll_every", r.pollEvery),
		zap.Duration("idle_timeout", r.idleTimeout),
		zap.Duration("lease_timeout", r.leaseTimeout))

	if r.sweeper != nil {
		r.wg.Go(func() { r.runCacheSweeper() })
	}

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		r.iterate()

		select {
		case <-r.mainCtx.Done():
			logger.Debug("stopping worker loop")
			r.wg.Wait()
			logger.Info("worker loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// iterate выполняет одну итерацию: захват и обработку максимум одной сессии.
// Ошибки итерации не валят цикл: они уже классифицированы и залогированы,
// следующий тик начнёт заново.
func (r *Runner) iterate() {
	sess, err := r.store.ClaimNext(r.mainCtx, r.idleTimeout, r.leaseTimeout)
	if err != nil {
		if r.mainCtx.Err() != nil {
			return
		}
		logger.ErrorEvent("claim.failed",
			string(faults.KindOf(err)), err.Error(), string(faults.StageOf(err)))
		return
	}

	if sess == nil {
		r.logIdle()
		return
	}

	r.idleStreak = 0
	// Ошибка уже обработана пайплайном (сессия финализирована либо лизинг
	// потерян); циклу остаётся идти дальше.
	_ = r.pipeline.Process(r.mainCtx, sess)
}

// logIdle сообщает о пустой итерации с гашением: первая итерация простоя
// логируется сразу, дальше — каждая idleLogEvery-я. Если есть сессии,
// ждущие гейт простоя, пишется session.skipped_idle с их числом.
func (r *Runner) logIdle() {
	r.idleStreak++
	if r.idleStreak != 1 && (r.idleLogEvery <= 0 || r.idleStreak%r.idleLogEvery != 0) {
		return
	}

	waiting, err := r.store.CountWaiting(r.mainCtx, r.idleTimeout)
	if err != nil {
		if r.mainCtx.Err() == nil {
			logger.Warn("count waiting sessions failed", zap.Error(err))
		}
		return
	}
	if waiting > 0 {
		logger.Event("session.skipped_idle",
			zap.Int("waiting_sessions", waiting),
			zap.Int("idle_iterations", r.idleStreak))
		return
	}
	logger.Debug("no claimable sessions", zap.Int("idle_iterations", r.idleStreak))
}

// runCacheSweeper раз в sweepEvery удаляет протухшие отметки уведомлений.
func (r *Runner) runCacheSweeper() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.mainCtx.Done():
			return
		case <-ticker.C:
			deleted, err := r.sweeper.Sweep()
			if err != nil {
				logger.Warn("notified cache sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Debug("notified cache swept", zap.Int("deleted", deleted))
			}
		}
	}
}
