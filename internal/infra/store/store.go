// Package store — слой доступа к PostgreSQL для конвейера интерпретации.
// Здесь живёт весь SQL воркера: жизненный цикл capture-сессий с лизингом,
// версии канонического дня, события диффа со снапшотом и уведомления.
// Пакет не принимает решений конвейера: он исполняет запросы, классифицирует
// ошибки (faults) и гарантирует атомарность там, где она обещана.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// States — имена состояний сессии в базе. Выносятся в конфиг, потому что
// тестовые схемы используют свои enum-значения.
type States struct {
	Pending    string
	Processing string
	Done       string
	Failed     string
}

// DefaultStates возвращает канонические имена состояний.
func DefaultStates() States {
	return States{
		Pending:    "pending",
		Processing: "processing",
		Done:       "done",
		Failed:     "failed",
	}
}

// Store инкапсулирует пул соединений и идентичность воркера.
// Все guarded-запросы сравнивают locked_by с workerID.
type Store struct {
	pool     *pgxpool.Pool
	workerID string
	states   States
}

// New создаёт Store поверх готового пула.
func New(pool *pgxpool.Pool, workerID string, states States) *Store {
	return &Store{pool: pool, workerID: workerID, states: states}
}

// WorkerID возвращает идентичность, под которой работает этот Store.
func (s *Store) WorkerID() string { return s.workerID }
