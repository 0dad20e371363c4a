// Package faults — классификация ошибок конвейера обработки сессий.
// Каждая ошибка несёт вид (Kind) и этап (Stage), на котором она возникла.
// Вид определяет политику реакции воркера (пометить сессию failed, прервать
// итерацию без мутаций и т.д.), этап попадает в структурированные логи как
// error.stage. Пакет не зависит от инфраструктуры и БД.
package faults

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind — вид ошибки. Закрытое множество; политика обработки в воркере
// диспетчеризуется по этому значению.
type Kind string

const (
	// TransientDB — временные сбои базы: разрыв соединения, конфликт блокировок.
	TransientDB Kind = "transient_db"
	// LeaseLost — guard по locked_by вернул ноль строк: лизинг перехвачен другим воркером.
	LeaseLost Kind = "lease_lost"
	// Canonicalization — некорректное время, дата или пустая смена при канонизации.
	Canonicalization Kind = "canonicalization"
	// Aggregation — нарушение инвариантов слияния наблюдений.
	Aggregation Kind = "aggregation"
	// SchemaContract — неожиданное состояние данных: неизвестный state, отсутствующая дата.
	SchemaContract Kind = "schema_contract"
	// External — сбой внешнего коллаборатора: OCR, разбор раскладки, нормализатор.
	External Kind = "external"
	// Unexpected — всё, что не удалось классифицировать.
	Unexpected Kind = "unexpected"
)

// Stage — этап конвейера, попадает в логи как error.stage.
type Stage string

const (
	StageOCR       Stage = "ocr"
	StageLayout    Stage = "layout"
	StageDiff      Stage = "diff"
	StageDB        Stage = "db"
	StageLifecycle Stage = "lifecycle"
)

// Error — классифицированная ошибка конвейера. Реализует error и errors.Unwrap,
// так что цепочки через errors.Is/As сохраняются.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

// Error возвращает строку вида "kind (stage): причина".
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
}

// Unwrap отдаёт вложенную ошибку для errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New оборачивает err в классифицированную ошибку. nil err допустим для
// ошибок-маркеров (например, LeaseLost без первопричины).
func New(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Newf создаёт классифицированную ошибку с форматированным сообщением.
func Newf(kind Kind, stage Stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Err: errors.Errorf(format, args...)}
}

// Wrap добавляет контекстное сообщение и классификацию одним вызовом.
func Wrap(kind Kind, stage Stage, err error, msg string) *Error {
	return &Error{Kind: kind, Stage: stage, Err: errors.Wrap(err, msg)}
}

// KindOf извлекает вид ошибки из цепочки. Неклассифицированные ошибки
// считаются Unexpected.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unexpected
}

// StageOf извлекает этап из цепочки. Для неклассифицированных ошибок
// возвращает StageLifecycle: ошибка всплыла на уровне управления сессией.
func StageOf(err error) Stage {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return StageLifecycle
}

// IsLeaseLost сообщает, что лизинг сессии потерян и дальнейшие мутации запрещены.
func IsLeaseLost(err error) bool {
	return KindOf(err) == LeaseLost
}
