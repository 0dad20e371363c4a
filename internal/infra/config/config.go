// Пакет config отвечает за сбор и предоставление конфигурации воркера
// интерпретации расписаний. Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. предоставляет потокобезопасный доступ к результату через singleton.
//
// Бизнес-контекст: воркер забирает capture-сессии из PostgreSQL, распознаёт
// скриншоты, агрегирует смены, версионирует канонический день и складывает
// события с уведомлениями обратно в базу. Конфиг управляет подключением к
// базе, параметрами лизинга и цикла опроса, режимом входа (fixture/ocr),
// доступом к объектному хранилищу и логированием.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
// Значения уже прошли минимальную валидацию и нормализацию в loadConfig.
type EnvConfig struct {
	// База данных
	DatabaseURL string
	DBSchema    string
	// Идентичность и лизинг
	WorkerID              string
	LeaseTimeoutSec       int
	LeaseHeartbeatSec     int
	SessionIdleTimeoutSec int
	WorkerPollSec         int
	IdleLogEvery          int
	// Интерпретация
	SummaryThreshold int
	TimeToleranceMin int
	// Алиасы имён состояний (для тестовых схем)
	StatePending    string
	StateProcessing string
	StateDone       string
	StateFailed     string
	// Режим входа
	InputMode          string
	FixturePayloadPath string
	OCREndpointURL     string
	OCRDefaultYear     int
	// Объектное хранилище (R2/S3) для скриншотов
	R2EndpointURL     string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string
	R2Region          string
	R2KeyPrefix       string
	DownloadRPS       int
	// Кэш уже уведомлённых событий
	NotifiedCacheFile string
	NotifiedTTLDays   int
	// Логирование
	LogLevel          string
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; конфигурация после
// загрузки неизменяема.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Режимы входа воркера: fixture читает готовый JSON-набор записей,
// ocr скачивает скриншоты и гонит их через распознавание.
const (
	InputModeFixture = "fixture"
	InputModeOCR     = "ocr"
)

// Значения по умолчанию для параметров окружения.
const (
	defaultDBSchema              = "schedule_ingest"
	defaultLeaseTimeoutSec       = 300
	defaultLeaseHeartbeatSec     = 10
	defaultSessionIdleTimeoutSec = 25
	defaultWorkerPollSec         = 5
	defaultIdleLogEvery          = 12
	defaultSummaryThreshold      = 3
	defaultTimeToleranceMin      = 5
	defaultStatePending          = "pending"
	defaultStateProcessing       = "processing"
	defaultStateDone             = "done"
	defaultStateFailed           = "failed"
	defaultInputMode             = InputModeFixture
	defaultFixturePayloadPath    = "data/fixture_payload.json"
	defaultOCRDefaultYear        = 2026
	defaultR2Region              = "auto"
	defaultDownloadRPS           = 2
	defaultNotifiedCacheFile     = "data/notified_cache.bbolt"
	defaultNotifiedTTLDays       = 30
	defaultLogLevel              = "info"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации воркера.
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	loadDotenv(envPath)

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, errors.New("env DATABASE_URL must be set")
	}

	var warnings []string

	dbSchema := sanitizeValue("DB_SCHEMA", os.Getenv("DB_SCHEMA"), defaultDBSchema, &warnings)
	workerID := sanitizeWorkerID(os.Getenv("WORKER_ID"), &warnings)
	leaseTimeout := parseIntDefault("LEASE_TIMEOUT_SECONDS", defaultLeaseTimeoutSec, greaterThanZero, &warnings)
	leaseHeartbeat := parseIntDefault("LEASE_HEARTBEAT_SECONDS", defaultLeaseHeartbeatSec, greaterThanZero, &warnings)
	idleTimeout := parseIntDefault("SESSION_IDLE_TIMEOUT_SECONDS", defaultSessionIdleTimeoutSec,
		greaterThanZero, &warnings)
	pollSec := parseIntDefault("WORKER_POLL_SECONDS", defaultWorkerPollSec, greaterThanZero, &warnings)
	idleLogEvery := parseIntDefault("WORKER_IDLE_LOG_EVERY", defaultIdleLogEvery, greaterThanZero, &warnings)
	summaryThreshold := parseIntDefault("SUMMARY_THRESHOLD", defaultSummaryThreshold, greaterThanZero, &warnings)
	timeTolerance := parseIntDefault("TIME_TOLERANCE_MIN", defaultTimeToleranceMin, nonNegative, &warnings)

	// Лизинг: три пропущенных heartbeat обязаны укладываться в таймаут,
	// иначе живой воркер будет терять сессии.
	if 3*leaseHeartbeat >= leaseTimeout {
		return nil, fmt.Errorf("3*LEASE_HEARTBEAT_SECONDS (%d) must be less than LEASE_TIMEOUT_SECONDS (%d)",
			3*leaseHeartbeat, leaseTimeout)
	}

	statePending := sanitizeValue("PENDING_STATE", os.Getenv("PENDING_STATE"), defaultStatePending, &warnings)
	stateProcessing := sanitizeValue("PROCESSING_STATE", os.Getenv("PROCESSING_STATE"),
		defaultStateProcessing, &warnings)
	stateDone := sanitizeValue("DONE_STATE", os.Getenv("DONE_STATE"), defaultStateDone, &warnings)
	stateFailed := sanitizeValue("FAILED_STATE", os.Getenv("FAILED_STATE"), defaultStateFailed, &warnings)

	inputMode := sanitizeInputMode(os.Getenv("WORKER_INPUT_MODE"), &warnings)
	fixturePath := sanitizeValue("FIXTURE_PAYLOAD_PATH", os.Getenv("FIXTURE_PAYLOAD_PATH"),
		defaultFixturePayloadPath, &warnings)
	ocrEndpoint := strings.TrimSpace(os.Getenv("OCR_ENDPOINT_URL"))
	ocrDefaultYear := parseIntDefault("OCR_DEFAULT_YEAR", defaultOCRDefaultYear, greaterThanZero, &warnings)

	r2Endpoint := strings.TrimSpace(os.Getenv("R2_ENDPOINT_URL"))
	r2AccessKey := strings.TrimSpace(os.Getenv("R2_ACCESS_KEY_ID"))
	r2SecretKey := strings.TrimSpace(os.Getenv("R2_SECRET_ACCESS_KEY"))
	r2Bucket := strings.TrimSpace(os.Getenv("R2_BUCKET"))
	r2Region := sanitizeValue("R2_REGION", os.Getenv("R2_REGION"), defaultR2Region, &warnings)
	r2KeyPrefix := strings.TrimSpace(os.Getenv("R2_KEY_PREFIX"))
	downloadRPS := parseIntDefault("DOWNLOAD_RPS", defaultDownloadRPS, greaterThanZero, &warnings)

	// В режиме ocr без хранилища скриншотов и сервиса распознавания делать нечего.
	if inputMode == InputModeOCR {
		if r2Endpoint == "" || r2Bucket == "" || r2AccessKey == "" || r2SecretKey == "" {
			return nil, errors.New("input mode ocr requires R2_ENDPOINT_URL, R2_BUCKET, " +
				"R2_ACCESS_KEY_ID and R2_SECRET_ACCESS_KEY")
		}
		if ocrEndpoint == "" {
			return nil, errors.New("input mode ocr requires OCR_ENDPOINT_URL")
		}
	}

	notifiedCacheFile := sanitizeValue("NOTIFIED_CACHE_FILE", os.Getenv("NOTIFIED_CACHE_FILE"),
		defaultNotifiedCacheFile, &warnings)
	notifiedTTLDays := parseIntDefault("NOTIFIED_CACHE_TTL_DAYS", defaultNotifiedTTLDays, greaterThanZero, &warnings)

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	env := EnvConfig{
		DatabaseURL:           databaseURL,
		DBSchema:              dbSchema,
		WorkerID:              workerID,
		LeaseTimeoutSec:       leaseTimeout,
		LeaseHeartbeatSec:     leaseHeartbeat,
		SessionIdleTimeoutSec: idleTimeout,
		WorkerPollSec:         pollSec,
		IdleLogEvery:          idleLogEvery,
		SummaryThreshold:      summaryThreshold,
		TimeToleranceMin:      timeTolerance,
		StatePending:          statePending,
		StateProcessing:       stateProcessing,
		StateDone:             stateDone,
		StateFailed:           stateFailed,
		InputMode:             inputMode,
		FixturePayloadPath:    fixturePath,
		OCREndpointURL:        ocrEndpoint,
		OCRDefaultYear:        ocrDefaultYear,
		R2EndpointURL:         r2Endpoint,
		R2AccessKeyID:         r2AccessKey,
		R2SecretAccessKey:     r2SecretKey,
		R2Bucket:              r2Bucket,
		R2Region:              r2Region,
		R2KeyPrefix:           r2KeyPrefix,
		DownloadRPS:           downloadRPS,
		NotifiedCacheFile:     notifiedCacheFile,
		NotifiedTTLDays:       notifiedTTLDays,
		LogLevel:              logLevel,
		LogFile:               logFile,
		LogFileLevel:          logFileLevel,
		LogFileMaxSize:        logFileMaxSize,
		LogFileMaxBackups:     logFileMaxBackups,
		LogFileMaxAge:         logFileMaxAge,
		LogFileCompress:       logFileCompress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeValue возвращает непустое значение переменной либо fallback
// с предупреждением.
func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeInputMode ограничивает режим входа набором {fixture, ocr}.
func sanitizeInputMode(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "":
		appendWarningf(warnings, "env WORKER_INPUT_MODE is not set; using default %q", defaultInputMode)
		return defaultInputMode
	case InputModeFixture, InputModeOCR:
		return v
	default:
		appendWarningf(warnings, "env WORKER_INPUT_MODE value %q is invalid; using default %q", value, defaultInputMode)
		return defaultInputMode
	}
}

// sanitizeWorkerID возвращает стабильную идентичность воркера. Без явного
// WORKER_ID берётся hostname-pid: перезапущенный процесс получает новое имя и
// не наследует чужой лизинг.
func sanitizeWorkerID(value string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	derived := fmt.Sprintf("%s-%d", host, os.Getpid())
	appendWarningf(warnings, "env WORKER_ID is not set; using derived identity %q", derived)
	return derived
}

// loadDotenv подхватывает .env, если файл существует. Отсутствие файла не
// ошибка: в контейнерах окружение приходит снаружи.
func loadDotenv(envPath string) {
	if envPath == "" {
		return
	}
	if _, err := os.Stat(envPath); err != nil {
		return
	}
	_ = godotenv.Load(envPath)
}
