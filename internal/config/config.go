// Пакет config — загрузка и валидация конфигурации File Manager
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранилища записей.
const (
	StoreFS       = "fs"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// DefaultReadExtensions — расширения файлов прочтений, отслеживаемые в watch-директории.
const DefaultReadExtensions = ".fq,.fastq,.fq.gz,.fastq.gz"

// WatcherConfig содержит параметры процесса Watcher.
// Процесс Watcher получает их через окружение, унаследованное от сервиса.
type WatcherConfig struct {
	// Директория загрузок (отслеживаются все файлы)
	FilesDir string
	// Директория импорта (отслеживаются только файлы прочтений)
	WatchDir string
	// Время тишины после последней записи, после которого запись считается завершённой
	SettleDelay time.Duration
	// Расширения файлов прочтений (в нижнем регистре, с точкой)
	ReadExtensions []string
	// Сообщать о файлах прочтений, уже лежащих в watch-директории при старте
	ScanExisting bool
	// Определять завершение записи только по тишине (без inotify close-write)
	SettleOnly bool
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// DBConfig — параметры подключения к PostgreSQL.
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// DSN возвращает строку подключения в формате URL.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Config содержит все параметры конфигурации File Manager.
type Config struct {
	WatcherConfig

	// Порт HTTP-сервера
	Port int
	// Директория состояния: журнал импорта, fs-хранилище записей, lock-файл
	StateDir string
	// Бэкенд хранилища записей: fs, memory, postgres
	Store string
	// Параметры PostgreSQL (только для FM_STORE=postgres)
	DB DBConfig
	// Размер LRU-кэша записей (0 — кэш отключён)
	CacheSize int
	// TTL записи в кэше
	CacheTTL time.Duration
	// Количество воркеров обработки событий
	Workers int
	// Максимальное время ожидания сигнала alive от Watcher
	AliveTimeout time.Duration
	// Время между SIGTERM и SIGKILL при остановке процесса Watcher
	WatcherStopTimeout time.Duration
	// Интервал периодической сверки (0 — только при старте)
	ReconcileInterval time.Duration
	// Файлы моложе этого возраста не считаются сиротами при сверке
	ReconcileGrace time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// TLSEnabled возвращает true, если заданы сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// LoadWatcher загружает конфигурацию процесса Watcher.
func LoadWatcher() (*WatcherConfig, error) {
	cfg := &WatcherConfig{}
	var err error

	// FM_FILES_DIR — обязательный
	cfg.FilesDir, err = getEnvRequired("FM_FILES_DIR")
	if err != nil {
		return nil, err
	}

	// FM_WATCH_DIR — обязательный
	cfg.WatchDir, err = getEnvRequired("FM_WATCH_DIR")
	if err != nil {
		return nil, err
	}
	if cfg.FilesDir == cfg.WatchDir {
		return nil, fmt.Errorf("FM_WATCH_DIR: должна отличаться от FM_FILES_DIR")
	}

	// FM_SETTLE_DELAY — время тишины до события close/watch (по умолчанию 500ms)
	cfg.SettleDelay, err = getEnvDuration("FM_SETTLE_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("FM_SETTLE_DELAY: %w", err)
	}
	if cfg.SettleDelay <= 0 {
		return nil, fmt.Errorf("FM_SETTLE_DELAY: значение должно быть положительным")
	}

	// FM_READ_EXTENSIONS — список расширений через запятую
	cfg.ReadExtensions, err = parseExtensions(getEnvDefault("FM_READ_EXTENSIONS", DefaultReadExtensions))
	if err != nil {
		return nil, fmt.Errorf("FM_READ_EXTENSIONS: %w", err)
	}

	// FM_SCAN_EXISTING — сообщать о файлах, уже лежащих в watch-директории (по умолчанию true)
	cfg.ScanExisting, err = getEnvBool("FM_SCAN_EXISTING", true)
	if err != nil {
		return nil, fmt.Errorf("FM_SCAN_EXISTING: %w", err)
	}

	// FM_SETTLE_ONLY — не использовать close-write (по умолчанию false)
	cfg.SettleOnly, err = getEnvBool("FM_SETTLE_ONLY", false)
	if err != nil {
		return nil, fmt.Errorf("FM_SETTLE_ONLY: %w", err)
	}

	// FM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FM_LOG_LEVEL: %w", err)
	}

	// FM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// Load загружает конфигурацию сервиса из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	wcfg, err := LoadWatcher()
	if err != nil {
		return nil, err
	}
	cfg := &Config{WatcherConfig: *wcfg}

	// FM_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("FM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("FM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FM_STATE_DIR — обязательный
	cfg.StateDir, err = getEnvRequired("FM_STATE_DIR")
	if err != nil {
		return nil, err
	}
	if cfg.StateDir == cfg.FilesDir || cfg.StateDir == cfg.WatchDir {
		return nil, fmt.Errorf("FM_STATE_DIR: должна отличаться от FM_FILES_DIR и FM_WATCH_DIR")
	}

	// FM_STORE — бэкенд хранилища записей (по умолчанию fs)
	cfg.Store = getEnvDefault("FM_STORE", StoreFS)
	switch cfg.Store {
	case StoreFS, StoreMemory:
	case StorePostgres:
		if err := loadDB(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("FM_STORE: недопустимое значение %q, допустимые: fs, memory, postgres", cfg.Store)
	}

	// FM_CACHE_SIZE — размер LRU-кэша (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("FM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("FM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("FM_CACHE_SIZE: значение не может быть отрицательным")
	}

	// FM_CACHE_TTL — TTL записи в кэше (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("FM_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FM_CACHE_TTL: %w", err)
	}

	// FM_WORKERS — количество воркеров (по умолчанию 4)
	cfg.Workers, err = getEnvInt("FM_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("FM_WORKERS: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("FM_WORKERS: значение должно быть положительным")
	}

	// FM_ALIVE_TIMEOUT — ожидание сигнала alive (по умолчанию 10s)
	cfg.AliveTimeout, err = getEnvDuration("FM_ALIVE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_ALIVE_TIMEOUT: %w", err)
	}
	if cfg.AliveTimeout <= 0 {
		return nil, fmt.Errorf("FM_ALIVE_TIMEOUT: значение должно быть положительным")
	}

	// FM_WATCHER_STOP_TIMEOUT — ожидание завершения Watcher после SIGTERM (по умолчанию 5s)
	cfg.WatcherStopTimeout, err = getEnvDuration("FM_WATCHER_STOP_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_WATCHER_STOP_TIMEOUT: %w", err)
	}

	// FM_RECONCILE_INTERVAL — интервал сверки (по умолчанию 0, только при старте)
	cfg.ReconcileInterval, err = getEnvDuration("FM_RECONCILE_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("FM_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, fmt.Errorf("FM_RECONCILE_INTERVAL: значение не может быть отрицательным")
	}

	// FM_RECONCILE_GRACE — минимальный возраст файла-сироты (по умолчанию 0)
	cfg.ReconcileGrace, err = getEnvDuration("FM_RECONCILE_GRACE", 0)
	if err != nil {
		return nil, fmt.Errorf("FM_RECONCILE_GRACE: %w", err)
	}

	// FM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FM_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("FM_DEPHEALTH_GROUP", "file-manager")

	// FM_TLS_CERT / FM_TLS_KEY — задаются вместе или не задаются вовсе
	cfg.TLSCert = getEnvDefault("FM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FM_TLS_CERT и FM_TLS_KEY должны задаваться вместе")
	}

	// FM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDB загружает параметры PostgreSQL.
func loadDB(cfg *Config) error {
	var err error
	cfg.DB.Host = getEnvDefault("FM_DB_HOST", "localhost")
	cfg.DB.Port, err = getEnvInt("FM_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("FM_DB_PORT: %w", err)
	}
	cfg.DB.Name = getEnvDefault("FM_DB_NAME", "filemanager")
	cfg.DB.User = getEnvDefault("FM_DB_USER", "filemanager")
	cfg.DB.Password, err = getEnvRequired("FM_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DB.SSLMode = getEnvDefault("FM_DB_SSL_MODE", "disable")
	switch cfg.DB.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("FM_DB_SSL_MODE: недопустимое значение %q", cfg.DB.SSLMode)
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// Процесс Watcher передаёт os.Stderr: его stdout занят очередью событий.
func SetupLogger(cfg *WatcherConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 500ms, 30s, 1h)", val)
	}
	return d, nil
}

// parseExtensions разбирает список расширений через запятую.
// Расширения приводятся к нижнему регистру и дополняются ведущей точкой.
func parseExtensions(raw string) ([]string, error) {
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		return nil, fmt.Errorf("список расширений пуст")
	}
	return exts, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
