// Package config — именованные значения конфигурации выравнивания:
// значения по умолчанию, JSON-файл (--configFile) и переопределения
// из окружения ALIGNFLOW_<KEY>.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Имена значений конфигурации.
const (
	KeyRetryCount          = "retry.count"
	KeyRetryBackoff        = "retry.backoff"
	KeyRetryInitialDelayMs = "retry.initial_delay_ms"
	KeyRetryMaxDelayMs     = "retry.max_delay_ms"
	KeyExportMemory        = "export.memory"
	KeyExportDisk          = "export.disk"
	KeyDatabaseType        = "database.type"
	KeyAssemblyBinary      = "assembly.binary"
	KeyAssemblySteps       = "assembly.steps"
	KeyKTServerOptions     = "kt.server_options"
	KeyKTTuningOptions     = "kt.tuning_options"
	KeyKTBinary            = "kt.binary"
	KeyRedisServerOptions  = "redis.server_options"
	KeyRedisBinary         = "redis.binary"
	KeyHalBinary           = "hal.binary"
)

// EnvPrefix — префикс переменных окружения, переопределяющих значения.
// "retry.count" переопределяется ALIGNFLOW_RETRY_COUNT.
const EnvPrefix = "ALIGNFLOW_"

// Ошибки конфигурации.
var (
	// ErrInvalidValue — значение не разбирается в нужный тип.
	ErrInvalidValue = errors.New("invalid config value")

	// ErrInvalidFile — файл конфигурации не разбирается.
	ErrInvalidFile = errors.New("invalid config file")
)

var defaults = map[string]string{
	KeyRetryCount:          "5",
	KeyRetryBackoff:        "exponential",
	KeyRetryInitialDelayMs: "1000",
	KeyRetryMaxDelayMs:     "30000",
	KeyExportMemory:        "8G",
	KeyExportDisk:          "32G",
	KeyDatabaseType:        "kyoto_tycoon",
	KeyAssemblyBinary:      "cactus_consolidated",
	KeyAssemblySteps:       "setup,caf,bar,reference,hal",
	KeyKTBinary:            "ktserver",
	KeyKTServerOptions:     "-ls -tout 200000 -th 64",
	KeyKTTuningOptions:     "#opts=ls#bnum=30m#msiz=50g#ktopts=p",
	KeyRedisBinary:         "redis-server",
	KeyRedisServerOptions:  "--appendonly no --protected-mode no",
	KeyHalBinary:           "",
}

// Config — набор именованных значений конфигурации.
//
// Значения хранятся строками; типизированные геттеры разбирают их
// при чтении. Config не потокобезопасен: он собирается один раз при
// запуске и дальше передаётся снимком (Snapshot).
type Config struct {
	values map[string]string
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	c := &Config{values: make(map[string]string, len(defaults))}
	for k, v := range defaults {
		c.values[k] = v
	}
	return c
}

// FromSnapshot восстанавливает конфигурацию из снимка.
// Отсутствующие в снимке значения берутся по умолчанию.
func FromSnapshot(snapshot map[string]string) *Config {
	c := Default()
	for k, v := range snapshot {
		c.values[k] = v
	}
	return c
}

// Load читает JSON-файл конфигурации поверх значений по умолчанию
// и применяет переопределения из окружения.
//
// Файл — объект, ключи которого либо имена значений ("retry.count"),
// либо вложенные объекты ({"retry": {"count": 3}}).
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := c.merge(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
		}
	}
	c.ApplyEnv(os.Environ())
	return c, nil
}

func (c *Config) merge(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return c.mergeTree("", doc)
}

func (c *Config) mergeTree(prefix string, doc map[string]any) error {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			if err := c.mergeTree(key, val); err != nil {
				return err
			}
		case string:
			c.values[key] = val
		case float64:
			c.values[key] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			c.values[key] = strconv.FormatBool(val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return fmt.Errorf("%s: list items must be strings", key)
				}
				parts = append(parts, s)
			}
			c.values[key] = strings.Join(parts, ",")
		case nil:
			delete(c.values, key)
		default:
			return fmt.Errorf("%s: unsupported value type %T", key, v)
		}
	}
	return nil
}

// ApplyEnv применяет переопределения вида ALIGNFLOW_<KEY>=value.
func (c *Config) ApplyEnv(environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		c.values[envKey(name)] = value
	}
}

// envKey превращает ALIGNFLOW_RETRY_COUNT в retry.count. Для известных
// имён с подчёркиванием (retry.initial_delay_ms) используется точное
// совпадение.
func envKey(name string) string {
	for k := range defaults {
		if EnvName(k) == name {
			return k
		}
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, EnvPrefix), "_", "."))
}

// EnvName возвращает имя переменной окружения для значения key.
func EnvName(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(r.Replace(key))
}

// Get возвращает значение (пусто, если не задано).
func (c *Config) Get(key string) string {
	return c.values[key]
}

// Set задаёт значение.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// Has проверяет, задано ли непустое значение.
func (c *Config) Has(key string) bool {
	return c.values[key] != ""
}

// Int возвращает значение как целое число.
func (c *Config) Int(key string) (int, error) {
	raw := c.values[key]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	return n, nil
}

// Bytes возвращает значение как размер в байтах ("8G", "512M", "1024").
func (c *Config) Bytes(key string) (int64, error) {
	n, err := ParseSize(c.values[key])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	return n, nil
}

// Strings возвращает значение как список, разделённый запятыми.
// Пустые элементы отбрасываются.
func (c *Config) Strings(key string) []string {
	var out []string
	for _, s := range strings.Split(c.values[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Keys возвращает имена заданных значений в отсортированном порядке.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot возвращает копию всех значений.
func (c *Config) Snapshot() map[string]string {
	s := make(map[string]string, len(c.values))
	for k, v := range c.values {
		s[k] = v
	}
	return s
}

// ParseSize разбирает размер с необязательным суффиксом K, M, G, T
// (степени 1024, регистр не важен, допускается "B" в конце).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
	case strings.HasSuffix(s, "T"):
		mult = 1 << 40
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return int64(f * float64(mult)), nil
}
