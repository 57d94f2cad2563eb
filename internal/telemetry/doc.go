// Package telemetry — логи и метрики alignflow.
//
// logging.go настраивает slog (JSON или text, уровень из LOG_LEVEL)
// и добавляет к логгеру атрибуты run'а и task'а. Логи пишутся в stderr:
// stdout CLI занят выводом команд.
//
// metrics.go объявляет метрики Prometheus с префиксом alignflow_;
// alignflow-worker и API состояния отдают их на /metrics.
package telemetry
