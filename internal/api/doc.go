// Package api содержит HTTP API состояния runs.
//
// Структура:
//   - handler.go     — Handler с DI (хранилища, отмена, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (logging, recovery)
//   - response.go    — унифицированные JSON-ответы и обработка ошибок
//   - dto.go         — ответы API
//   - run_handler.go — обработчики для /runs
//
// API только показывает состояние: runs запускает CLI. Единственная
// изменяющая операция — отмена активного run, если процесс её поддерживает.
package api
