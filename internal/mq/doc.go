// Package mq доставляет события задач между оркестратором и воркерами.
//
// Broker — общий интерфейс; реализации:
//   - Rabbit — RabbitMQ (распределённый режим, переподключение, DLQ)
//   - Local  — очереди в памяти процесса (локальный режим CLI)
//
// Типы сообщений:
//   - task.ready     — задача готова к выполнению (потребитель: Worker)
//   - task.completed — задача завершена (потребитель: Orchestrator)
//
// Сообщения только ускоряют реакцию: источник истины — хранилище
// задач, и обе стороны периодически сверяются с ним (polling).
package mq
