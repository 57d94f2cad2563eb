// Package cli реализует инструмент командной строки alignflow.
//
// # Обзор
//
// Основная команда — align: выравнивание одного события в текущем
// процессе. Orchestrator и Worker работают через локальный брокер
// (mq.Local), состояние runs сохраняется в <jobStore>/state.json,
// поэтому прерванный процесс продолжается с --restart без повторного
// выполнения завершённых tasks.
//
//	alignflow align ./js seqs.txt blast.cig out.hal --root anc0
//	alignflow align ./js seqs.txt blast.cig out.hal --root anc0 --restart
//
// status читает файл состояния job store'а и не требует запущенного
// процесса. Группа run обращается к API состояния (align --statusAddr,
// alignflow-worker) через Client.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: alignflow status ./js --json | jq .
package cli
