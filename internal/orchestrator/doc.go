// Package orchestrator управляет выполнением runs графа выравнивания.
//
// Orchestrator строит DAG run'а, создаёт tasks для узлов, у которых
// завершены все зависимости, и публикует task.ready. Завершения приходят
// через tasks.completed; периодическая сверка с хранилищем подхватывает
// потерянные сообщения. Первая упавшая task завершает run с ошибкой,
// в которой названы узел и причина.
//
// Restart продолжает прерванный run по сохранённым tasks: граф не
// перестраивается, succeeded-узлы не выполняются повторно.
package orchestrator
