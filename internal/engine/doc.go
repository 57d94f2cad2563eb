// Package engine содержит движок графа фаз.
//
// Включает:
//   - parser.go  — разбор и валидация GraphSpec
//   - dag.go     — построение и обход DAG (directed acyclic graph)
//   - promise.go — типизированные отложенные значения между узлами
//
// Engine отвечает за понимание структуры графа и определение
// порядка выполнения узлов на основе их зависимостей.
// Ссылка на результат узла (Promise) и есть зависимость.
package engine
