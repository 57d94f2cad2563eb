// Package worker выполняет отдельные tasks графа выравнивания.
//
// # Обзор
//
// Worker берёт task из очереди tasks.ready или из хранилища (polling),
// атомарно переводит её в RUNNING, выполняет шаг steps.Registry по Kind
// и сохраняет результат. Результат читают последующие узлы через promise.
//
//	w := worker.New(worker.Config{
//	    Store:       store,
//	    Broker:      broker,
//	    Concurrency: 4,
//	    Logger:      logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Повторы
//
// Политика берётся из графа run'а (engine.DAG.RetryPolicy). Фатальная
// ошибка шага (steps.IsFatal) не повторяется: task сразу становится
// FAILED с флагом Fatal, и оркестратор завершает run.
//
// # Остановка
//
// Stop отменяет контекст шагов. Прерванная task возвращается в QUEUED
// и будет выполнена заново при следующем запуске.
package worker
