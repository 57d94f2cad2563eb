// Package steps содержит тела фаз графа выравнивания.
//
// Каждый узел графа выполняется шагом своего типа (Kind):
//
//	uniquify          — уникализация идентификаторов последовательностей
//	rewrite.records   — переписывание идентификаторов в одном наборе записей
//	rewrite.join      — сборка переписанных наборов в новое состояние
//	coverage.ingroup  — покрытие одного ingroup'а выравниваниями на outgroup'ы
//	coverage.join     — раскладка покрытий по позициям ingroup'ов
//	setup             — многошаговая фаза сборки с контрольными точками
//	prepare_export    — проект с единственным экспериментом события
//	export            — выгрузка HAL
//
// Аргументы узла содержат promise-ссылки (engine.Promise) на результаты
// предшественников. Шаг разрешает их из Request.Results; результат шага
// (Response.Result) сохраняется в JSON и становится доступен потребителям.
//
// Шаг не повторяет себя сам: повторы делает Worker. IsFatal отделяет
// ошибки, которые повтор не исправит (несогласованные входы, неверные
// аргументы), от временных.
package steps
