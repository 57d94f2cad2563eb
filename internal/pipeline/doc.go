// Package pipeline готовит run выравнивания: импортирует входные файлы
// события в хранилище артефактов и строит граф фаз.
//
// Ветвление графа решается здесь, до запуска, по входным данным:
// выравнивания из предыдущего этапа (по умолчанию) или исходные
// (--nonBlastInput), наличие outgroup'ов, наличие вторичных
// выравниваний. Внутри run'а граф не меняется.
package pipeline
