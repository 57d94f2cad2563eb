// Package coverage вычисляет покрытие ingroup-генома выравниваниями на outgroup'ы.
//
// Результат — BED-файл с непересекающимися интервалами, отсортированными
// по последовательностям ingroup и по позиции.
package coverage
