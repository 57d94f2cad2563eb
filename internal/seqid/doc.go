// Package seqid делает идентификаторы последовательностей глобально уникальными.
//
// Uniquify добавляет к каждому заголовку FASTA префикс "id=<i>|", где i —
// позиция входа, и строит Table: исходное имя → уникальное имя.
// RewriteRecords применяет ту же таблицу к файлам записей выравнивания
// (токены 1 и 5 каждой строки).
package seqid
