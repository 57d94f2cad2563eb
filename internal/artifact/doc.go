// Package artifact — общее хранилище артефактов run'а.
//
// Артефакты (последовательности, записи выравниваний, таблицы, описания
// экспериментов) адресуются по содержимому (highwayhash). Реализации:
//   - FSStore — локальный или общий каталог
//   - S3Store — бакет S3
//
// Import отвечает на вопрос "есть ли такой файл" явно: found == false,
// а не ошибка, если файла нет.
package artifact
