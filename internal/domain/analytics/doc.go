// Package analytics вычисляет снимки аналитики домохозяйства за временное окно.
//
// Aggregate - чистая функция от задач и участников: никакого скрытого
// состояния, ввода-вывода или блокировок. Снимок неизменяем; пересчёт
// создаёт новый снимок.
//
// Все доли и средние проходят проверку конечности: NaN и бесконечности
// заменяются нулём и отмечаются в Snapshot.Warnings.
package analytics
