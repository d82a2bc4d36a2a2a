// Package gamification содержит чистую логику вознаграждений: уровни,
// серии дней, легендарные вехи и значки.
//
// Все функции пакета детерминированы и не выполняют ввод-вывод, кроме
// MilestoneEngine.Evaluate, который пишет записи идемпотентности через
// переданный MilestoneRepository внутри транзакции начисления.
//
// Инварианты:
//
//   - Level(points) = floor(sqrt(points/100)) + 1, уровень не хранится;
//   - каждая пара (пользователь, веха) записывается не более одного раза;
//   - при ошибке записи вехи начисление откатывается целиком (fail closed).
package gamification
