// Package household содержит доменную модель домохозяйства: участников и задачи.
//
// Пакет определяет:
//
//   - Сущности: Household, User, Task
//   - Перечисления: Priority, Recurrence
//   - Интерфейсы репозиториев: UserRepository, TaskRepository, HouseholdRepository
//
// Задачи создаются и удаляются внешним потоком управления задачами; здесь
// моделируется только то, что нужно движку геймификации и аналитики:
// переход задачи в состояние "выполнена" и выборки по временному окну.
//
// Баланс очков пользователя меняется только через PointsLedger
// (internal/application/command). Уровень никогда не хранится: он
// вычисляется из баланса при каждом чтении (gamification.Level).
package household
