package gamification

import (
	"strings"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// Reason - причина изменения баланса.
type Reason string

const (
	// ReasonTaskCompleted - начисление за выполненную задачу. Только эта
	// причина пересчитывает серию и счётчик задач.
	ReasonTaskCompleted Reason = "task_completed"
	// ReasonBonus - ручной бонус.
	ReasonBonus Reason = "bonus"
	// ReasonRedemption - списание за обмен очков на награду.
	ReasonRedemption Reason = "redemption"
	// ReasonPenalty - штраф.
	ReasonPenalty Reason = "penalty"
	// ReasonCorrection - административная корректировка.
	ReasonCorrection Reason = "correction"
)

// IsValid проверяет, что причина известна.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonTaskCompleted, ReasonBonus, ReasonRedemption, ReasonPenalty, ReasonCorrection:
		return true
	default:
		return false
	}
}

// IsTaskCompletion возвращает true для начислений за задачи.
func (r Reason) IsTaskCompletion() bool {
	return r == ReasonTaskCompleted
}

// ParseReason разбирает строку; неизвестная причина - ошибка ErrUnknownReason.
func ParseReason(s string) (Reason, error) {
	r := Reason(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", shared.ErrUnknownReason
	}
	return r, nil
}
