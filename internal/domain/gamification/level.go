package gamification

import "math"

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CALCULATOR
// ══════════════════════════════════════════════════════════════════════════════

// pointsPerLevelUnit - масштаб формулы: уровень L начинается с 100·(L-1)² очков.
const pointsPerLevelUnit = 100

// Level вычисляет уровень по балансу: floor(sqrt(points/100)) + 1.
// Отрицательный баланс считается нулевым.
func Level(points int) int {
	if points <= 0 {
		return 1
	}
	return isqrt(points)/10 + 1
}

// LevelStart возвращает минимальный баланс для уровня.
func LevelStart(level int) int {
	if level <= 1 {
		return 0
	}
	return pointsPerLevelUnit * (level - 1) * (level - 1)
}

// Progress описывает положение баланса внутри уровня.
type Progress struct {
	Level           int     `json:"level"`
	Points          int     `json:"points"`
	LevelStart      int     `json:"level_start"`
	NextLevelAt     int     `json:"next_level_at"`
	PointsToNext    int     `json:"points_to_next"`
	ProgressPercent float64 `json:"progress"`
}

// LevelProgress возвращает уровень, границы уровня и долю прогресса в [0,1].
func LevelProgress(points int) Progress {
	if points < 0 {
		points = 0
	}
	level := Level(points)
	start := LevelStart(level)
	next := LevelStart(level + 1)

	fraction := 0.0
	if span := next - start; span > 0 {
		fraction = float64(points-start) / float64(span)
	}
	fraction = math.Max(0, math.Min(1, fraction))

	return Progress{
		Level:           level,
		Points:          points,
		LevelStart:      start,
		NextLevelAt:     next,
		PointsToNext:    next - points,
		ProgressPercent: fraction,
	}
}

// isqrt - целочисленный квадратный корень (floor(sqrt(n))) без ошибок округления.
func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}
