package analytics

import "strings"

// CategoryOther - категория для задач без совпадений.
const CategoryOther = "Other"

// CategoryRule - категория и её ключевые слова. Порядок правил важен:
// побеждает первое совпавшее правило.
type CategoryRule struct {
	Category string   `yaml:"category" json:"category"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Categorizer определяет категорию задачи по заголовку.
type Categorizer struct {
	rules []CategoryRule
}

// NewCategorizer нормализует ключевые слова (нижний регистр, без пробелов
// по краям) и отбрасывает пустые правила. nil-правила заменяются таблицей
// по умолчанию.
func NewCategorizer(rules []CategoryRule) *Categorizer {
	if rules == nil {
		rules = DefaultCategoryRules()
	}
	normalized := make([]CategoryRule, 0, len(rules))
	for _, r := range rules {
		name := strings.TrimSpace(r.Category)
		if name == "" {
			continue
		}
		kws := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) > 0 {
			normalized = append(normalized, CategoryRule{Category: name, Keywords: kws})
		}
	}
	return &Categorizer{rules: normalized}
}

// Categorize возвращает категорию первого правила, ключевое слово которого
// входит в заголовок (без учёта регистра), иначе CategoryOther.
func (c *Categorizer) Categorize(title string) string {
	name := strings.ToLower(strings.TrimSpace(title))
	if name == "" {
		return CategoryOther
	}
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(name, kw) {
				return r.Category
			}
		}
	}
	return CategoryOther
}

// Rules возвращает копию нормализованных правил.
func (c *Categorizer) Rules() []CategoryRule {
	out := make([]CategoryRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// DefaultCategoryRules - таблица по умолчанию (английские и немецкие слова).
func DefaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{Category: "Kitchen", Keywords: []string{"dish", "kitchen", "cook", "fridge", "oven", "geschirr", "küche", "kochen", "spülmaschine"}},
		{Category: "Laundry", Keywords: []string{"laundry", "wash clothes", "iron", "fold", "wäsche", "bügeln"}},
		{Category: "Bathroom", Keywords: []string{"bathroom", "toilet", "shower", "bath", "bad", "toilette", "dusche"}},
		{Category: "Cleaning", Keywords: []string{"clean", "vacuum", "mop", "dust", "sweep", "putzen", "saugen", "staub", "wischen"}},
		{Category: "Trash", Keywords: []string{"trash", "garbage", "recycl", "bins", "müll", "abfall"}},
		{Category: "Shopping", Keywords: []string{"shop", "grocer", "buy", "einkauf", "kaufen"}},
		{Category: "Outdoor", Keywords: []string{"garden", "lawn", "yard", "plant", "garten", "rasen", "pflanzen"}},
		{Category: "Pets", Keywords: []string{"pet", "dog", "cat", "feed", "hund", "katze", "füttern"}},
		{Category: "Maintenance", Keywords: []string{"repair", "fix", "replace", "reparieren", "wechseln"}},
	}
}
