package catalog

import (
	"math/rand/v2"
	"sync"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// TipSelector выбирает случайный совет из каталога.
// Состояния, кроме генератора случайных чисел, не хранит.
type TipSelector struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTipSelector создаёт селектор. Если rng равен nil, используется
// глобальный генератор math/rand/v2.
func NewTipSelector(c *Catalog, rng *rand.Rand) *TipSelector {
	return &TipSelector{catalog: c, rng: rng}
}

// Pick возвращает случайный совет категории или ErrUnknownCategory.
func (s *TipSelector) Pick(cat shared.Category) (string, error) {
	if s.rng == nil {
		return s.catalog.RandomTip(cat, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.RandomTip(cat, s.rng)
}

// Catalog возвращает каталог, с которым работает селектор.
func (s *TipSelector) Catalog() *Catalog {
	return s.catalog
}
