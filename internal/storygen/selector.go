package storygen

import (
	"github.com/kidsdream/api/internal/domain"
)

const (
	minFreeBeats    = 3
	minPremiumBeats = 4

	freeObstacleCount    = 2
	premiumObstacleCount = 3
)

// PickOne selects a uniformly random element. Repeats across calls are expected.
func PickOne(src RandomSource, pool []string) (string, error) {
	if len(pool) == 0 {
		return "", emptyPool("", "", "")
	}
	return pool[pick(src, len(pool))], nil
}

// PickMany returns k distinct elements in random order using a partial
// Fisher-Yates shuffle over a copy of the pool. When k exceeds the pool size
// the whole pool is returned shuffled. The pool itself is never modified.
func PickMany(src RandomSource, pool []string, k int) ([]string, error) {
	if len(pool) == 0 {
		return nil, emptyPool("", "", "")
	}
	if k <= 0 {
		return []string{}, nil
	}
	if k > len(pool) {
		k = len(pool)
	}
	shuffled := append([]string(nil), pool...)
	for i := 0; i < k; i++ {
		j := i + pick(src, len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:k], nil
}

// PickNarrativeStructure chooses the beat sequence for one story. Free stories
// always use the first configured free structure; premium stories choose among
// all premium structures.
func (c *Corpus) PickNarrativeStructure(src RandomSource, tier domain.Tier) (Structure, error) {
	structures := c.structures[tier]
	if len(structures) == 0 {
		return Structure{}, &ConfigurationError{Pool: "structures", Tier: string(tier), Reason: "no narrative structures"}
	}
	if tier != domain.TierPremium {
		return structures[0], nil
	}
	return structures[pick(src, len(structures))], nil
}

// elements are the variation ingredients chosen once per story.
type elements struct {
	companion    string
	obstacles    []string
	discovery    string
	plotTwist    string
	characterArc string
	atmosphere   string
	time         string
	weather      string
	sound        string
	scent        string
}

func obstacleCount(tier domain.Tier) int {
	if tier == domain.TierPremium {
		return premiumObstacleCount
	}
	return freeObstacleCount
}

func (c *Corpus) pickElements(src RandomSource, tier domain.Tier) (elements, error) {
	var el elements
	one := func(name string, dst *string) error {
		pool, err := c.variation(name)
		if err != nil {
			return err
		}
		*dst, _ = PickOne(src, pool)
		return nil
	}

	if err := one(PoolCompanions, &el.companion); err != nil {
		return el, err
	}
	obstacles, err := c.variation(PoolObstacles)
	if err != nil {
		return el, err
	}
	if el.obstacles, err = PickMany(src, obstacles, obstacleCount(tier)); err != nil {
		return el, err
	}
	for _, f := range []struct {
		pool string
		dst  *string
	}{
		{PoolDiscoveries, &el.discovery},
		{PoolPlotTwists, &el.plotTwist},
		{PoolCharacterArcs, &el.characterArc},
		{PoolAtmosphere, &el.atmosphere},
		{PoolTime, &el.time},
		{PoolWeather, &el.weather},
		{PoolSound, &el.sound},
		{PoolScent, &el.scent},
	} {
		if err := one(f.pool, f.dst); err != nil {
			return el, err
		}
	}
	return el, nil
}
