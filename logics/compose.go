// Copyright 2025 muse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logics

import (
	"context"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

const (
	PolicySingle   = "single"
	PolicyMixed    = "mixed"
	PolicyWeighted = "weighted"
	PolicyDynamic  = "dynamic"
)

// Composer merges the candidates of multiple strategies into one final
// recommendation list under a selectable composition policy.
type Composer struct {
	db       data.Database
	registry *Registry
	listSize int
}

func NewComposer(db data.Database, registry *Registry, listSize int) *Composer {
	return &Composer{db: db, registry: registry, listSize: listSize}
}

// CreateRecommendationList composes and persists a recommendation list for
// the user. A single strategy id bypasses the policy logic. When candidates
// run short the list is returned shorter instead of failing.
func (c *Composer) CreateRecommendationList(ctx context.Context, user, policy string, evalId int, strategyIds []int) ([]Recommendation, error) {
	if len(strategyIds) == 0 {
		return nil, errors.Errorf("no strategies selected for user %v", user)
	}

	var list []Recommendation
	var err error
	if len(strategyIds) == 1 {
		list, err = c.composeSingle(ctx, user, strategyIds[0])
	} else {
		switch policy {
		case PolicySingle:
			return nil, errors.Errorf("single policy requires exactly one strategy id, got %d", len(strategyIds))
		case PolicyMixed:
			list, err = c.composeMixed(ctx, user, strategyIds)
		case PolicyWeighted:
			list, err = c.composeWeighted(ctx, user, strategyIds)
		case PolicyDynamic:
			list, err = c.composeDynamic(ctx, user, strategyIds)
		default:
			return nil, errors.Errorf("unknown composition policy %q", policy)
		}
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	rows := make([]data.Recommendation, len(list))
	for i, rec := range list {
		rows[i] = data.Recommendation{
			User:        user,
			ItemId:      rec.Item.ItemId,
			StrategyId:  rec.StrategyId,
			Score:       rec.Score,
			Explanation: rec.Explanation,
			Timestamp:   time.Now(),
		}
	}
	if err = c.db.InsertRecommendationList(ctx, user, evalId, rows); err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("created recommendation list",
		zap.String("user", user), zap.String("policy", policy), zap.Int("size", len(list)))
	return list, nil
}

func (c *Composer) composeSingle(ctx context.Context, user string, strategyId int) ([]Recommendation, error) {
	strategy, err := c.registry.Get(strategyId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations, err := strategy.Recommend(ctx, user, c.listSize)
	if err != nil {
		return nil, errors.Trace(err)
	}
	seen := newDeduplicator()
	result := make([]Recommendation, 0, c.listSize)
	for _, rec := range recommendations {
		if len(result) == c.listSize {
			break
		}
		if seen.add(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// composeMixed partitions the list evenly across strategies. Leftover slots
// of strategies that ran short are redistributed across strategies that still
// have unused candidates until the list fills or everything is exhausted.
func (c *Composer) composeMixed(ctx context.Context, user string, strategyIds []int) ([]Recommendation, error) {
	share := c.listSize / len(strategyIds)
	seen := newDeduplicator()
	result := make([]Recommendation, 0, c.listSize)
	rest := make(map[int][]Recommendation)
	for _, id := range strategyIds {
		strategy, err := c.registry.Get(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		recommendations, err := strategy.Recommend(ctx, user, c.listSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		taken, i := 0, 0
		for ; i < len(recommendations) && taken < share; i++ {
			if seen.add(recommendations[i]) {
				result = append(result, recommendations[i])
				taken++
			}
		}
		if i < len(recommendations) {
			rest[id] = recommendations[i:]
		}
	}

	for len(result) < c.listSize && len(rest) > 0 {
		count := (c.listSize - len(result)) / len(rest)
		if count == 0 {
			count = 1
		}
		for _, id := range strategyIds {
			queue, exist := rest[id]
			if !exist {
				continue
			}
			if len(result) == c.listSize {
				break
			}
			taken, i := 0, 0
			for ; i < len(queue) && taken < count && len(result) < c.listSize; i++ {
				if seen.add(queue[i]) {
					result = append(result, queue[i])
					taken++
				}
			}
			if i < len(queue) {
				rest[id] = queue[i:]
			} else {
				delete(rest, id)
			}
		}
	}
	sortByScore(result)
	return result, nil
}

// composeWeighted pools all strategies' candidates and keeps the global top
// of the list size, so a strategy with systematically higher scores dominates.
func (c *Composer) composeWeighted(ctx context.Context, user string, strategyIds []int) ([]Recommendation, error) {
	pool, err := c.pool(ctx, user, strategyIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sortByScore(pool)
	seen := newDeduplicator()
	result := make([]Recommendation, 0, c.listSize)
	for _, rec := range pool {
		if len(result) == c.listSize {
			break
		}
		if seen.add(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// composeDynamic selects like composeWeighted but biases the selection order
// by each strategy's affinity, derived from how the user rated the strategy's
// past lists. Only the selection order is reweighted, the persisted scores
// stay the originals.
func (c *Composer) composeDynamic(ctx context.Context, user string, strategyIds []int) ([]Recommendation, error) {
	pool, err := c.pool(ctx, user, strategyIds)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sortByScore(pool)

	affinities := make(map[int]float64)
	for _, id := range strategyIds {
		affinity, err := c.strategyAffinity(ctx, user, id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		affinities[id] = affinity
	}

	type reweighted struct {
		rec    Recommendation
		weight float64
	}
	selection := make([]reweighted, len(pool))
	for i, rec := range pool {
		selection[i] = reweighted{rec: rec, weight: rec.Score * affinities[rec.StrategyId]}
	}
	sort.SliceStable(selection, func(i, j int) bool {
		return selection[i].weight > selection[j].weight
	})

	seen := newDeduplicator()
	result := make([]Recommendation, 0, c.listSize)
	for _, entry := range selection {
		if len(result) == c.listSize {
			break
		}
		if seen.add(entry.rec) {
			result = append(result, entry.rec)
		}
	}
	return result, nil
}

// strategyAffinity scores a strategy in [0, 1] from the user's historical
// ratings of the strategy's past lists, with the two most recent lists
// weighted twice.
func (c *Composer) strategyAffinity(ctx context.Context, user string, strategyId int) (float64, error) {
	listRatings, err := c.db.GetStrategyRatings(ctx, user, strategyId)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(listRatings) == 0 {
		return 0, nil
	}
	maxList := listRatings[0].List
	var sum float64
	var count int
	for _, listRating := range listRatings {
		weight := 1
		if maxList-listRating.List < 2 {
			weight = 2
		}
		sum += float64(weight) * listRating.Rating
		count += weight
	}
	affinity := sum / (2 * float64(count))
	if affinity < 0 {
		affinity = 0
	}
	return affinity, nil
}

func (c *Composer) pool(ctx context.Context, user string, strategyIds []int) ([]Recommendation, error) {
	var pool []Recommendation
	for _, id := range strategyIds {
		strategy, err := c.registry.Get(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		recommendations, err := strategy.Recommend(ctx, user, c.listSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		pool = append(pool, recommendations...)
	}
	return pool, nil
}

func sortByScore(recommendations []Recommendation) {
	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].Score > recommendations[j].Score
	})
}

// deduplicator drops a recommendation when its item or its artist was already
// included, first occurrence wins.
type deduplicator struct {
	items   mapset.Set[int]
	artists mapset.Set[string]
}

func newDeduplicator() *deduplicator {
	return &deduplicator{
		items:   mapset.NewSet[int](),
		artists: mapset.NewSet[string](),
	}
}

func (d *deduplicator) add(rec Recommendation) bool {
	artist := strings.ToLower(strings.TrimSpace(rec.Item.Artist))
	if d.items.Contains(rec.Item.ItemId) || d.artists.Contains(artist) {
		return false
	}
	d.items.Add(rec.Item.ItemId)
	d.artists.Add(artist)
	return true
}
