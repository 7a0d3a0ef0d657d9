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

	"github.com/juju/errors"
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

const (
	StrategyContentBased  = 1
	StrategyCollaborative = 2
	StrategyHybrid        = 3
)

// Recommendation is one scored item proposed by a strategy, carrying the full
// item so the composer can deduplicate by artist.
type Recommendation struct {
	Item        data.Item
	StrategyId  int
	Score       float64
	Explanation string
}

// Strategy is one candidate generation algorithm. Recommend reads the
// strategy's persisted candidate table, it never computes scores on the fly.
type Strategy interface {
	Id() int
	Name() string
	Explanation() string
	Recommend(ctx context.Context, user string, n int) ([]Recommendation, error)
}

// Registry maps strategy ids to strategies. The composer receives a registry
// explicitly so tests can wire fakes.
type Registry struct {
	strategies map[int]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[int]Strategy)}
	for _, strategy := range strategies {
		r.strategies[strategy.Id()] = strategy
	}
	return r
}

func (r *Registry) Register(strategy Strategy) {
	r.strategies[strategy.Id()] = strategy
}

func (r *Registry) Get(id int) (Strategy, error) {
	strategy, ok := r.strategies[id]
	if !ok {
		return nil, errors.NotFoundf("strategy %d", id)
	}
	return strategy, nil
}

func (r *Registry) Ids() []int {
	ids := make([]int, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// recommendFromCandidates turns the top candidates of a strategy into
// recommendations. Items already recommended to the user are excluded by the
// store, items that vanished from the catalog are skipped.
func recommendFromCandidates(ctx context.Context, db data.Database, user string, strategyId, n int) ([]Recommendation, error) {
	candidates, err := db.GetCandidates(ctx, user, strategyId, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommendations := make([]Recommendation, 0, len(candidates))
	for _, candidate := range candidates {
		item, err := db.GetItem(ctx, candidate.ItemId)
		if err != nil {
			log.Logger().Warn("skip candidate with unknown item",
				zap.String("user", user), zap.Int("item_id", candidate.ItemId), zap.Error(err))
			continue
		}
		recommendations = append(recommendations, Recommendation{
			Item:        item,
			StrategyId:  candidate.StrategyId,
			Score:       candidate.Score,
			Explanation: candidate.Explanation,
		})
	}
	return recommendations, nil
}
