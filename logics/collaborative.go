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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/muse-io/muse/base/heap"
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/base/vectors"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

// Collaborative recommends items liked by users whose rating behavior
// correlates with the target user.
type Collaborative struct {
	db           data.Database
	flushSize    int
	candidateCap int
}

func NewCollaborative(db data.Database, flushSize, candidateCap int) *Collaborative {
	return &Collaborative{db: db, flushSize: flushSize, candidateCap: candidateCap}
}

func (c *Collaborative) Id() int {
	return StrategyCollaborative
}

func (c *Collaborative) Name() string {
	return "Collaborative Filtering"
}

func (c *Collaborative) Explanation() string {
	return "Recommendations are based on preferences of similar users."
}

func (c *Collaborative) Recommend(ctx context.Context, user string, n int) ([]Recommendation, error) {
	return recommendFromCandidates(ctx, c.db, user, StrategyCollaborative, n)
}

// ratingVector reduces a rating history to a sparse item vector. Seen items
// carry no preference signal and are left out.
func (c *Collaborative) ratingVector(ctx context.Context, user string) (map[int]float64, error) {
	ratings, err := c.db.GetUserRatings(ctx, user, 0)
	if err != nil {
		return nil, errors.Trace(err)
	}
	vector := make(map[int]float64, len(ratings))
	for _, rating := range ratings {
		if rating.Value != data.RatingSeen {
			vector[rating.ItemId] = rating.Value
		}
	}
	return vector, nil
}

// RefreshUserSimilarities recomputes the user's similarity edges as the
// Pearson correlation of rating vectors against every other user. Only
// positive correlations are stored.
func (c *Collaborative) RefreshUserSimilarities(ctx context.Context, user string) error {
	vector, err := c.ratingVector(ctx, user)
	if err != nil {
		return errors.Trace(err)
	}
	names, err := c.db.GetUserNames(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err = c.db.ClearUserSimilarities(ctx, user); err != nil {
		return errors.Trace(err)
	}
	buffer := make([]data.UserSimilarity, 0, c.flushSize)
	for _, other := range names {
		if other == user {
			continue
		}
		otherVector, err := c.ratingVector(ctx, other)
		if err != nil {
			return errors.Trace(err)
		}
		similarity := vectors.Pearson(vector, otherVector)
		if similarity <= 0 {
			continue
		}
		buffer = append(buffer, data.UserSimilarity{
			UserA:      user,
			UserB:      other,
			Similarity: similarity,
		})
		if len(buffer) == c.flushSize {
			if err = c.db.BatchInsertUserSimilarities(ctx, buffer); err != nil {
				return errors.Trace(err)
			}
			buffer = buffer[:0]
		}
	}
	if len(buffer) > 0 {
		if err = c.db.BatchInsertUserSimilarities(ctx, buffer); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// RefreshUserItemMatrix rebuilds the user's collaborative candidate table
// from the positively rated items of the top neighbors. An item the user has
// rated in any way, the seen sentinel included, is never proposed. When
// several neighbors propose the same item the highest weighted rating wins,
// and only the strongest candidates up to the cap are persisted.
func (c *Collaborative) RefreshUserItemMatrix(ctx context.Context, user string, neighborhoodSize int) error {
	neighbors, err := c.db.GetUserNeighbors(ctx, user, neighborhoodSize)
	if err != nil {
		return errors.Trace(err)
	}
	ratings, err := c.db.GetUserRatings(ctx, user, 0)
	if err != nil {
		return errors.Trace(err)
	}
	rated := mapset.NewSet[int]()
	for _, rating := range ratings {
		rated.Add(rating.ItemId)
	}

	best := make(map[int]data.Candidate)
	for _, neighbor := range neighbors {
		neighborRatings, err := c.db.GetUserRatings(ctx, neighbor.Id, 0)
		if err != nil {
			return errors.Trace(err)
		}
		for _, rating := range neighborRatings {
			if rating.Value <= 0 || rated.Contains(rating.ItemId) {
				continue
			}
			score := neighbor.Similarity * rating.Value
			if existing, exist := best[rating.ItemId]; exist && existing.Score >= score {
				continue
			}
			best[rating.ItemId] = data.Candidate{
				User:        user,
				ItemId:      rating.ItemId,
				StrategyId:  StrategyCollaborative,
				Score:       score,
				Explanation: "Liked by similar user " + neighbor.Id,
			}
		}
	}

	filter := heap.NewTopKFilter[data.Candidate, float64](c.candidateCap)
	for _, candidate := range best {
		filter.Push(candidate, candidate.Score)
	}
	candidates, _ := filter.PopAll()

	if err = c.db.ClearCandidates(ctx, user, StrategyCollaborative); err != nil {
		return errors.Trace(err)
	}
	if err = c.db.BatchInsertCandidates(ctx, candidates); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Debug("refreshed collaborative candidates",
		zap.String("user", user), zap.Int("n_candidates", len(candidates)))
	return nil
}
