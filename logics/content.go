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
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/base/vectors"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

// ContentBased recommends items whose tag vectors are similar to the tags of
// items the user rated positively.
type ContentBased struct {
	db        data.Database
	flushSize int
}

func NewContentBased(db data.Database, flushSize int) *ContentBased {
	return &ContentBased{db: db, flushSize: flushSize}
}

func (c *ContentBased) Id() int {
	return StrategyContentBased
}

func (c *ContentBased) Name() string {
	return "Content Based"
}

func (c *ContentBased) Explanation() string {
	return "Recommendations are based on items that are similar to items you like."
}

func (c *ContentBased) Recommend(ctx context.Context, user string, n int) ([]Recommendation, error) {
	return recommendFromCandidates(ctx, c.db, user, StrategyContentBased, n)
}

// RefreshItemSimilarities computes pairwise tag cosine similarity for every
// item that has no stored similarity edge yet. Each unordered pair is visited
// once and only positive similarities are stored. Inserts are buffered and
// flushed in fixed-size batches; a failed flush abandons the remaining pairs
// of the current item but earlier flushes stay persisted.
func (c *ContentBased) RefreshItemSimilarities(ctx context.Context) error {
	items, err := c.db.GetItemsMissingSimilarities(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	done := mapset.NewSet[int]()
	for _, itemOne := range items {
		buffer := make([]data.ItemSimilarity, 0, c.flushSize)
		aborted := false
		for _, itemTwo := range items {
			if itemTwo.ItemId == itemOne.ItemId || done.Contains(itemTwo.ItemId) {
				continue
			}
			similarity := vectors.Cosine(itemOne.Tags, itemTwo.Tags)
			if similarity <= 0 {
				continue
			}
			buffer = append(buffer, data.ItemSimilarity{
				ItemA:      itemOne.ItemId,
				ItemB:      itemTwo.ItemId,
				Similarity: similarity,
			})
			if len(buffer) == c.flushSize {
				if err = c.db.BatchInsertItemSimilarities(ctx, buffer); err != nil {
					log.Logger().Warn("failed to flush item similarities",
						zap.Int("item_id", itemOne.ItemId), zap.Error(err))
					aborted = true
					break
				}
				buffer = buffer[:0]
			}
		}
		if !aborted && len(buffer) > 0 {
			if err = c.db.BatchInsertItemSimilarities(ctx, buffer); err != nil {
				log.Logger().Warn("failed to flush item similarities",
					zap.Int("item_id", itemOne.ItemId), zap.Error(err))
			}
		}
		done.Add(itemOne.ItemId)
	}
	log.Logger().Info("refreshed item similarities", zap.Int("n_items", len(items)))
	return nil
}

// RefreshUserItemMatrix rebuilds the user's content based candidate table.
// The rating history is scoped to the user's running evaluation, sorted from
// highest to lowest value and processed until the first non-positive rating.
// Scores of a neighbor reachable from several liked items accumulate; the
// explanation names the artist of the first contributing item.
func (c *ContentBased) RefreshUserItemMatrix(ctx context.Context, user string, neighborhoodSize int) error {
	evalId, err := c.db.EvalForParticipant(ctx, user)
	if err != nil {
		return errors.Trace(err)
	}
	ratings, err := c.db.GetUserRatings(ctx, user, evalId)
	if err != nil {
		return errors.Trace(err)
	}
	data.SortRatings(ratings)
	rated := mapset.NewSet[int]()
	for _, rating := range ratings {
		rated.Add(rating.ItemId)
	}

	scores := make(map[int]float64)
	sources := make(map[int]string)
	for _, rating := range ratings {
		if rating.Value <= 0 {
			break
		}
		neighbors, err := c.db.GetItemNeighbors(ctx, rating.ItemId, neighborhoodSize)
		if err != nil {
			return errors.Trace(err)
		}
		if len(neighbors) == 0 {
			continue
		}
		source, err := c.db.GetItem(ctx, rating.ItemId)
		if err != nil {
			return errors.Trace(err)
		}
		for _, neighbor := range neighbors {
			if rated.Contains(neighbor.Id) {
				continue
			}
			scores[neighbor.Id] += neighbor.Similarity * rating.Value
			if _, exist := sources[neighbor.Id]; !exist {
				sources[neighbor.Id] = source.Artist
			}
		}
	}

	if err = c.db.ClearCandidates(ctx, user, StrategyContentBased); err != nil {
		return errors.Trace(err)
	}
	candidates := make([]data.Candidate, 0, len(scores))
	for itemId, score := range scores {
		candidates = append(candidates, data.Candidate{
			User:        user,
			ItemId:      itemId,
			StrategyId:  StrategyContentBased,
			Score:       score,
			Explanation: "You liked: " + sources[itemId],
		})
	}
	if err = c.db.BatchInsertCandidates(ctx, candidates); err != nil {
		return errors.Trace(err)
	}
	log.Logger().Debug("refreshed content based candidates",
		zap.String("user", user), zap.Int("n_candidates", len(candidates)))
	return nil
}
