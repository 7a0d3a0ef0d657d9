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
	"math"
	"testing"

	"github.com/muse-io/muse/storage/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshItemSimilarities(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	require.NoError(t, db.BatchInsertItems(ctx, []data.Item{
		{Artist: "a", Title: "one", Tags: map[string]float64{"rock": 1}},
		{Artist: "b", Title: "two", Tags: map[string]float64{"rock": 1, "pop": 1}},
		{Artist: "c", Title: "three", Tags: map[string]float64{"jazz": 1}},
	}))
	content := NewContentBased(db, 1000)
	require.NoError(t, content.RefreshItemSimilarities(ctx))

	// one edge between the two rock items, nothing stored for disjoint tags
	neighbors, err := db.GetItemNeighbors(ctx, 1, 10)
	assert.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, 2, neighbors[0].Id)
	assert.InDelta(t, 1/math.Sqrt2, neighbors[0].Similarity, 1e-9)
	neighbors, err = db.GetItemNeighbors(ctx, 2, 10)
	assert.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, 1, neighbors[0].Id)
	neighbors, err = db.GetItemNeighbors(ctx, 3, 10)
	assert.NoError(t, err)
	assert.Empty(t, neighbors)

	// zero-filtered items stay without edges and show up again next pass
	missing, err := db.GetItemsMissingSimilarities(ctx)
	assert.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, 3, missing[0].ItemId)
}

func TestContentCandidateScore(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	require.NoError(t, db.BatchInsertItems(ctx, []data.Item{
		{Artist: "Miles Davis", Title: "So What"},
		{Artist: "Nirvana", Title: "Lithium"},
		{Artist: "Adele", Title: "Hello"},
		{Artist: "Weather Report", Title: "Birdland"},
	}))
	require.NoError(t, db.BatchInsertItemSimilarities(ctx, []data.ItemSimilarity{
		{ItemA: 1, ItemB: 4, Similarity: 0.5},
	}))
	rate(t, db, "ada", map[int]float64{1: data.RatingLoved, 2: data.RatingLiked, 3: data.RatingDisliked})

	content := NewContentBased(db, 1000)
	require.NoError(t, content.RefreshUserItemMatrix(ctx, "ada", 20))

	candidates, err := db.GetCandidates(ctx, "ada", StrategyContentBased, 10)
	assert.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 4, candidates[0].ItemId)
	assert.InDelta(t, 1.0, candidates[0].Score, 1e-9)
	assert.Equal(t, "You liked: Miles Davis", candidates[0].Explanation)

	recommendations, err := content.Recommend(ctx, "ada", 10)
	assert.NoError(t, err)
	require.Len(t, recommendations, 1)
	assert.Equal(t, "Weather Report", recommendations[0].Item.Artist)
	assert.Equal(t, StrategyContentBased, recommendations[0].StrategyId)
}

func TestContentAccumulateAndStop(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	require.NoError(t, db.BatchInsertItems(ctx, []data.Item{
		{Artist: "a", Title: "one"},
		{Artist: "b", Title: "two"},
		{Artist: "c", Title: "three"},
		{Artist: "d", Title: "four"},
		{Artist: "e", Title: "five"},
	}))
	require.NoError(t, db.BatchInsertItemSimilarities(ctx, []data.ItemSimilarity{
		{ItemA: 1, ItemB: 2, Similarity: 0.8},
		{ItemA: 1, ItemB: 4, Similarity: 0.5},
		{ItemA: 2, ItemB: 4, Similarity: 0.4},
		{ItemA: 3, ItemB: 5, Similarity: 0.9},
	}))
	rate(t, db, "ada", map[int]float64{1: data.RatingLoved, 2: data.RatingLiked, 3: data.RatingDisliked})

	content := NewContentBased(db, 1000)
	require.NoError(t, content.RefreshUserItemMatrix(ctx, "ada", 20))

	// item 4 is reachable from items 1 and 2, contributions sum; the disliked
	// item 3 stops the walk so its neighbor never becomes a candidate and the
	// already rated item 2 is skipped
	candidates, err := db.GetCandidates(ctx, "ada", StrategyContentBased, 10)
	assert.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 4, candidates[0].ItemId)
	assert.InDelta(t, 2*0.5+1*0.4, candidates[0].Score, 1e-9)

	// refresh clears and rebuilds instead of updating incrementally
	require.NoError(t, content.RefreshUserItemMatrix(ctx, "ada", 20))
	candidates, err = db.GetCandidates(ctx, "ada", StrategyContentBased, 10)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
}
