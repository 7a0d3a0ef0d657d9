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

func TestRefreshUserSimilarities(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	require.NoError(t, db.BatchInsertUsers(ctx, []data.User{
		{Name: "ada"}, {Name: "bob"}, {Name: "carol"},
	}))
	require.NoError(t, db.BatchInsertItems(ctx, []data.Item{
		{Artist: "a", Title: "one"},
		{Artist: "b", Title: "two"},
		{Artist: "c", Title: "three"},
		{Artist: "d", Title: "four"},
		{Artist: "e", Title: "five"},
	}))
	rate(t, db, "ada", map[int]float64{1: 2, 2: 1, 5: data.RatingSeen})
	rate(t, db, "bob", map[int]float64{1: 2, 2: 1, 3: 2, 4: -1, 5: 2})
	rate(t, db, "carol", map[int]float64{1: -1, 2: 2})

	collaborative := NewCollaborative(db, 1000, 200)
	require.NoError(t, collaborative.RefreshUserSimilarities(ctx, "ada"))

	// bob correlates positively, carol negatively and is discarded
	neighbors, err := db.GetUserNeighbors(ctx, "ada", 10)
	assert.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "bob", neighbors[0].Id)
	expected := 0.5 / (math.Sqrt(0.5) * math.Sqrt(6.8))
	assert.InDelta(t, expected, neighbors[0].Similarity, 1e-9)

	require.NoError(t, collaborative.RefreshUserItemMatrix(ctx, "ada", 20))
	candidates, err := db.GetCandidates(ctx, "ada", StrategyCollaborative, 10)
	assert.NoError(t, err)

	// item 3 is the only one bob likes that ada has no rating for: items 1
	// and 2 are rated, item 4 is disliked by bob and item 5 only carries
	// ada's seen sentinel but still counts as rated
	require.Len(t, candidates, 1)
	assert.Equal(t, 3, candidates[0].ItemId)
	assert.InDelta(t, 2*expected, candidates[0].Score, 1e-9)
	assert.Equal(t, "Liked by similar user bob", candidates[0].Explanation)
}

func TestCollaborativeCandidateCap(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	require.NoError(t, db.BatchInsertUsers(ctx, []data.User{
		{Name: "dan"}, {Name: "eve"},
	}))
	require.NoError(t, db.BatchInsertItems(ctx, []data.Item{
		{Artist: "a", Title: "one"},
		{Artist: "b", Title: "two"},
		{Artist: "c", Title: "three"},
	}))
	rate(t, db, "eve", map[int]float64{1: 2, 2: 2, 3: 1})
	require.NoError(t, db.BatchInsertUserSimilarities(ctx, []data.UserSimilarity{
		{UserA: "dan", UserB: "eve", Similarity: 0.9},
	}))

	collaborative := NewCollaborative(db, 1000, 2)
	require.NoError(t, collaborative.RefreshUserItemMatrix(ctx, "dan", 20))

	candidates, err := db.GetCandidates(ctx, "dan", StrategyCollaborative, 10)
	assert.NoError(t, err)
	require.Len(t, candidates, 2)
	for _, candidate := range candidates {
		assert.NotEqual(t, 3, candidate.ItemId)
		assert.InDelta(t, 0.9*2, candidate.Score, 1e-9)
	}
}
