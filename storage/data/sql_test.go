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

package data

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteDatabase(t *testing.T) Database {
	database, err := Open("sqlite://:memory:", "")
	require.NoError(t, err)
	require.NoError(t, database.Init())
	t.Cleanup(func() {
		assert.NoError(t, database.Close())
	})
	return database
}

func TestSQLite_Items(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.BatchInsertItems(ctx, []Item{
		{Artist: "Miles Davis", Title: "So What", Tags: map[string]float64{"jazz": 10}},
		{Artist: "Nirvana", Title: "Lithium"},
		{Artist: " miles davis ", Title: "SO WHAT"}, // duplicate natural key
	})
	assert.NoError(t, err)
	items, err := db.GetItems(ctx)
	assert.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Miles Davis", items[0].Artist)
	assert.Equal(t, map[string]float64{"jazz": 10}, items[0].Tags)

	// identity assigned on first persistence
	item, err := db.GetItem(ctx, items[0].ItemId)
	assert.NoError(t, err)
	assert.Equal(t, "So What", item.Title)
	_, err = db.GetItem(ctx, 42000)
	assert.ErrorIs(t, err, ErrItemNotExist)

	// tag vectors are attached lazily
	assert.NoError(t, db.UpdateItemTags(ctx, items[1].ItemId, map[string]float64{"grunge": 4, "rock": 2}))
	item, err = db.GetItem(ctx, items[1].ItemId)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"grunge": 4, "rock": 2}, item.Tags)
	assert.Error(t, db.UpdateItemTags(ctx, 42000, nil))
}

func TestSQLite_Users(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.BatchInsertUsers(ctx, []User{
		{Name: "ada", Birthyear: 1990, Gender: "Female", Languages: []string{"en", "de"}},
		{Name: "bob", Birthyear: 1960, Gender: "Male", Languages: []string{"en"}},
	})
	assert.NoError(t, err)
	names, err := db.GetUserNames(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"ada", "bob"}, names)
	user, err := db.GetUser(ctx, "ada")
	assert.NoError(t, err)
	assert.Equal(t, []string{"en", "de"}, user.Languages)
	_, err = db.GetUser(ctx, "carol")
	assert.ErrorIs(t, err, ErrUserNotExist)
}

func TestSQLite_ItemSimilarities(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.BatchInsertItems(ctx, []Item{
		{Artist: "a", Title: "1"}, {Artist: "b", Title: "2"}, {Artist: "c", Title: "3"},
	})
	require.NoError(t, err)

	missing, err := db.GetItemsMissingSimilarities(ctx)
	assert.NoError(t, err)
	assert.Len(t, missing, 3)

	err = db.BatchInsertItemSimilarities(ctx, []ItemSimilarity{
		{ItemA: 1, ItemB: 2, Similarity: 0.8},
		{ItemA: 1, ItemB: 3, Similarity: 0.2},
	})
	assert.NoError(t, err)
	missing, err = db.GetItemsMissingSimilarities(ctx)
	assert.NoError(t, err)
	assert.Empty(t, missing)

	// neighbors are unfolded from both ends of the unordered pair
	neighbors, err := db.GetItemNeighbors(ctx, 2, 10)
	assert.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, 1, neighbors[0].Id)
	assert.Equal(t, 0.8, neighbors[0].Similarity)

	neighbors, err = db.GetItemNeighbors(ctx, 1, 1)
	assert.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, 2, neighbors[0].Id)
}

func TestSQLite_UserSimilarities(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.BatchInsertUserSimilarities(ctx, []UserSimilarity{
		{UserA: "ada", UserB: "bob", Similarity: 0.5},
		{UserA: "ada", UserB: "carol", Similarity: 0.9},
	})
	assert.NoError(t, err)
	neighbors, err := db.GetUserNeighbors(ctx, "ada", 10)
	assert.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "carol", neighbors[0].Id)
	assert.Equal(t, "bob", neighbors[1].Id)

	assert.NoError(t, db.ClearUserSimilarities(ctx, "ada"))
	neighbors, err = db.GetUserNeighbors(ctx, "ada", 10)
	assert.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestSQLite_Candidates(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.BatchInsertCandidates(ctx, []Candidate{
		{User: "ada", ItemId: 1, StrategyId: 1, Score: 0.5},
		{User: "ada", ItemId: 2, StrategyId: 1, Score: 0.9},
		{User: "ada", ItemId: 3, StrategyId: 2, Score: 0.7},
	})
	assert.NoError(t, err)
	candidates, err := db.GetCandidates(ctx, "ada", 1, 10)
	assert.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 2, candidates[0].ItemId)

	// already recommended items are skipped
	err = db.InsertRecommendationList(ctx, "ada", 0, []Recommendation{
		{ItemId: 2, StrategyId: 1, Score: 0.9},
	})
	assert.NoError(t, err)
	candidates, err = db.GetCandidates(ctx, "ada", 1, 10)
	assert.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 1, candidates[0].ItemId)

	// refresh clears and rebuilds
	assert.NoError(t, db.ClearCandidates(ctx, "ada", 1))
	candidates, err = db.GetCandidates(ctx, "ada", 1, 10)
	assert.NoError(t, err)
	assert.Empty(t, candidates)
	candidates, err = db.GetCandidates(ctx, "ada", 2, 10)
	assert.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestSQLite_RecommendationLists(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	err := db.InsertRecommendationList(ctx, "ada", 0, []Recommendation{
		{ItemId: 1, StrategyId: 1, Score: 0.9},
		{ItemId: 2, StrategyId: 2, Score: 0.7},
	})
	assert.NoError(t, err)
	err = db.InsertRecommendationList(ctx, "ada", 0, []Recommendation{
		{ItemId: 3, StrategyId: 1, Score: 0.4},
	})
	assert.NoError(t, err)

	list, err := db.GetRecommendationList(ctx, "ada")
	assert.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].ItemId)
	assert.Equal(t, 2, list[0].List)

	ratings, err := db.GetStrategyRatings(ctx, "ada", 1)
	assert.NoError(t, err)
	require.Len(t, ratings, 2)
	// most recent list first
	assert.Equal(t, 2, ratings[0].List)
	assert.Equal(t, float64(RatingSeen), ratings[0].Rating)

	// ratings mutate a recommendation exactly once
	history, err := db.GetUserRatings(ctx, "ada", 0)
	assert.NoError(t, err)
	assert.Len(t, history, 3)
	assert.NoError(t, db.PutRating(ctx, 1, RatingLoved))
	assert.True(t, errors.IsAlreadyExists(db.PutRating(ctx, 1, RatingDisliked)))
	assert.True(t, errors.IsNotFound(db.PutRating(ctx, 999, RatingLiked)))
	history, err = db.GetUserRatings(ctx, "ada", 0)
	assert.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, Rating{ItemId: 1, Value: RatingLoved}, history[0])
}

func TestSQLite_Evaluations(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	running := &Evaluation{Name: "pilot", Running: true, NumGroups: 2}
	assert.NoError(t, db.InsertEvaluation(ctx, running))
	finished := &Evaluation{Name: "done", Running: false, NumGroups: 2}
	assert.NoError(t, db.InsertEvaluation(ctx, finished))

	assert.NoError(t, db.AddParticipant(ctx, Participant{EvalId: running.Id, User: "ada", GroupIndex: 1}))
	assert.NoError(t, db.AddParticipant(ctx, Participant{EvalId: finished.Id, User: "bob", GroupIndex: 1}))

	evalId, err := db.EvalForParticipant(ctx, "ada")
	assert.NoError(t, err)
	assert.Equal(t, running.Id, evalId)
	// finished evaluations no longer scope ratings
	evalId, err = db.EvalForParticipant(ctx, "bob")
	assert.NoError(t, err)
	assert.Zero(t, evalId)

	participants, err := db.GetParticipants(ctx, running.Id)
	assert.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "ada", participants[0].User)
}

func TestSQLite_EvalScopedRatings(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDatabase(t)
	assert.NoError(t, db.InsertRecommendationList(ctx, "ada", 0, []Recommendation{
		{ItemId: 1, StrategyId: 1, Score: 0.9},
	}))
	assert.NoError(t, db.InsertRecommendationList(ctx, "ada", 7, []Recommendation{
		{ItemId: 2, StrategyId: 1, Score: 0.8},
	}))
	// scoped to the evaluation context
	scoped, err := db.GetUserRatings(ctx, "ada", 7)
	assert.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, 2, scoped[0].ItemId)
	// baseline sees everything
	all, err := db.GetUserRatings(ctx, "ada", 0)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}
