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
	"testing"

	"github.com/muse-io/muse/storage/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) data.Database {
	db, err := data.Open("sqlite://:memory:", "")
	require.NoError(t, err)
	require.NoError(t, db.Init())
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

// rate gives a user a rating history by inserting a recommendation list and
// rating its rows. A zero value leaves the row as a seen sentinel.
func rate(t *testing.T, db data.Database, user string, itemRatings map[int]float64) {
	ctx := context.Background()
	rows := make([]data.Recommendation, 0, len(itemRatings))
	for itemId := range itemRatings {
		rows = append(rows, data.Recommendation{ItemId: itemId})
	}
	require.NoError(t, db.InsertRecommendationList(ctx, user, 0, rows))
	list, err := db.GetRecommendationList(ctx, user)
	require.NoError(t, err)
	for _, row := range list {
		if value := itemRatings[row.ItemId]; value != data.RatingSeen {
			require.NoError(t, db.PutRating(ctx, row.Id, value))
		}
	}
}
