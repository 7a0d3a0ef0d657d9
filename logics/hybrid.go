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

	"github.com/juju/errors"
)

// Linear combination weights applied when both underlying strategies propose
// the same item. The later occurrence carries the primary weight.
const (
	hybridWeightPrimary   = 70
	hybridWeightSecondary = 30
)

// Hybrid combines the content based and collaborative strategies by linear
// score combination. Items proposed by both receive a weighted sum of the two
// scores and a merged explanation.
type Hybrid struct {
	content       Strategy
	collaborative Strategy
}

func NewHybrid(content, collaborative Strategy) *Hybrid {
	return &Hybrid{content: content, collaborative: collaborative}
}

func (h *Hybrid) Id() int {
	return StrategyHybrid
}

func (h *Hybrid) Name() string {
	return "Hybrid Content Collaborative"
}

func (h *Hybrid) Explanation() string {
	return "Recommendations are based on items that are similar to items you like and users you are similar to."
}

func (h *Hybrid) Recommend(ctx context.Context, user string, n int) ([]Recommendation, error) {
	contentRecs, err := h.content.Recommend(ctx, user, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	collaborativeRecs, err := h.collaborative.Recommend(ctx, user, n)
	if err != nil {
		return nil, errors.Trace(err)
	}

	merged := make([]Recommendation, 0, len(contentRecs)+len(collaborativeRecs))
	index := make(map[int]int)
	for _, rec := range append(contentRecs, collaborativeRecs...) {
		rec.StrategyId = StrategyHybrid
		position, duplicate := index[rec.Item.ItemId]
		if !duplicate {
			index[rec.Item.ItemId] = len(merged)
			merged = append(merged, rec)
			continue
		}
		// score' = score_2 * weight_1 + score_1 * weight_2
		merged[position].Score = rec.Score*hybridWeightPrimary + merged[position].Score*hybridWeightSecondary
		merged[position].Explanation = rec.Explanation + " and " + merged[position].Explanation
	}

	sortByScore(merged)
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged, nil
}
