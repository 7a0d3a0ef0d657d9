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
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

const (
	AgeBracketYoung  = "young"
	AgeBracketMiddle = "middle"
	AgeBracketOld    = "old"

	GenderMale = "Male"
)

// AgeBracket buckets a birthyear into young (up to 30), middle (31 to 60) and
// old (above 60).
func AgeBracket(birthyear int) string {
	age := time.Now().Year() - birthyear
	switch {
	case age <= 30:
		return AgeBracketYoung
	case age <= 60:
		return AgeBracketMiddle
	default:
		return AgeBracketOld
	}
}

// GroupStats holds the running aggregate composition of one evaluation group.
// Counters are incremented as participants are matched in, never recomputed
// from scratch per assignment.
type GroupStats struct {
	NumYoung, NumMiddle, NumOld int
	NumMale, NumFemale          int
	Languages                   map[string]int
}

func (g *GroupStats) clone() *GroupStats {
	c := *g
	c.Languages = make(map[string]int, len(g.Languages))
	for lang, num := range g.Languages {
		c.Languages[lang] = num
	}
	return &c
}

func (g *GroupStats) add(user data.User) {
	switch AgeBracket(user.Birthyear) {
	case AgeBracketYoung:
		g.NumYoung++
	case AgeBracketMiddle:
		g.NumMiddle++
	default:
		g.NumOld++
	}
	if user.Gender == GenderMale {
		g.NumMale++
	} else {
		g.NumFemale++
	}
	for _, lang := range user.Languages {
		g.Languages[lang]++
	}
}

// Balancer assigns participants to the evaluation group that minimizes the
// worst-case disparity across all group pairs on the configured composition
// dimensions. The assignment is greedy and order-dependent: callers must
// serialize concurrent enrollments of the same evaluation.
type Balancer struct {
	composition mapset.Set[string]
	groups      []*GroupStats
}

func NewBalancer(composition []string, groups []*GroupStats) *Balancer {
	for _, group := range groups {
		if group.Languages == nil {
			group.Languages = make(map[string]int)
		}
	}
	return &Balancer{
		composition: mapset.NewSet(composition...),
		groups:      groups,
	}
}

// MatchUserToGroup returns the 1-based index of the best group for the user
// without updating any counters.
func (b *Balancer) MatchUserToGroup(user data.User) (int, error) {
	if len(b.groups) == 0 {
		return 0, errors.Errorf("no groups to balance user %v into", user.Name)
	}
	best, bestDisparity := 0, 0
	for i := range b.groups {
		disparity := b.worstCaseDisparity(i, user)
		if i == 0 || disparity < bestDisparity {
			best, bestDisparity = i, disparity
		}
	}
	return best + 1, nil
}

// MatchUsersToGroups assigns users in input order, permanently updating the
// chosen group's counters before processing the next user.
func (b *Balancer) MatchUsersToGroups(users []data.User) (map[string]int, error) {
	matched := make(map[string]int, len(users))
	for _, user := range users {
		groupIndex, err := b.MatchUserToGroup(user)
		if err != nil {
			return nil, errors.Trace(err)
		}
		b.groups[groupIndex-1].add(user)
		matched[user.Name] = groupIndex
		log.Logger().Info("matched user to group",
			zap.String("user", user.Name), zap.Int("group", groupIndex))
	}
	return matched, nil
}

// worstCaseDisparity simulates adding the user to the candidate group and
// returns the maximum summed absolute difference to every other group over
// the active dimensions.
func (b *Balancer) worstCaseDisparity(candidate int, user data.User) int {
	simulated := b.groups[candidate].clone()
	if b.composition.Contains("age") {
		switch AgeBracket(user.Birthyear) {
		case AgeBracketYoung:
			simulated.NumYoung++
		case AgeBracketMiddle:
			simulated.NumMiddle++
		default:
			simulated.NumOld++
		}
	}
	if b.composition.Contains("gender") {
		if user.Gender == GenderMale {
			simulated.NumMale++
		} else {
			simulated.NumFemale++
		}
	}
	if b.composition.Contains("lang") {
		for _, lang := range user.Languages {
			simulated.Languages[lang]++
		}
	}

	maxDiff := 0
	for i, other := range b.groups {
		if i == candidate {
			continue
		}
		diff := 0
		if b.composition.Contains("age") {
			diff += abs(simulated.NumYoung-other.NumYoung) +
				abs(simulated.NumMiddle-other.NumMiddle) +
				abs(simulated.NumOld-other.NumOld)
		}
		if b.composition.Contains("gender") {
			diff += abs(simulated.NumMale-other.NumMale) +
				abs(simulated.NumFemale-other.NumFemale)
		}
		if b.composition.Contains("lang") {
			for lang, num := range simulated.Languages {
				diff += abs(num - other.Languages[lang])
			}
		}
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	return maxDiff
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// LoadGroupStats rebuilds the aggregate counters of every group of an
// evaluation from its enrolled participants.
func LoadGroupStats(ctx context.Context, db data.Database, evaluation data.Evaluation) ([]*GroupStats, error) {
	groups := make([]*GroupStats, evaluation.NumGroups)
	for i := range groups {
		groups[i] = &GroupStats{Languages: make(map[string]int)}
	}
	participants, err := db.GetParticipants(ctx, evaluation.Id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, participant := range participants {
		if participant.GroupIndex < 1 || participant.GroupIndex > len(groups) {
			return nil, errors.Errorf("participant %v enrolled in unknown group %d",
				participant.User, participant.GroupIndex)
		}
		user, err := db.GetUser(ctx, participant.User)
		if err != nil {
			return nil, errors.Trace(err)
		}
		groups[participant.GroupIndex-1].add(user)
	}
	return groups, nil
}

// EnrollParticipant matches a user into a group of the evaluation and persists
// the membership. Counters are rebuilt from the store per call, so concurrent
// enrollments of the same evaluation must be serialized by the caller.
func EnrollParticipant(ctx context.Context, db data.Database, composition []string, evaluation data.Evaluation, userName string) (int, error) {
	user, err := db.GetUser(ctx, userName)
	if err != nil {
		return 0, errors.Trace(err)
	}
	groups, err := LoadGroupStats(ctx, db, evaluation)
	if err != nil {
		return 0, errors.Trace(err)
	}
	balancer := NewBalancer(composition, groups)
	groupIndex, err := balancer.MatchUserToGroup(user)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if err = db.AddParticipant(ctx, data.Participant{
		EvalId:     evaluation.Id,
		User:       userName,
		GroupIndex: groupIndex,
	}); err != nil {
		return 0, errors.Trace(err)
	}
	return groupIndex, nil
}
