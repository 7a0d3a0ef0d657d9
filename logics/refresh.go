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
	"github.com/muse-io/muse/base/log"
	"github.com/muse-io/muse/base/parallel"
	"github.com/muse-io/muse/config"
	"github.com/muse-io/muse/storage/data"
	"go.uber.org/zap"
)

// Refresher runs the periodic batch jobs: item similarities once, then user
// similarities and both candidate tables for every user. A failed user is
// logged and skipped, the batch moves on.
type Refresher struct {
	db            data.Database
	cfg           *config.Config
	content       *ContentBased
	collaborative *Collaborative
}

func NewRefresher(db data.Database, cfg *config.Config) *Refresher {
	return &Refresher{
		db:            db,
		cfg:           cfg,
		content:       NewContentBased(db, cfg.Recommend.FlushSize),
		collaborative: NewCollaborative(db, cfg.Recommend.FlushSize, cfg.Recommend.CandidateCap),
	}
}

// Registry returns the active strategies backed by this refresher's store.
func (r *Refresher) Registry() *Registry {
	return NewRegistry(r.content, r.collaborative, NewHybrid(r.content, r.collaborative))
}

func (r *Refresher) Refresh(ctx context.Context) error {
	if err := r.content.RefreshItemSimilarities(ctx); err != nil {
		return errors.Trace(err)
	}
	names, err := r.db.GetUserNames(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	// a failed user is logged and skipped, only cancellation stops the batch
	chunks := parallel.Split(names, r.cfg.Recommend.NumJobs)
	err = parallel.Parallel(ctx, len(chunks), r.cfg.Recommend.NumJobs, func(_, chunkId int) error {
		for _, user := range chunks[chunkId] {
			if err := ctx.Err(); err != nil {
				return errors.Trace(err)
			}
			r.refreshUser(ctx, user)
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	log.Logger().Info("refresh finished", zap.Int("n_users", len(names)))
	return nil
}

func (r *Refresher) refreshUser(ctx context.Context, user string) {
	neighborhoodSize := r.cfg.Recommend.NeighborhoodSize
	if err := r.collaborative.RefreshUserSimilarities(ctx, user); err != nil {
		log.Logger().Warn("failed to refresh user similarities",
			zap.String("user", user), zap.Error(err))
		return
	}
	if err := r.collaborative.RefreshUserItemMatrix(ctx, user, neighborhoodSize); err != nil {
		log.Logger().Warn("failed to refresh collaborative candidates",
			zap.String("user", user), zap.Error(err))
		return
	}
	if err := r.content.RefreshUserItemMatrix(ctx, user, neighborhoodSize); err != nil {
		log.Logger().Warn("failed to refresh content based candidates",
			zap.String("user", user), zap.Error(err))
	}
}
