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
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/muse-io/muse/storage"
	"gorm.io/gorm"
)

type SQLDriver int

const (
	SQLite SQLDriver = iota
	Postgres
	MySQL
)

// SQLDatabase stores items, ratings, similarities and candidates in a SQL
// database accessed through GORM.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	err := d.gormDB.AutoMigrate(&Item{}, &User{}, &ItemSimilarity{}, &UserSimilarity{},
		&Candidate{}, &Recommendation{}, &Evaluation{}, &Participant{})
	return errors.Trace(err)
}

func (d *SQLDatabase) Ping() error {
	db, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.Ping())
}

func (d *SQLDatabase) Close() error {
	db, err := d.gormDB.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(db.Close())
}

// Purge removes all rows from all tables.
func (d *SQLDatabase) Purge() error {
	for _, model := range []any{&Item{}, &User{}, &ItemSimilarity{}, &UserSimilarity{},
		&Candidate{}, &Recommendation{}, &Evaluation{}, &Participant{}} {
		if err := d.gormDB.Where("1 = 1").Delete(model).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items observed from an external data source. Items
// whose lowercase-trimmed (artist, title) pair already exists are skipped.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	existing, err := d.GetItems(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	seen := mapset.NewSet[string]()
	for _, item := range existing {
		seen.Add(item.NaturalKey())
	}
	rows := make([]Item, 0, len(items))
	for _, item := range items {
		if seen.Contains(item.NaturalKey()) {
			continue
		}
		seen.Add(item.NaturalKey())
		item.ItemId = 0 // identity assigned on first persistence
		rows = append(rows, item)
	}
	if len(rows) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&rows).Error)
}

func (d *SQLDatabase) GetItem(ctx context.Context, itemId int) (Item, error) {
	var item Item
	err := d.gormDB.WithContext(ctx).First(&item, "item_id = ?", itemId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Item{}, errors.Annotatef(ErrItemNotExist, "%d", itemId)
		}
		return Item{}, errors.Trace(err)
	}
	return item, nil
}

func (d *SQLDatabase) GetItems(ctx context.Context) ([]Item, error) {
	var items []Item
	err := d.gormDB.WithContext(ctx).Order("item_id").Find(&items).Error
	return items, errors.Trace(err)
}

// GetItemsMissingSimilarities returns items without any stored similarity
// edge on either end.
func (d *SQLDatabase) GetItemsMissingSimilarities(ctx context.Context) ([]Item, error) {
	var items []Item
	err := d.gormDB.WithContext(ctx).
		Where("item_id NOT IN (?)", d.gormDB.Model(&ItemSimilarity{}).Select("item_a")).
		Where("item_id NOT IN (?)", d.gormDB.Model(&ItemSimilarity{}).Select("item_b")).
		Order("item_id").
		Find(&items).Error
	return items, errors.Trace(err)
}

func (d *SQLDatabase) UpdateItemTags(ctx context.Context, itemId int, tags map[string]float64) error {
	result := d.gormDB.WithContext(ctx).Model(&Item{}).Where("item_id = ?", itemId).Update("tags", tags)
	if result.Error != nil {
		return errors.Trace(result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.Annotatef(ErrItemNotExist, "%d", itemId)
	}
	return nil
}

func (d *SQLDatabase) BatchInsertUsers(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Save(&users).Error)
}

func (d *SQLDatabase) GetUser(ctx context.Context, name string) (User, error) {
	var user User
	err := d.gormDB.WithContext(ctx).First(&user, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, errors.Annotate(ErrUserNotExist, name)
		}
		return User{}, errors.Trace(err)
	}
	return user, nil
}

func (d *SQLDatabase) GetUserNames(ctx context.Context) ([]string, error) {
	var names []string
	err := d.gormDB.WithContext(ctx).Model(&User{}).Order("name").Pluck("name", &names).Error
	return names, errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertItemSimilarities(ctx context.Context, similarities []ItemSimilarity) error {
	if len(similarities) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Save(&similarities).Error)
}

// GetItemNeighbors returns the n most similar items of an item, looking at
// both ends of the stored unordered pairs.
func (d *SQLDatabase) GetItemNeighbors(ctx context.Context, itemId, n int) ([]Neighbor[int], error) {
	var edges []ItemSimilarity
	err := d.gormDB.WithContext(ctx).
		Where("item_a = ? OR item_b = ?", itemId, itemId).
		Order("similarity DESC").
		Limit(n).
		Find(&edges).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	neighbors := make([]Neighbor[int], 0, len(edges))
	for _, edge := range edges {
		id := edge.ItemA
		if id == itemId {
			id = edge.ItemB
		}
		neighbors = append(neighbors, Neighbor[int]{Id: id, Similarity: edge.Similarity})
	}
	return neighbors, nil
}

func (d *SQLDatabase) ClearUserSimilarities(ctx context.Context, user string) error {
	err := d.gormDB.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", user, user).
		Delete(&UserSimilarity{}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertUserSimilarities(ctx context.Context, similarities []UserSimilarity) error {
	if len(similarities) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Save(&similarities).Error)
}

func (d *SQLDatabase) GetUserNeighbors(ctx context.Context, user string, n int) ([]Neighbor[string], error) {
	var edges []UserSimilarity
	err := d.gormDB.WithContext(ctx).
		Where("user_a = ? OR user_b = ?", user, user).
		Order("similarity DESC").
		Limit(n).
		Find(&edges).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	neighbors := make([]Neighbor[string], 0, len(edges))
	for _, edge := range edges {
		name := edge.UserA
		if name == user {
			name = edge.UserB
		}
		neighbors = append(neighbors, Neighbor[string]{Id: name, Similarity: edge.Similarity})
	}
	return neighbors, nil
}

// GetUserRatings returns the rating history of a user including seen
// sentinels. A non-zero evalId scopes the history to ratings given inside
// that evaluation.
func (d *SQLDatabase) GetUserRatings(ctx context.Context, user string, evalId int) ([]Rating, error) {
	tx := d.gormDB.WithContext(ctx).Model(&Recommendation{}).Where("consumer = ?", user)
	if evalId != 0 {
		tx = tx.Where("eval_id = ?", evalId)
	}
	var rows []Recommendation
	if err := tx.Order("rating DESC").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]Rating, 0, len(rows))
	seen := mapset.NewSet[int]()
	for _, row := range rows {
		// one live rating per (user, item) per context, highest wins
		if seen.Contains(row.ItemId) {
			continue
		}
		seen.Add(row.ItemId)
		ratings = append(ratings, Rating{ItemId: row.ItemId, Value: row.Rating})
	}
	return ratings, nil
}

func (d *SQLDatabase) ClearCandidates(ctx context.Context, user string, strategyId int) error {
	err := d.gormDB.WithContext(ctx).
		Where("consumer = ? AND strategy_id = ?", user, strategyId).
		Delete(&Candidate{}).Error
	return errors.Trace(err)
}

func (d *SQLDatabase) BatchInsertCandidates(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Save(&candidates).Error)
}

// GetCandidates returns the n highest scored candidates of a strategy for a
// user, skipping items already recommended to the user.
func (d *SQLDatabase) GetCandidates(ctx context.Context, user string, strategyId, n int) ([]Candidate, error) {
	var candidates []Candidate
	err := d.gormDB.WithContext(ctx).
		Where("consumer = ? AND strategy_id = ?", user, strategyId).
		Where("item_id NOT IN (?)", d.gormDB.Model(&Recommendation{}).Select("item_id").Where("consumer = ?", user)).
		Order("score DESC").
		Limit(n).
		Find(&candidates).Error
	return candidates, errors.Trace(err)
}

// InsertRecommendationList persists a composed list under the next list
// index of the user. Earlier lists are superseded, never deleted.
func (d *SQLDatabase) InsertRecommendationList(ctx context.Context, user string, evalId int, recommendations []Recommendation) error {
	if len(recommendations) == 0 {
		return nil
	}
	var lastList int
	err := d.gormDB.WithContext(ctx).Model(&Recommendation{}).
		Where("consumer = ?", user).
		Select("COALESCE(MAX(list), 0)").
		Scan(&lastList).Error
	if err != nil {
		return errors.Trace(err)
	}
	timestamp := time.Now()
	for i := range recommendations {
		recommendations[i].Id = 0
		recommendations[i].User = user
		recommendations[i].EvalId = evalId
		recommendations[i].List = lastList + 1
		recommendations[i].Rating = RatingSeen
		recommendations[i].Rated = false
		recommendations[i].Timestamp = timestamp
	}
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&recommendations).Error)
}

// GetRecommendationList returns the most recent composed list of the user,
// highest score first. The returned rows carry the identifiers needed to
// rate them later.
func (d *SQLDatabase) GetRecommendationList(ctx context.Context, user string) ([]Recommendation, error) {
	var lastList int
	err := d.gormDB.WithContext(ctx).Model(&Recommendation{}).
		Where("consumer = ?", user).
		Select("COALESCE(MAX(list), 0)").
		Scan(&lastList).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	if lastList == 0 {
		return nil, nil
	}
	var rows []Recommendation
	err = d.gormDB.WithContext(ctx).
		Where("consumer = ? AND list = ?", user, lastList).
		Order("score DESC").
		Find(&rows).Error
	return rows, errors.Trace(err)
}

// GetStrategyRatings returns the historical list-scoped ratings a user gave
// to recommendations of a strategy, most recent list first.
func (d *SQLDatabase) GetStrategyRatings(ctx context.Context, user string, strategyId int) ([]ListRating, error) {
	var rows []Recommendation
	err := d.gormDB.WithContext(ctx).
		Where("consumer = ? AND strategy_id = ?", user, strategyId).
		Order("list DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings := make([]ListRating, 0, len(rows))
	for _, row := range rows {
		ratings = append(ratings, ListRating{List: row.List, Rating: row.Rating})
	}
	return ratings, nil
}

// PutRating mutates a recommendation's rating exactly once.
func (d *SQLDatabase) PutRating(ctx context.Context, recommendationId int, value float64) error {
	result := d.gormDB.WithContext(ctx).Model(&Recommendation{}).
		Where("id = ? AND rated = ?", recommendationId, false).
		Updates(map[string]any{"rating": value, "rated": true})
	if result.Error != nil {
		return errors.Trace(result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := d.gormDB.WithContext(ctx).Model(&Recommendation{}).
			Where("id = ?", recommendationId).Count(&count).Error; err != nil {
			return errors.Trace(err)
		}
		if count == 0 {
			return errors.NotFoundf("recommendation %d", recommendationId)
		}
		return errors.AlreadyExistsf("rating for recommendation %d", recommendationId)
	}
	return nil
}

func (d *SQLDatabase) InsertEvaluation(ctx context.Context, evaluation *Evaluation) error {
	return errors.Trace(d.gormDB.WithContext(ctx).Create(evaluation).Error)
}

// EvalForParticipant returns the id of the running evaluation the user takes
// part in, or 0 if the user is outside any running evaluation.
func (d *SQLDatabase) EvalForParticipant(ctx context.Context, user string) (int, error) {
	var participants []Participant
	err := d.gormDB.WithContext(ctx).
		Where("consumer = ?", user).
		Where("eval_id IN (?)", d.gormDB.Model(&Evaluation{}).Select("id").Where("running = ?", true)).
		Limit(1).
		Find(&participants).Error
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(participants) == 0 {
		return 0, nil
	}
	return participants[0].EvalId, nil
}

func (d *SQLDatabase) GetParticipants(ctx context.Context, evalId int) ([]Participant, error) {
	var participants []Participant
	err := d.gormDB.WithContext(ctx).
		Where("eval_id = ?", evalId).
		Order("consumer").
		Find(&participants).Error
	return participants, errors.Trace(err)
}

func (d *SQLDatabase) AddParticipant(ctx context.Context, participant Participant) error {
	return errors.Trace(d.gormDB.WithContext(ctx).Create(&participant).Error)
}
