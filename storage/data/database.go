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
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/muse-io/muse/storage"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrUserNotExist = errors.NotFoundf("user")
	ErrItemNotExist = errors.NotFoundf("item")
	ErrNoEvaluation = errors.NotFoundf("evaluation")
)

// Rating levels. Zero marks a recommendation the user has seen but not rated;
// such rows still count as rated when filtering candidates but are excluded
// from similarity math.
const (
	RatingLoved    = 2
	RatingLiked    = 1
	RatingSeen     = 0
	RatingDisliked = -1
)

// Item stores meta data about a recommendable track.
type Item struct {
	ItemId int    `gorm:"column:item_id;primaryKey;autoIncrement"`
	Artist string `gorm:"column:artist"`
	Title  string `gorm:"column:title"`
	// tag name to occurrence weight, attached lazily
	Tags map[string]float64 `gorm:"column:tags;serializer:json"`
}

// NaturalKey returns the lowercase-trimmed (artist, title) pair used to
// deduplicate items observed from external data sources.
func (item Item) NaturalKey() string {
	return strings.ToLower(strings.TrimSpace(item.Artist)) + "\n" + strings.ToLower(strings.TrimSpace(item.Title))
}

// User stores meta data about a user, as needed by evaluation group balancing.
type User struct {
	Name      string   `gorm:"column:name;primaryKey"`
	Birthyear int      `gorm:"column:birthyear"`
	Gender    string   `gorm:"column:gender"`
	Languages []string `gorm:"column:languages;serializer:json"`
}

// ItemSimilarity is a symmetric content similarity edge between two items.
// Edges are stored once per unordered pair with no self pairs.
type ItemSimilarity struct {
	ItemA      int     `gorm:"column:item_a;primaryKey"`
	ItemB      int     `gorm:"column:item_b;primaryKey"`
	Similarity float64 `gorm:"column:similarity"`
}

// UserSimilarity is a symmetric collaborative similarity edge between two
// users. Only positive similarities are stored.
type UserSimilarity struct {
	UserA      string  `gorm:"column:user_a;primaryKey"`
	UserB      string  `gorm:"column:user_b;primaryKey"`
	Similarity float64 `gorm:"column:similarity"`
}

// Neighbor is one end of a similarity edge, unfolded for a query subject.
type Neighbor[T any] struct {
	Id         T
	Similarity float64
}

// Rating is one entry of a user's rating history.
type Rating struct {
	ItemId int
	Value  float64
}

// SortRatings sorts ratings from highest to lowest value. Candidate
// generation must not rely on the store returning rows pre-sorted.
func SortRatings(ratings []Rating) {
	sort.SliceStable(ratings, func(i, j int) bool {
		return ratings[i].Value > ratings[j].Value
	})
}

// Candidate is a precomputed scored (user, item) pair awaiting composition.
type Candidate struct {
	User        string  `gorm:"column:consumer;primaryKey"`
	ItemId      int     `gorm:"column:item_id;primaryKey"`
	StrategyId  int     `gorm:"column:strategy_id;primaryKey"`
	Score       float64 `gorm:"column:score"`
	Explanation string  `gorm:"column:explanation"`
}

// Recommendation is a user-visible entry of a composed list. The rating
// column starts at the seen sentinel and is mutated exactly once when the
// user rates the entry. Lists are superseded, never deleted.
type Recommendation struct {
	Id          int       `gorm:"column:id;primaryKey;autoIncrement"`
	User        string    `gorm:"column:consumer;index"`
	ItemId      int       `gorm:"column:item_id"`
	StrategyId  int       `gorm:"column:strategy_id"`
	Score       float64   `gorm:"column:score"`
	Explanation string    `gorm:"column:explanation"`
	List        int       `gorm:"column:list"`
	EvalId      int       `gorm:"column:eval_id"`
	Rating      float64   `gorm:"column:rating"`
	Rated       bool      `gorm:"column:rated"`
	Timestamp   time.Time `gorm:"column:time_stamp"`
}

// ListRating is a historical rating scoped to the list it was given on, used
// by the dynamic composition policy.
type ListRating struct {
	List   int
	Rating float64
}

// Evaluation is a bounded experiment window.
type Evaluation struct {
	Id        int       `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name"`
	Running   bool      `gorm:"column:running"`
	NumGroups int       `gorm:"column:num_groups"`
	Start     time.Time `gorm:"column:start"`
	End       time.Time `gorm:"column:end"`
}

// Participant assigns a user to a group of an evaluation.
type Participant struct {
	EvalId     int    `gorm:"column:eval_id;primaryKey"`
	User       string `gorm:"column:consumer;primaryKey"`
	GroupIndex int    `gorm:"column:group_index"`
}

type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	// items
	BatchInsertItems(ctx context.Context, items []Item) error
	GetItem(ctx context.Context, itemId int) (Item, error)
	GetItems(ctx context.Context) ([]Item, error)
	GetItemsMissingSimilarities(ctx context.Context) ([]Item, error)
	UpdateItemTags(ctx context.Context, itemId int, tags map[string]float64) error
	// users
	BatchInsertUsers(ctx context.Context, users []User) error
	GetUser(ctx context.Context, name string) (User, error)
	GetUserNames(ctx context.Context) ([]string, error)
	// similarity edges
	BatchInsertItemSimilarities(ctx context.Context, similarities []ItemSimilarity) error
	GetItemNeighbors(ctx context.Context, itemId, n int) ([]Neighbor[int], error)
	ClearUserSimilarities(ctx context.Context, user string) error
	BatchInsertUserSimilarities(ctx context.Context, similarities []UserSimilarity) error
	GetUserNeighbors(ctx context.Context, user string, n int) ([]Neighbor[string], error)
	// rating history, scoped to an evaluation context (0 = baseline)
	GetUserRatings(ctx context.Context, user string, evalId int) ([]Rating, error)
	// candidates
	ClearCandidates(ctx context.Context, user string, strategyId int) error
	BatchInsertCandidates(ctx context.Context, candidates []Candidate) error
	GetCandidates(ctx context.Context, user string, strategyId, n int) ([]Candidate, error)
	// recommendation lists
	InsertRecommendationList(ctx context.Context, user string, evalId int, recommendations []Recommendation) error
	GetRecommendationList(ctx context.Context, user string) ([]Recommendation, error)
	GetStrategyRatings(ctx context.Context, user string, strategyId int) ([]ListRating, error)
	PutRating(ctx context.Context, recommendationId int, value float64) error
	// evaluations
	InsertEvaluation(ctx context.Context, evaluation *Evaluation) error
	EvalForParticipant(ctx context.Context, user string) (int, error)
	GetParticipants(ctx context.Context, evalId int) ([]Participant, error)
	AddParticipant(ctx context.Context, participant Participant) error
}

// Open a connection to a database.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters, in-memory databases take none
		if path[len(storage.SQLitePrefix):] != ":memory:" {
			if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
				{A: "_pragma", B: "busy_timeout(10000)"},
				{A: "_pragma", B: "journal_mode(wal)"},
			}); err != nil {
				return nil, errors.Trace(err)
			}
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		database.gormDB, err = gorm.Open(sqlite.Open(name), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		database.gormDB, err = gorm.Open(postgres.Open(path), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		database.gormDB, err = gorm.Open(mysql.Open(name), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}
