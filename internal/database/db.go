package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/reward"
	_ "github.com/codeclash-dev/codeclash/internal/util/gormutil"
	"github.com/codeclash-dev/codeclash/internal/util/maybe"
	"github.com/codeclash-dev/codeclash/internal/util/sliceutil"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

type Options struct {
	Path          string        `toml:"path"`
	Debug         bool          `toml:"debug"`
	SlowThreshold time.Duration `toml:"slow-threshold"`
	BusyTimeout   time.Duration `toml:"busy-timeout"`
	UseWAL        bool          `toml:"use-wal"`
}

func (o *Options) FillDefaults() {
	if o.SlowThreshold == 0 {
		o.SlowThreshold = 200 * time.Millisecond
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = 1 * time.Minute
	}
}

type DB struct {
	db  *gorm.DB
	log *slog.Logger
}

var (
	_ duel.DB               = (*DB)(nil)
	_ duel.Users            = (*DB)(nil)
	_ reward.Store          = (*DB)(nil)
	_ problem.FallbackStore = (*DB)(nil)
)

func (d *DB) Close() {
	db, err := d.db.DB()
	if err != nil {
		d.log.Error("could not get underlying db", slogx.Err(err))
	}
	err = db.Close()
	if err != nil {
		d.log.Error("could not close db", slogx.Err(err))
	}
}

func buildPath(o Options) string {
	var params []string
	if o.UseWAL {
		params = append(params, "_journal_mode=WAL")
		params = append(params, "_synchronous=NORMAL")
	}
	params = append(params, fmt.Sprintf("_busy_timeout=%v", o.BusyTimeout.Milliseconds()))
	params = append(params, "_foreign_keys=1")
	paramStr := strings.Join(params, "&")
	if paramStr == "" {
		return o.Path
	}
	return o.Path + "?" + paramStr
}

func New(log *slog.Logger, o Options) (*DB, error) {
	o.FillDefaults()

	log.Info("opening db")
	db, err := gorm.Open(sqlite.Open(buildPath(o)), &gorm.Config{
		Logger: Logger(log, o),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &DB{db: db, log: log}

	log.Info("migrating db")
	if err := db.AutoMigrate(models...); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	log.Info("db opened")
	return d, nil
}

func matchToRow(m *duel.Match) *Match {
	row := &Match{
		ID:        m.ID,
		Name:      m.Name,
		Player1ID: m.Players[0].Ref.UserID,
		Player2ID: m.Players[1].Ref.UserID,
		Status:    string(m.Status),
		Stake:     m.Stake,
		Language:  m.Language,
		WinReason: m.WinReason,

		Player1Disqualified: m.Players[0].Disqualified,
		Player2Disqualified: m.Players[1].Disqualified,
		Player1Submissions:  m.Players[0].Submissions,
		Player2Submissions:  m.Players[1].Submissions,
		Problem:             m.Problem,
	}
	if w, ok := m.WinnerID.TryGet(); ok {
		row.WinnerID = &w
	}
	if r, ok := m.Players[0].BestRuntime.TryGet(); ok {
		row.Player1BestRuntime = &r
	}
	if r, ok := m.Players[1].BestRuntime.TryGet(); ok {
		row.Player2BestRuntime = &r
	}
	if t, ok := m.StartedAt.TryGet(); ok {
		row.StartedAt = &t
	}
	if t, ok := m.EndedAt.TryGet(); ok {
		row.EndedAt = &t
	}
	return row
}

func rowToMatch(row *Match) *duel.Match {
	m := &duel.Match{
		ID:        row.ID,
		Name:      row.Name,
		Status:    duel.Status(row.Status),
		Stake:     row.Stake,
		Language:  row.Language,
		WinReason: row.WinReason,
		Problem:   row.Problem,
	}
	m.Players[0] = duel.Player{
		Ref:          duel.UserRef{UserID: row.Player1ID},
		Submissions:  row.Player1Submissions,
		Disqualified: row.Player1Disqualified,
	}
	m.Players[1] = duel.Player{
		Ref:          duel.UserRef{UserID: row.Player2ID},
		Submissions:  row.Player2Submissions,
		Disqualified: row.Player2Disqualified,
	}
	if row.WinnerID != nil {
		m.WinnerID = maybe.Some(*row.WinnerID)
	}
	if row.Player1BestRuntime != nil {
		m.Players[0].BestRuntime = maybe.Some(*row.Player1BestRuntime)
	}
	if row.Player2BestRuntime != nil {
		m.Players[1].BestRuntime = maybe.Some(*row.Player2BestRuntime)
	}
	if row.StartedAt != nil {
		m.StartedAt = maybe.Some(*row.StartedAt)
	}
	if row.EndedAt != nil {
		m.EndedAt = maybe.Some(*row.EndedAt)
	}
	return m
}

func (d *DB) CreateMatch(ctx context.Context, m *duel.Match) error {
	err := d.db.WithContext(ctx).Create(matchToRow(m)).Error
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (d *DB) UpdateMatch(ctx context.Context, m *duel.Match) error {
	err := d.db.WithContext(ctx).Save(matchToRow(m)).Error
	if err != nil {
		return fmt.Errorf("update match: %w", err)
	}
	return nil
}

func (d *DB) GetMatch(ctx context.Context, matchID string) (*duel.Match, error) {
	var rows []Match
	err := d.db.WithContext(ctx).Where("id = ?", matchID).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	if len(rows) == 0 {
		return nil, duel.ErrMatchNotFound
	}
	return rowToMatch(&rows[0]), nil
}

func (d *DB) ListUserMatches(ctx context.Context, userID string, limit int) ([]*duel.Match, error) {
	var rows []Match
	err := d.db.WithContext(ctx).
		Where("player1_id = ? OR player2_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list user matches: %w", err)
	}
	return sliceutil.Map(rows, func(r Match) *duel.Match { return rowToMatch(&r) }), nil
}

func (d *DB) CreateUser(ctx context.Context, user reward.User) error {
	err := d.db.WithContext(ctx).Create(&user).Error
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (d *DB) GetUser(ctx context.Context, userID string) (reward.User, error) {
	var users []reward.User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&users).Error
	if err != nil {
		return reward.User{}, fmt.Errorf("get user: %w", err)
	}
	if len(users) == 0 {
		return reward.User{}, reward.ErrUserNotFound
	}
	return users[0], nil
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (reward.User, error) {
	var users []reward.User
	err := d.db.WithContext(ctx).Where("username = ?", username).Limit(1).Find(&users).Error
	if err != nil {
		return reward.User{}, fmt.Errorf("get user: %w", err)
	}
	if len(users) == 0 {
		return reward.User{}, reward.ErrUserNotFound
	}
	return users[0], nil
}

// ApplyMatchOutcome settles one match in a single transaction. The reward
// rows are created first; if they already exist the whole settlement has
// happened before and nothing is touched.
func (d *DB) ApplyMatchOutcome(ctx context.Context, out reward.Outcome) (bool, error) {
	applied := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var marks []MatchReward
		err := tx.Where("match_id = ?", out.MatchID).Limit(1).Find(&marks).Error
		if err != nil {
			return fmt.Errorf("check reward marks: %w", err)
		}
		if len(marks) != 0 {
			return nil
		}

		winnerMark := MatchReward{
			MatchID:               out.MatchID,
			UserID:                out.WinnerID,
			Won:                   true,
			TrophyDelta:           out.WinAmount,
			BestRuntime:           out.WinnerStats.BestRuntime,
			FirstSubmissionPassed: out.WinnerStats.FirstSubmissionPassed,
			EndedAt:               out.WinnerStats.EndedAt,
		}
		loserMark := MatchReward{
			MatchID:               out.MatchID,
			UserID:                out.LoserID,
			Won:                   false,
			TrophyDelta:           -out.LossAmount,
			BestRuntime:           out.LoserStats.BestRuntime,
			FirstSubmissionPassed: out.LoserStats.FirstSubmissionPassed,
			EndedAt:               out.LoserStats.EndedAt,
		}
		if err := tx.Create(&winnerMark).Error; err != nil {
			return fmt.Errorf("create winner reward: %w", err)
		}
		if err := tx.Create(&loserMark).Error; err != nil {
			return fmt.Errorf("create loser reward: %w", err)
		}

		var winner reward.User
		if err := tx.Where("id = ?", out.WinnerID).First(&winner).Error; err != nil {
			return fmt.Errorf("find winner: %w", err)
		}
		winner.Trophies += out.WinAmount
		winner.Wins++
		winner.TotalGames++
		if err := tx.Save(&winner).Error; err != nil {
			return fmt.Errorf("update winner: %w", err)
		}

		var loser reward.User
		if err := tx.Where("id = ?", out.LoserID).First(&loser).Error; err != nil {
			return fmt.Errorf("find loser: %w", err)
		}
		loser.Trophies -= out.LossAmount
		if loser.Trophies < 0 {
			loser.Trophies = 0
		}
		loser.Losses++
		loser.TotalGames++
		if err := tx.Save(&loser).Error; err != nil {
			return fmt.Errorf("update loser: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (d *DB) MatchHistory(ctx context.Context, userID string, limit int) ([]reward.MatchStats, error) {
	var marks []MatchReward
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ended_at DESC").
		Limit(limit).
		Find(&marks).Error
	if err != nil {
		return nil, fmt.Errorf("match history: %w", err)
	}
	return sliceutil.Map(marks, func(m MatchReward) reward.MatchStats {
		return reward.MatchStats{
			MatchID:               m.MatchID,
			Won:                   m.Won,
			BestRuntime:           m.BestRuntime,
			FirstSubmissionPassed: m.FirstSubmissionPassed,
			EndedAt:               m.EndedAt,
		}
	}), nil
}

func (d *DB) GrantBadges(ctx context.Context, userID string, badgeIDs []string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user reward.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return fmt.Errorf("find user: %w", err)
		}
		changed := false
		for _, id := range badgeIDs {
			if !user.HasBadge(id) {
				user.Badges = append(user.Badges, id)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("update user badges: %w", err)
		}
		return nil
	})
}

func (d *DB) SaveProblem(ctx context.Context, p *problem.Problem) error {
	row := &StoredProblem{
		ID:         p.ID,
		Difficulty: p.Difficulty,
		Language:   p.Language,
		Data:       p.Clone(),
		CreatedAt:  timeutil.NowUTC(),
	}
	err := d.db.WithContext(ctx).Save(row).Error
	if err != nil {
		return fmt.Errorf("save problem: %w", err)
	}
	return nil
}

func (d *DB) PickProblem(ctx context.Context, difficulty, language string) (*problem.Problem, error) {
	var rows []StoredProblem
	err := d.db.WithContext(ctx).
		Where("difficulty = ? AND language = ?", difficulty, language).
		Order("RANDOM()").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pick problem: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no stored problem for %v/%v", difficulty, language)
	}
	p := rows[0].Data.Clone()
	return &p, nil
}
