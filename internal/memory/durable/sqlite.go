package durable

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/compress"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements Store using SQLite with an embedded schema
// covering the episodic/pattern/relationship/tag/embedding domain this
// engine owns.
type SQLiteStore struct {
	db       *sql.DB
	stmts    *stmtCache
	pool     *poolManager
	breaker  *breakerSet
	compress *compress.Registry
	cfg      memory.StorageConfig
}

type breakerSet struct {
	write *breakerHandle
	read  *breakerHandle
}

// Open creates (or reopens) a SQLite-backed durable store at path, applying
// a pragma block for WAL concurrency and a busy timeout, then the embedded
// schema.
func Open(path string, cfg memory.StorageConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	reg, err := compress.NewRegistry()
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:       db,
		stmts:    newStmtCache(db),
		pool:     startPoolManager(db, cfg),
		breaker:  &breakerSet{write: newBreaker("durable-write"), read: newBreaker("durable-read")},
		compress: reg,
		cfg:      cfg,
	}
	return s, nil
}

// Close stops the background pool manager, closes cached prepared
// statements, and closes the database handle.
func (s *SQLiteStore) Close() error {
	s.pool.stop()
	_ = s.stmts.closeAll()
	return s.db.Close()
}

// ---- episodes ----

func (s *SQLiteStore) SaveEpisode(ctx context.Context, ep *memory.Episode) error {
	return s.breaker.write.run(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin tx: %v", memerrors.ErrStorage, err)
		}
		defer tx.Rollback()

		if err := s.upsertEpisodeTx(ctx, tx, ep); err != nil {
			return err
		}
		if err := s.replaceStepsTx(ctx, tx, ep.ID, ep.Steps); err != nil {
			return err
		}
		if err := s.syncTagsTx(ctx, tx, ep.ID, ep.Tags); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", memerrors.ErrStorage, err)
		}
		return nil
	})
}

func (s *SQLiteStore) upsertEpisodeTx(ctx context.Context, tx *sql.Tx, ep *memory.Episode) error {
	outcomeJSON, err := marshalOptional(ep.Outcome)
	if err != nil {
		return err
	}
	salientJSON, err := marshalOptional(ep.Salient)
	if err != nil {
		return err
	}
	metaJSON, err := marshalOptional(nonEmptyMap(ep.Metadata))
	if err != nil {
		return err
	}

	var outcomeKind *string
	var rewardTotal, rewardBase, rewardEff, rewardComplexity, rewardQuality, rewardLearning *float64
	if ep.Outcome != nil {
		k := string(ep.Outcome.Kind)
		outcomeKind = &k
	}
	if ep.Reward != nil {
		rewardTotal = &ep.Reward.Total
		rewardBase = &ep.Reward.Base
		rewardEff = &ep.Reward.Efficiency
		rewardComplexity = &ep.Reward.ComplexityBonus
		rewardQuality = &ep.Reward.QualityMultiplier
		rewardLearning = &ep.Reward.LearningBonus
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodes (
			id, task_description, task_type, language, framework, complexity, domain,
			start_time, end_time, outcome_kind, outcome_json,
			reward_total, reward_base, reward_efficiency, reward_complexity_bonus,
			reward_quality_multiplier, reward_learning_bonus,
			reflection, salient_json, metadata_json, low_quality, summarized
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			task_description=excluded.task_description,
			task_type=excluded.task_type,
			language=excluded.language,
			framework=excluded.framework,
			complexity=excluded.complexity,
			domain=excluded.domain,
			start_time=excluded.start_time,
			end_time=excluded.end_time,
			outcome_kind=excluded.outcome_kind,
			outcome_json=excluded.outcome_json,
			reward_total=excluded.reward_total,
			reward_base=excluded.reward_base,
			reward_efficiency=excluded.reward_efficiency,
			reward_complexity_bonus=excluded.reward_complexity_bonus,
			reward_quality_multiplier=excluded.reward_quality_multiplier,
			reward_learning_bonus=excluded.reward_learning_bonus,
			reflection=excluded.reflection,
			salient_json=excluded.salient_json,
			metadata_json=excluded.metadata_json,
			low_quality=excluded.low_quality,
			summarized=excluded.summarized
	`,
		ep.ID.String(), ep.TaskDescription, string(ep.TaskType), ep.Context.Language, ep.Context.Framework,
		string(ep.Context.Complexity), ep.Context.Domain,
		ep.StartTime, ep.EndTime, outcomeKind, outcomeJSON,
		rewardTotal, rewardBase, rewardEff, rewardComplexity, rewardQuality, rewardLearning,
		nullString(ep.Reflection), salientJSON, metaJSON, boolToInt(ep.LowQuality), boolToInt(ep.Summarized),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert episode: %v", memerrors.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) replaceStepsTx(ctx context.Context, tx *sql.Tx, episodeID memory.EpisodeID, steps []memory.ExecutionStep) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE episode_id = ?`, episodeID.String()); err != nil {
		return fmt.Errorf("%w: clear steps: %v", memerrors.ErrStorage, err)
	}
	for _, step := range steps {
		paramsJSON, err := marshalOptional(nonEmptyMap(step.Parameters))
		if err != nil {
			return err
		}
		metaJSON, err := marshalOptional(nonEmptyMap(step.Metadata))
		if err != nil {
			return err
		}
		var kind, output, message *string
		if step.Result != nil {
			k := string(step.Result.Kind)
			kind = &k
			output = nullString(step.Result.Output)
			message = nullString(step.Result.Message)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO execution_steps (
				episode_id, step_number, timestamp, tool, action, parameters_json,
				result_kind, result_output, result_message, latency_ms, tokens, metadata_json
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		`, episodeID.String(), step.StepNumber, step.Timestamp, step.Tool, step.Action, paramsJSON,
			kind, output, message, step.LatencyMS, step.Tokens, metaJSON)
		if err != nil {
			return fmt.Errorf("%w: insert step: %v", memerrors.ErrStorage, err)
		}
	}
	return nil
}

func (s *SQLiteStore) syncTagsTx(ctx context.Context, tx *sql.Tx, episodeID memory.EpisodeID, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM episode_tags WHERE episode_id = ?`, episodeID.String()); err != nil {
		return fmt.Errorf("%w: clear tags: %v", memerrors.ErrStorage, err)
	}
	now := time.Now()
	for _, tag := range tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tag_metadata (tag, usage_count, first_used, last_used)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(tag) DO UPDATE SET
				usage_count = tag_metadata.usage_count + 1,
				last_used = excluded.last_used
		`, tag, now, now)
		if err != nil {
			return fmt.Errorf("%w: upsert tag metadata: %v", memerrors.ErrStorage, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO episode_tags (episode_id, tag) VALUES (?, ?)
		`, episodeID.String(), tag); err != nil {
			return fmt.Errorf("%w: link tag: %v", memerrors.ErrStorage, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, id memory.EpisodeID) (*memory.Episode, error) {
	return withBreaker(s.breaker.read, func() (*memory.Episode, error) {
		stmt, err := s.stmts.prepare(ctx, episodeSelectColumns+` FROM episodes WHERE id = ?`)
		if err != nil {
			return nil, fmt.Errorf("%w: prepare get episode: %v", memerrors.ErrStorage, err)
		}
		row := stmt.QueryRowContext(ctx, id.String())
		ep, err := scanEpisode(row)
		if err == sql.ErrNoRows {
			return nil, memerrors.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get episode: %v", memerrors.ErrStorage, err)
		}
		if err := s.loadSteps(ctx, ep); err != nil {
			return nil, err
		}
		if err := s.loadTags(ctx, ep); err != nil {
			return nil, err
		}
		return ep, nil
	})
}

const episodeSelectColumns = `SELECT
	id, task_description, task_type, language, framework, complexity, domain,
	start_time, end_time, outcome_kind, outcome_json,
	reward_total, reward_base, reward_efficiency, reward_complexity_bonus,
	reward_quality_multiplier, reward_learning_bonus,
	reflection, salient_json, metadata_json, low_quality, summarized`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*memory.Episode, error) {
	var (
		idStr, taskDesc, taskType, complexity                   string
		language, framework, domain, outcomeKind, reflection    sql.NullString
		outcomeJSON, salientJSON, metaJSON                       sql.NullString
		startTime                                                time.Time
		endTime                                                  sql.NullTime
		rewardTotal, rewardBase, rewardEff, rewardComplexity     sql.NullFloat64
		rewardQuality, rewardLearning                            sql.NullFloat64
		lowQuality, summarized                                   int
	)
	err := row.Scan(
		&idStr, &taskDesc, &taskType, &language, &framework, &complexity, &domain,
		&startTime, &endTime, &outcomeKind, &outcomeJSON,
		&rewardTotal, &rewardBase, &rewardEff, &rewardComplexity, &rewardQuality, &rewardLearning,
		&reflection, &salientJSON, &metaJSON, &lowQuality, &summarized,
	)
	if err != nil {
		return nil, err
	}

	id, err := memory.ParseID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse episode id: %w", err)
	}

	ep := &memory.Episode{
		ID:              id,
		TaskDescription: taskDesc,
		TaskType:        memory.TaskType(taskType),
		Context: memory.TaskContext{
			Language:   language.String,
			Framework:  framework.String,
			Complexity: memory.Complexity(complexity),
			Domain:     domain.String,
		},
		StartTime:  startTime,
		Reflection: reflection.String,
		LowQuality: lowQuality != 0,
		Summarized: summarized != 0,
	}
	if endTime.Valid {
		t := endTime.Time
		ep.EndTime = &t
	}
	if outcomeJSON.Valid && outcomeJSON.String != "" {
		var oc memory.Outcome
		if err := json.Unmarshal([]byte(outcomeJSON.String), &oc); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		ep.Outcome = &oc
	}
	if rewardTotal.Valid {
		ep.Reward = &memory.RewardScore{
			Total: rewardTotal.Float64, Base: rewardBase.Float64, Efficiency: rewardEff.Float64,
			ComplexityBonus: rewardComplexity.Float64, QualityMultiplier: rewardQuality.Float64,
			LearningBonus: rewardLearning.Float64,
		}
	}
	if salientJSON.Valid && salientJSON.String != "" {
		var sal memory.SalientFeatureSummary
		if err := json.Unmarshal([]byte(salientJSON.String), &sal); err != nil {
			return nil, fmt.Errorf("decode salient summary: %w", err)
		}
		ep.Salient = &sal
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &ep.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return ep, nil
}

func (s *SQLiteStore) loadSteps(ctx context.Context, ep *memory.Episode) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_number, timestamp, tool, action, parameters_json,
		       result_kind, result_output, result_message, latency_ms, tokens, metadata_json
		FROM execution_steps WHERE episode_id = ? ORDER BY step_number ASC
	`, ep.ID.String())
	if err != nil {
		return fmt.Errorf("%w: load steps: %v", memerrors.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stepNumber                         int
			ts                                  time.Time
			tool, action                        string
			paramsJSON, resultKind, resultOutput sql.NullString
			resultMessage, metaJSON              sql.NullString
			latencyMS                            sql.NullInt64
			tokens                                sql.NullInt64
		)
		if err := rows.Scan(&stepNumber, &ts, &tool, &action, &paramsJSON,
			&resultKind, &resultOutput, &resultMessage, &latencyMS, &tokens, &metaJSON); err != nil {
			return fmt.Errorf("%w: scan step: %v", memerrors.ErrStorage, err)
		}
		step := memory.ExecutionStep{
			StepNumber: stepNumber, Timestamp: ts, Tool: tool, Action: action, LatencyMS: latencyMS.Int64,
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			_ = json.Unmarshal([]byte(paramsJSON.String), &step.Parameters)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &step.Metadata)
		}
		if tokens.Valid {
			v := tokens.Int64
			step.Tokens = &v
		}
		if resultKind.Valid {
			step.Result = &memory.StepResult{
				Kind: memory.StepResultKind(resultKind.String), Output: resultOutput.String, Message: resultMessage.String,
			}
		}
		ep.Steps = append(ep.Steps, step)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadTags(ctx context.Context, ep *memory.Episode) error {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM episode_tags WHERE episode_id = ? ORDER BY tag ASC`, ep.ID.String())
	if err != nil {
		return fmt.Errorf("%w: load tags: %v", memerrors.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("%w: scan tag: %v", memerrors.ErrStorage, err)
		}
		ep.Tags = append(ep.Tags, tag)
	}
	return rows.Err()
}

func (s *SQLiteStore) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]*memory.Episode, error) {
	return withBreaker(s.breaker.read, func() ([]*memory.Episode, error) {
		query := episodeSelectColumns + ` FROM episodes WHERE 1=1`
		args := []any{}

		if !filter.Since.IsZero() {
			query += " AND start_time >= ?"
			args = append(args, filter.Since)
		}
		if !filter.Until.IsZero() {
			query += " AND start_time <= ?"
			args = append(args, filter.Until)
		}
		if filter.TaskType != "" {
			query += " AND task_type = ?"
			args = append(args, string(filter.TaskType))
		}
		if filter.Domain != "" {
			query += " AND domain = ?"
			args = append(args, filter.Domain)
		}
		if filter.LowQuality != nil {
			query += " AND low_quality = ?"
			args = append(args, boolToInt(*filter.LowQuality))
		}
		if len(filter.Tags) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Tags)), ",")
			having := "= ?"
			if filter.TagMode == memory.TagModeAny {
				having = ">= 1"
			} else {
				having = "= ?"
			}
			query += fmt.Sprintf(` AND id IN (
				SELECT episode_id FROM episode_tags WHERE tag IN (%s)
				GROUP BY episode_id HAVING COUNT(DISTINCT tag) %s
			)`, placeholders, having)
			for _, t := range filter.Tags {
				args = append(args, t)
			}
			if filter.TagMode != memory.TagModeAny {
				args = append(args, len(filter.Tags))
			}
		}

		query += " ORDER BY start_time DESC"
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: list episodes: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()

		var out []*memory.Episode
		for rows.Next() {
			ep, err := scanEpisode(rows)
			if err != nil {
				return nil, fmt.Errorf("%w: scan episode: %v", memerrors.ErrStorage, err)
			}
			out = append(out, ep)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", memerrors.ErrStorage, err)
		}
		for _, ep := range out {
			if err := s.loadSteps(ctx, ep); err != nil {
				return nil, err
			}
			if err := s.loadTags(ctx, ep); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

func (s *SQLiteStore) DeleteEpisode(ctx context.Context, id memory.EpisodeID) error {
	return s.breaker.write.run(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("%w: delete episode: %v", memerrors.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerrors.ErrNotFound
		}
		return nil
	})
}

// ReplaceWithSummary implements the capacity manager's demotion: an
// episode's heavy fields (steps, reflection) are dropped in favor of its
// compact salient summary, while id, tags, and relationships are preserved
// untouched.
func (s *SQLiteStore) ReplaceWithSummary(ctx context.Context, id memory.EpisodeID, summary memory.SalientFeatureSummary) error {
	return s.breaker.write.run(func() error {
		salientJSON, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("%w: encode summary: %v", memerrors.ErrStorage, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin tx: %v", memerrors.ErrStorage, err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE episodes SET salient_json = ?, reflection = NULL, summarized = 1 WHERE id = ?
		`, string(salientJSON), id.String())
		if err != nil {
			return fmt.Errorf("%w: demote episode: %v", memerrors.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerrors.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM execution_steps WHERE episode_id = ?`, id.String()); err != nil {
			return fmt.Errorf("%w: drop steps: %v", memerrors.ErrStorage, err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) AppendStep(ctx context.Context, episodeID memory.EpisodeID, step memory.ExecutionStep) error {
	return s.breaker.write.run(func() error {
		paramsJSON, err := marshalOptional(nonEmptyMap(step.Parameters))
		if err != nil {
			return err
		}
		metaJSON, err := marshalOptional(nonEmptyMap(step.Metadata))
		if err != nil {
			return err
		}
		var kind, output, message *string
		if step.Result != nil {
			k := string(step.Result.Kind)
			kind = &k
			output = nullString(step.Result.Output)
			message = nullString(step.Result.Message)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO execution_steps (
				episode_id, step_number, timestamp, tool, action, parameters_json,
				result_kind, result_output, result_message, latency_ms, tokens, metadata_json
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(episode_id, step_number) DO UPDATE SET
				timestamp=excluded.timestamp, tool=excluded.tool, action=excluded.action,
				parameters_json=excluded.parameters_json, result_kind=excluded.result_kind,
				result_output=excluded.result_output, result_message=excluded.result_message,
				latency_ms=excluded.latency_ms, tokens=excluded.tokens, metadata_json=excluded.metadata_json
		`, episodeID.String(), step.StepNumber, step.Timestamp, step.Tool, step.Action, paramsJSON,
			kind, output, message, step.LatencyMS, step.Tokens, metaJSON)
		if err != nil {
			return fmt.Errorf("%w: append step: %v", memerrors.ErrStorage, err)
		}
		return nil
	})
}

// ---- relationships ----

func (s *SQLiteStore) SaveRelationship(ctx context.Context, r memory.Relationship) error {
	return s.breaker.write.run(func() error {
		customJSON, err := marshalOptional(nonEmptyMap(r.Custom))
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO episode_relationships (id, from_episode_id, to_episode_id, kind, reason, created_by, priority, custom_json, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				from_episode_id=excluded.from_episode_id, to_episode_id=excluded.to_episode_id,
				kind=excluded.kind, reason=excluded.reason, created_by=excluded.created_by,
				priority=excluded.priority, custom_json=excluded.custom_json
		`, r.ID.String(), r.FromEpisodeID.String(), r.ToEpisodeID.String(), r.Kind.String(),
			nullString(r.Reason), nullString(r.CreatedBy), nullInt(r.Priority), customJSON, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: save relationship: %v", memerrors.ErrStorage, err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListRelationships(ctx context.Context, episodeID memory.EpisodeID, dir memory.Direction, kind *memory.RelationshipKind) ([]memory.Relationship, error) {
	return withBreaker(s.breaker.read, func() ([]memory.Relationship, error) {
		var clause string
		switch dir {
		case memory.DirectionOutgoing:
			clause = "from_episode_id = ?"
		case memory.DirectionIncoming:
			clause = "to_episode_id = ?"
		default:
			clause = "(from_episode_id = ? OR to_episode_id = ?)"
		}
		query := fmt.Sprintf(`
			SELECT id, from_episode_id, to_episode_id, kind, reason, created_by, priority, custom_json, created_at
			FROM episode_relationships WHERE %s`, clause)
		args := []any{episodeID.String()}
		if dir == memory.DirectionBoth {
			args = append(args, episodeID.String())
		}
		if kind != nil {
			query += " AND kind = ?"
			args = append(args, kind.String())
		}
		query += " ORDER BY created_at DESC"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: list relationships: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()

		var out []memory.Relationship
		for rows.Next() {
			var idStr, fromStr, toStr, kindStr string
			var reason, createdBy, customJSON sql.NullString
			var priority sql.NullInt64
			var createdAt time.Time
			if err := rows.Scan(&idStr, &fromStr, &toStr, &kindStr, &reason, &createdBy, &priority, &customJSON, &createdAt); err != nil {
				return nil, fmt.Errorf("%w: scan relationship: %v", memerrors.ErrStorage, err)
			}
			id, _ := memory.ParseID(idStr)
			from, _ := memory.ParseID(fromStr)
			to, _ := memory.ParseID(toStr)
			k, _ := memory.ParseRelationshipKind(kindStr)
			r := memory.Relationship{
				ID: id, FromEpisodeID: from, ToEpisodeID: to, Kind: k,
				Reason: reason.String, CreatedBy: createdBy.String, Priority: int(priority.Int64), CreatedAt: createdAt,
			}
			if customJSON.Valid && customJSON.String != "" {
				_ = json.Unmarshal([]byte(customJSON.String), &r.Custom)
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

func (s *SQLiteStore) DeleteRelationship(ctx context.Context, id memory.RelationshipID) error {
	return s.breaker.write.run(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM episode_relationships WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("%w: delete relationship: %v", memerrors.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerrors.ErrNotFound
		}
		return nil
	})
}

// ---- tags ----

func (s *SQLiteStore) TouchTags(ctx context.Context, tags []string, at time.Time) error {
	return s.breaker.write.run(func() error {
		for _, tag := range tags {
			_, err := s.db.ExecContext(ctx, `
				INSERT INTO tag_metadata (tag, usage_count, first_used, last_used) VALUES (?, 1, ?, ?)
				ON CONFLICT(tag) DO UPDATE SET usage_count = tag_metadata.usage_count + 1, last_used = excluded.last_used
			`, tag, at, at)
			if err != nil {
				return fmt.Errorf("%w: touch tag: %v", memerrors.ErrStorage, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]memory.TagMetadata, error) {
	return withBreaker(s.breaker.read, func() ([]memory.TagMetadata, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT tag, usage_count, first_used, last_used FROM tag_metadata ORDER BY usage_count DESC`)
		if err != nil {
			return nil, fmt.Errorf("%w: list tags: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()
		var out []memory.TagMetadata
		for rows.Next() {
			var t memory.TagMetadata
			if err := rows.Scan(&t.Tag, &t.UsageCount, &t.FirstUsed, &t.LastUsed); err != nil {
				return nil, fmt.Errorf("%w: scan tag: %v", memerrors.ErrStorage, err)
			}
			out = append(out, t)
		}
		return out, rows.Err()
	})
}

// ---- patterns ----

func (s *SQLiteStore) SavePattern(ctx context.Context, p *memory.Pattern) error {
	return s.breaker.write.run(func() error {
		variant, err := marshalPatternVariant(p)
		if err != nil {
			return err
		}
		now := p.Effectiveness.CreatedAt
		if now.IsZero() {
			now = time.Now()
		}
		var lastUsed any
		if !p.Effectiveness.LastUsed.IsZero() {
			lastUsed = p.Effectiveness.LastUsed
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO patterns (
				id, kind, variant_json, times_retrieved, times_applied,
				success_when_applied, failure_when_applied, avg_reward_delta, last_used, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET
				variant_json=excluded.variant_json,
				times_retrieved=excluded.times_retrieved,
				times_applied=excluded.times_applied,
				success_when_applied=excluded.success_when_applied,
				failure_when_applied=excluded.failure_when_applied,
				avg_reward_delta=excluded.avg_reward_delta,
				last_used=excluded.last_used
		`, p.ID.String(), string(p.Kind), variant, p.Effectiveness.TimesRetrieved, p.Effectiveness.TimesApplied,
			p.Effectiveness.SuccessWhenApplied, p.Effectiveness.FailureWhenApplied, p.Effectiveness.AvgRewardDelta,
			lastUsed, now)
		if err != nil {
			return fmt.Errorf("%w: save pattern: %v", memerrors.ErrStorage, err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetPattern(ctx context.Context, id memory.PatternID) (*memory.Pattern, error) {
	return withBreaker(s.breaker.read, func() (*memory.Pattern, error) {
		stmt, err := s.stmts.prepare(ctx, patternSelectColumns+` FROM patterns WHERE id = ?`)
		if err != nil {
			return nil, fmt.Errorf("%w: prepare get pattern: %v", memerrors.ErrStorage, err)
		}
		row := stmt.QueryRowContext(ctx, id.String())
		p, err := scanPattern(row)
		if err == sql.ErrNoRows {
			return nil, memerrors.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get pattern: %v", memerrors.ErrStorage, err)
		}
		return p, nil
	})
}

const patternSelectColumns = `SELECT
	id, kind, variant_json, times_retrieved, times_applied,
	success_when_applied, failure_when_applied, avg_reward_delta, last_used, created_at`

func scanPattern(row rowScanner) (*memory.Pattern, error) {
	var idStr, kindStr, variantJSON string
	var timesRetrieved, timesApplied, successApplied, failureApplied int64
	var avgRewardDelta float64
	var lastUsed sql.NullTime
	var createdAt time.Time

	if err := row.Scan(&idStr, &kindStr, &variantJSON, &timesRetrieved, &timesApplied,
		&successApplied, &failureApplied, &avgRewardDelta, &lastUsed, &createdAt); err != nil {
		return nil, err
	}
	id, err := memory.ParseID(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse pattern id: %w", err)
	}
	p := &memory.Pattern{
		ID:   id,
		Kind: memory.PatternKind(kindStr),
		Effectiveness: memory.PatternEffectiveness{
			TimesRetrieved: timesRetrieved, TimesApplied: timesApplied,
			SuccessWhenApplied: successApplied, FailureWhenApplied: failureApplied,
			AvgRewardDelta: avgRewardDelta, CreatedAt: createdAt,
		},
	}
	if lastUsed.Valid {
		p.Effectiveness.LastUsed = lastUsed.Time
	}
	if err := unmarshalPatternVariant(p, variantJSON); err != nil {
		return nil, fmt.Errorf("decode pattern variant: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPatterns(ctx context.Context, filter memory.PatternFilter) ([]*memory.Pattern, error) {
	return withBreaker(s.breaker.read, func() ([]*memory.Pattern, error) {
		query := patternSelectColumns + ` FROM patterns WHERE 1=1`
		args := []any{}
		if filter.Kind != "" {
			query += " AND kind = ?"
			args = append(args, string(filter.Kind))
		}
		if filter.Context != "" {
			query += " AND variant_json LIKE ?"
			args = append(args, "%"+filter.Context+"%")
		}
		query += " ORDER BY created_at DESC"
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: list patterns: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()
		var out []*memory.Pattern
		for rows.Next() {
			p, err := scanPattern(rows)
			if err != nil {
				return nil, fmt.Errorf("%w: scan pattern: %v", memerrors.ErrStorage, err)
			}
			out = append(out, p)
		}
		return out, rows.Err()
	})
}

func (s *SQLiteStore) UpdatePatternEffectiveness(ctx context.Context, id memory.PatternID, eff memory.PatternEffectiveness) error {
	return s.breaker.write.run(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE patterns SET times_retrieved=?, times_applied=?, success_when_applied=?,
				failure_when_applied=?, avg_reward_delta=?, last_used=?
			WHERE id = ?
		`, eff.TimesRetrieved, eff.TimesApplied, eff.SuccessWhenApplied, eff.FailureWhenApplied,
			eff.AvgRewardDelta, eff.LastUsed, id.String())
		if err != nil {
			return fmt.Errorf("%w: update pattern effectiveness: %v", memerrors.ErrStorage, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return memerrors.ErrNotFound
		}
		return nil
	})
}

// ---- embeddings ----

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, ownerKind, ownerID, model string, vector []float32) error {
	return s.breaker.write.run(func() error {
		table := dimensionTable(len(vector))
		blob := encodeVector(vector)
		id := ownerKind + ":" + ownerID + ":" + model
		var err error
		if table == "embeddings_other" {
			_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (id, owner_id, owner_kind, model, dimension, vector, created_at)
				VALUES (?,?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET vector=excluded.vector, dimension=excluded.dimension
			`, table), id, ownerID, ownerKind, model, len(vector), blob, time.Now())
		} else {
			_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (id, owner_id, owner_kind, model, vector, created_at)
				VALUES (?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET vector=excluded.vector
			`, table), id, ownerID, ownerKind, model, blob, time.Now())
		}
		if err != nil {
			return fmt.Errorf("%w: save embedding: %v", memerrors.ErrStorage, err)
		}
		return nil
	})
}

func (s *SQLiteStore) SearchEmbeddings(ctx context.Context, ownerKind string, dimension int, query []float32, k int) ([]EmbeddingMatch, error) {
	return withBreaker(s.breaker.read, func() ([]EmbeddingMatch, error) {
		table := dimensionTable(dimension)
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT owner_id, vector FROM %s WHERE owner_kind = ?`, table), ownerKind)
		if err != nil {
			return nil, fmt.Errorf("%w: search embeddings: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()

		candidates := make(map[string][]float32)
		for rows.Next() {
			var ownerID string
			var blob []byte
			if err := rows.Scan(&ownerID, &blob); err != nil {
				return nil, fmt.Errorf("%w: scan embedding: %v", memerrors.ErrStorage, err)
			}
			candidates[ownerID] = decodeVector(blob)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", memerrors.ErrStorage, err)
		}

		scored := topKByCosine(query, candidates, k)
		out := make([]EmbeddingMatch, len(scored))
		for i, sc := range scored {
			out[i] = EmbeddingMatch{OwnerID: sc.id, Score: sc.score}
		}
		return out, nil
	})
}

func (s *SQLiteStore) SearchFTS(ctx context.Context, queryText string, k int) ([]FTSMatch, error) {
	return withBreaker(s.breaker.read, func() ([]FTSMatch, error) {
		if strings.TrimSpace(queryText) == "" {
			return nil, nil
		}
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, bm25(episodes_fts) FROM episodes_fts WHERE episodes_fts MATCH ? ORDER BY bm25(episodes_fts) LIMIT ?
		`, queryText, k)
		if err != nil {
			return nil, fmt.Errorf("%w: search fts: %v", memerrors.ErrStorage, err)
		}
		defer rows.Close()
		var out []FTSMatch
		for rows.Next() {
			var id string
			var bm25 float64
			if err := rows.Scan(&id, &bm25); err != nil {
				return nil, fmt.Errorf("%w: scan fts match: %v", memerrors.ErrStorage, err)
			}
			out = append(out, FTSMatch{EpisodeID: id, Score: -bm25})
		}
		return out, rows.Err()
	})
}

// ---- JSON/pattern-variant helpers ----

func marshalOptional(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", memerrors.ErrStorage, err)
	}
	return string(b), nil
}

func nonEmptyMap[M ~map[K]V, K comparable, V any](m M) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalPatternVariant(p *memory.Pattern) (string, error) {
	var v any
	switch p.Kind {
	case memory.PatternKindToolSequence:
		v = p.ToolSequence
	case memory.PatternKindDecisionPoint:
		v = p.DecisionPoint
	case memory.PatternKindErrorRecovery:
		v = p.ErrorRecovery
	case memory.PatternKindContext:
		v = p.Context
	default:
		return "", fmt.Errorf("%w: unknown pattern kind %q", memerrors.ErrInvalidInput, p.Kind)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: marshal pattern variant: %v", memerrors.ErrStorage, err)
	}
	return string(b), nil
}

func unmarshalPatternVariant(p *memory.Pattern, raw string) error {
	switch p.Kind {
	case memory.PatternKindToolSequence:
		var v memory.ToolSequencePattern
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return err
		}
		p.ToolSequence = &v
	case memory.PatternKindDecisionPoint:
		var v memory.DecisionPointPattern
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return err
		}
		p.DecisionPoint = &v
	case memory.PatternKindErrorRecovery:
		var v memory.ErrorRecoveryPattern
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return err
		}
		p.ErrorRecovery = &v
	case memory.PatternKindContext:
		var v memory.ContextPattern
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return err
		}
		p.Context = &v
	}
	return nil
}
