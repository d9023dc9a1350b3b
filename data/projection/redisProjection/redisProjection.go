// Package redisProjection is an alternate projection-store backend keeping the
// materialized positions in Redis instead of Postgres. It satisfies the same
// store contract as the Postgres repository and shares no state with the
// ledger; positions live under one JSON key per pair plus per-account index
// sets so ListPositionsByAccount stays cheap.
package redisProjection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/vkuzmenko/holdings_engine/data/repository"
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/utils"
)

const accountsIndexKey = "positions:accounts"

type RedisProjection struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *RedisProjection {
	return &RedisProjection{redis: redisClient}
}

func positionKey(accountID int64, instrument string) string {
	return fmt.Sprintf("position:%d:%s", accountID, instrument)
}

func accountIndexKey(accountID int64) string {
	return fmt.Sprintf("positions:acc:%d", accountID)
}

func (r *RedisProjection) UpsertPosition(ctx context.Context, pos model.Position) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisProjection.UpsertPosition"

	slog.Debug("UpsertPosition start", slog.String("rqID", rqID), slog.String("op", op))

	posJson, err := json.Marshal(pos)
	if err != nil {
		slog.Error("can't marshal position", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return errors.New("can't marshal position")
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, positionKey(pos.AccountID, pos.Instrument), posJson, 0)
	pipe.SAdd(ctx, accountIndexKey(pos.AccountID), pos.Instrument)
	pipe.SAdd(ctx, accountsIndexKey, pos.AccountID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("UpsertPosition completed", slog.String("rqID", rqID), slog.String("op", op))

	return nil
}

func (r *RedisProjection) DeletePosition(ctx context.Context, accountID int64, instrument string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisProjection.DeletePosition"

	slog.Debug("DeletePosition start", slog.String("rqID", rqID), slog.String("op", op))

	pipe := r.redis.Pipeline()
	pipe.Del(ctx, positionKey(accountID, instrument))
	pipe.SRem(ctx, accountIndexKey(accountID), instrument)

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("DeletePosition completed", slog.String("rqID", rqID), slog.String("op", op))

	return nil
}

func (r *RedisProjection) GetPosition(ctx context.Context, accountID int64, instrument string) (model.Position, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisProjection.GetPosition"

	slog.Debug("GetPosition start", slog.String("rqID", rqID), slog.String("op", op))

	res, err := r.redis.Get(ctx, positionKey(accountID, instrument)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Position{}, repository.ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Position{}, err
	}

	pos := model.Position{}
	err = json.Unmarshal([]byte(res), &pos)
	if err != nil {
		slog.Error("can't unmarshal position", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()), slog.String("resultFromRedis", res))
		return model.Position{}, errors.New("can't unmarshal position")
	}

	slog.Debug("GetPosition completed", slog.String("rqID", rqID), slog.String("op", op))

	return pos, nil
}

func (r *RedisProjection) ListPositionsByAccount(ctx context.Context, accountID int64) ([]model.Position, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisProjection.ListPositionsByAccount"

	slog.Debug("ListPositionsByAccount start", slog.String("rqID", rqID), slog.String("op", op))

	instruments, err := r.redis.SMembers(ctx, accountIndexKey(accountID)).Result()
	if err != nil {
		slog.Error("failed on redis.SMembers", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	positions := make([]model.Position, 0, len(instruments))
	for _, instrument := range instruments {
		pos, err := r.GetPosition(ctx, accountID, instrument)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// index and value can diverge between pipeline steps; skip
				continue
			}
			return nil, err
		}
		positions = append(positions, pos)
	}

	slog.Debug("ListPositionsByAccount completed", slog.String("rqID", rqID), slog.String("op", op))

	return positions, nil
}

func (r *RedisProjection) ListPositionPairs(ctx context.Context, accountID int64) ([]model.PairKey, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "RedisProjection.ListPositionPairs"

	slog.Debug("ListPositionPairs start", slog.String("rqID", rqID), slog.String("op", op))

	accountIDs := []int64{accountID}
	if accountID == 0 {
		members, err := r.redis.SMembers(ctx, accountsIndexKey).Result()
		if err != nil {
			slog.Error("failed on redis.SMembers", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return nil, err
		}

		accountIDs = accountIDs[:0]
		for _, member := range members {
			id, err := strconv.ParseInt(member, 10, 64)
			if err != nil {
				slog.Error("bad account id in index", slog.String("rqID", rqID), slog.String("op", op), slog.String("member", member))
				continue
			}
			accountIDs = append(accountIDs, id)
		}
	}

	var pairs []model.PairKey
	for _, id := range accountIDs {
		instruments, err := r.redis.SMembers(ctx, accountIndexKey(id)).Result()
		if err != nil {
			return nil, err
		}
		for _, instrument := range instruments {
			pairs = append(pairs, model.PairKey{AccountID: id, Instrument: instrument})
		}
	}

	slog.Debug("ListPositionPairs completed", slog.String("rqID", rqID), slog.String("op", op))

	return pairs, nil
}
