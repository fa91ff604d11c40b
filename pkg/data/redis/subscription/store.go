package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyDue is the due-time index (member="fid:appFid", score=nextSendAt).
	KeyDue = "notif:due"
	// KeyEvents is the rolling webhook event log, newest first.
	KeyEvents = "notif:events"

	// MaxEvents bounds the webhook event log.
	MaxEvents = 200

	userKeyPrefix = "notif:user:"

	maxUpdateAttempts = 5
)

// ErrUpdateConflict is returned when Update keeps losing to concurrent
// writers of the same record.
var ErrUpdateConflict = errors.New("subscription changed concurrently")

// Action tells Update what to do with the record after fn ran.
type Action int

const (
	// ActionSave writes the changed record and its due-index entry.
	ActionSave Action = iota
	// ActionDelete removes the record and its due-index entry.
	ActionDelete
	// ActionSkip leaves the record untouched.
	ActionSkip
)

// UpdateFunc changes a freshly read record in place. It may run more than
// once when the record changes concurrently.
type UpdateFunc func(sub *Subscription) Action

// RecordKey returns the record key for (fid, appFid).
func RecordKey(fid, appFID int64) string {
	return userKeyPrefix + Member(fid, appFID)
}

// DueEntry is one member of the due-time index.
type DueEntry struct {
	Member     string `json:"member"`
	NextSendAt int64  `json:"nextSendAt"`
}

// Event is one webhook breadcrumb. Tokens are never logged.
type Event struct {
	TS     int64  `json:"ts"`
	Event  string `json:"event"`
	FID    int64  `json:"fid"`
	AppFID int64  `json:"appFid"`
}

// Store keeps subscription records and their due-index entries in sync.
// Every write touching both goes through one MULTI/EXEC.
type Store interface {
	// Upsert creates or replaces the subscription of (fid, appFid) and
	// schedules its first delivery one cadence from now.
	Upsert(ctx context.Context, fid, appFID int64, url, token string, now int64) (*Subscription, error)
	// Get loads a subscription. A record that cannot be decoded returns
	// ErrCorruptRecord.
	Get(ctx context.Context, fid, appFID int64) (*Subscription, bool, error)
	// Save writes s and its due-index entry atomically.
	Save(ctx context.Context, s *Subscription) error
	// Update reads the record of (fid, appFid), applies fn and writes the
	// result only if the record was not changed or removed in between. It
	// reports false when no record exists; a removed record is never
	// recreated. A record that cannot be decoded returns ErrCorruptRecord.
	Update(ctx context.Context, fid, appFID int64, fn UpdateFunc) (bool, error)
	// Delete removes the record and its due-index entry atomically.
	Delete(ctx context.Context, fid, appFID int64) error

	// DueMembers returns up to limit members with nextSendAt <= now,
	// earliest first.
	DueMembers(ctx context.Context, now int64, limit int64) ([]string, error)
	// PruneMember removes a due-index member without a backing record.
	PruneMember(ctx context.Context, member string) error
	// Members returns every due-index member.
	Members(ctx context.Context) ([]string, error)
	// Count returns the number of scheduled subscriptions.
	Count(ctx context.Context) (int64, error)
	// CountDue returns the number of subscriptions due at now.
	CountDue(ctx context.Context, now int64) (int64, error)
	// Soonest returns the entry due first.
	Soonest(ctx context.Context) (*DueEntry, bool, error)

	// LogEvent prepends e to the bounded event log.
	LogEvent(ctx context.Context, e Event) error
	// Events returns the newest n events.
	Events(ctx context.Context, n int64) ([]Event, error)

	// DefaultCadence returns the cadence given to new subscriptions.
	DefaultCadence() int
}

type store struct {
	rdb            redis.UniversalClient
	defaultCadence int
}

// NewStore creates a subscription store. New subscriptions and records with
// an unsupported cadence use defaultCadence.
func NewStore(rdb redis.UniversalClient, defaultCadence int) (Store, error) {
	if !ValidCadence(defaultCadence) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCadence, defaultCadence)
	}
	return &store{rdb: rdb, defaultCadence: defaultCadence}, nil
}

func (s *store) DefaultCadence() int {
	return s.defaultCadence
}

func (s *store) Upsert(ctx context.Context, fid, appFID int64, url, token string, now int64) (*Subscription, error) {
	createdAt := now
	existing, ok, err := s.Get(ctx, fid, appFID)
	switch {
	case err != nil && !errors.Is(err, ErrCorruptRecord):
		return nil, err
	case ok:
		createdAt = existing.CreatedAt
	}

	sub := &Subscription{
		FID:          fid,
		AppFID:       appFID,
		URL:          url,
		Token:        token,
		CadenceHours: s.defaultCadence,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	sub.NextSendAt = now + sub.CadenceSeconds()

	if err := s.Save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *store) Get(ctx context.Context, fid, appFID int64) (*Subscription, bool, error) {
	key := RecordKey(fid, appFID)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	sub, err := decode(raw, s.defaultCadence)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", key, err)
	}
	// The key is authoritative for identity.
	sub.FID, sub.AppFID = fid, appFID
	return sub, true, nil
}

func (s *store) Save(ctx context.Context, sub *Subscription) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription %s: %w", sub.Member(), err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, RecordKey(sub.FID, sub.AppFID), payload, 0)
		pipe.ZAdd(ctx, KeyDue, redis.Z{Score: float64(sub.NextSendAt), Member: sub.Member()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save subscription %s: %w", sub.Member(), err)
	}
	return nil
}

func (s *store) Update(ctx context.Context, fid, appFID int64, fn UpdateFunc) (bool, error) {
	key := RecordKey(fid, appFID)
	var found bool
	txf := func(tx *redis.Tx) error {
		found = false
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		sub, err := decode(raw, s.defaultCadence)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		sub.FID, sub.AppFID = fid, appFID
		found = true

		var payload []byte
		action := fn(sub)
		switch action {
		case ActionSkip:
			return nil
		case ActionSave:
			if payload, err = json.Marshal(sub); err != nil {
				return fmt.Errorf("failed to marshal subscription %s: %w", sub.Member(), err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if action == ActionDelete {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, KeyDue, sub.Member())
				return nil
			}
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, KeyDue, redis.Z{Score: float64(sub.NextSendAt), Member: sub.Member()})
			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err != nil:
			return false, fmt.Errorf("failed to update subscription %s: %w", Member(fid, appFID), err)
		}
		return found, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUpdateConflict, Member(fid, appFID))
}

func (s *store) Delete(ctx context.Context, fid, appFID int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, RecordKey(fid, appFID))
		pipe.ZRem(ctx, KeyDue, Member(fid, appFID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", Member(fid, appFID), err)
	}
	return nil
}

func (s *store) DueMembers(ctx context.Context, now int64, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := s.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:     KeyDue,
		Start:   "-inf",
		Stop:    strconv.FormatInt(now, 10),
		ByScore: true,
		Offset:  0,
		Count:   limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due members: %w", err)
	}
	return members, nil
}

func (s *store) PruneMember(ctx context.Context, member string) error {
	if err := s.rdb.ZRem(ctx, KeyDue, member).Err(); err != nil {
		return fmt.Errorf("failed to prune due member %s: %w", member, err)
	}
	return nil
}

func (s *store) Members(ctx context.Context) ([]string, error) {
	members, err := s.rdb.ZRange(ctx, KeyDue, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due members: %w", err)
	}
	return members, nil
}

func (s *store) Count(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, KeyDue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func (s *store) CountDue(ctx context.Context, now int64) (int64, error) {
	n, err := s.rdb.ZCount(ctx, KeyDue, "-inf", strconv.FormatInt(now, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count due subscriptions: %w", err)
	}
	return n, nil
}

func (s *store) Soonest(ctx context.Context) (*DueEntry, bool, error) {
	zs, err := s.rdb.ZRangeWithScores(ctx, KeyDue, 0, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read soonest due member: %w", err)
	}
	if len(zs) == 0 {
		return nil, false, nil
	}
	member, _ := zs[0].Member.(string)
	return &DueEntry{Member: member, NextSendAt: int64(zs[0].Score)}, true, nil
}

func (s *store) LogEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, KeyEvents, payload)
		pipe.LTrim(ctx, KeyEvents, 0, MaxEvents-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

func (s *store) Events(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, KeyEvents, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		var e Event
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
