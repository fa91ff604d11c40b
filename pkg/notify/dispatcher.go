package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/metrics"
)

const (
	DefaultTitle      = "2048 TX Game 🧩"
	DefaultBody       = "One quick round? Try to beat your score."
	DefaultTargetURL  = "https://2048tx.vercel.app"
	DefaultBatchLimit = 200

	DefaultInvalidThreshold  = 3
	DefaultInvalidRetryDelay = 600 * time.Second
	DefaultRateLimitDelay    = 900 * time.Second
	DefaultErrorRetryDelay   = 600 * time.Second

	testTitle = "2048 TX"
	testBody  = "Test notification (admin send-test)"
)

var (
	ErrNoSubscriptions      = errors.New("no registered subscriptions")
	ErrSubscriptionNotFound = errors.New("no record found for member")
)

// Config controls notification content and the retry policy.
type Config struct {
	Title     string
	Body      string
	TargetURL string
	// InvalidThreshold is the invalid-token streak at which a subscription
	// is removed.
	InvalidThreshold  int
	InvalidRetryDelay time.Duration
	RateLimitDelay    time.Duration
	ErrorRetryDelay   time.Duration
}

func (c *Config) setDefaults() {
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Body == "" {
		c.Body = DefaultBody
	}
	if c.TargetURL == "" {
		c.TargetURL = DefaultTargetURL
	}
	c.TargetURL = strings.TrimSuffix(c.TargetURL, "/")
	if c.InvalidThreshold <= 0 {
		c.InvalidThreshold = DefaultInvalidThreshold
	}
	if c.InvalidRetryDelay <= 0 {
		c.InvalidRetryDelay = DefaultInvalidRetryDelay
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = DefaultRateLimitDelay
	}
	if c.ErrorRetryDelay <= 0 {
		c.ErrorRetryDelay = DefaultErrorRetryDelay
	}
}

// Result describes one DispatchDue call. Invalid counts every invalid-token
// outcome; InvalidDisabled is the subset that removed the subscription.
type Result struct {
	Due             int `json:"due"`
	Sent            int `json:"sent"`
	Invalid         int `json:"invalid"`
	InvalidDisabled int `json:"invalidDisabled"`
	RateLimited     int `json:"rateLimited"`
	Errors          int `json:"errors"`
	Stale           int `json:"stale"`
}

// Dispatcher delivers due reminders.
type Dispatcher struct {
	subs    subscription.Store
	gateway Gateway
	cfg     Config
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	newID   func() string
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithMetrics enables metrics collection for the dispatcher.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithIDGenerator overrides the id source for test notifications.
func WithIDGenerator(f func() string) Option {
	return func(d *Dispatcher) {
		d.newID = f
	}
}

// New creates a dispatcher.
func New(subs subscription.Store, gw Gateway, cfg Config, log *zap.SugaredLogger, opts ...Option) *Dispatcher {
	cfg.setDefaults()
	d := &Dispatcher{
		subs:    subs,
		gateway: gw,
		cfg:     cfg,
		log:     log,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotificationID is stable within one cadence slot, so a retried delivery
// in the same slot is deduplicated by clients.
func NotificationID(cadenceHours int, now int64) string {
	slot := now / (int64(cadenceHours) * 3600)
	return fmt.Sprintf("reminder-2048-%dh-%d", cadenceHours, slot)
}

// DispatchDue delivers up to limit subscriptions due at now, earliest first.
// Failures of a single subscription are logged and counted; only failing to
// read the due index, or ctx ending, aborts the batch.
func (d *Dispatcher) DispatchDue(ctx context.Context, now int64, limit int64) (*Result, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	members, err := d.subs.DueMembers(ctx, now, limit)
	if err != nil {
		d.metrics.IncError(metrics.ErrTypeStore)
		return nil, err
	}
	res := &Result{Due: len(members)}
	d.metrics.ObserveDueBatch(len(members))

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := d.dispatchOne(ctx, now, m, res); err != nil {
			res.Errors++
			d.metrics.IncError(metrics.ErrTypeStore)
			d.log.Warnw("dispatch failed", "member", m, "error", err)
		}
	}

	if res.Due > 0 {
		d.log.Infow("dispatch finished",
			"due", res.Due,
			"sent", res.Sent,
			"invalid", res.Invalid,
			"disabled", res.InvalidDisabled,
			"rate_limited", res.RateLimited,
			"errors", res.Errors,
			"stale", res.Stale,
		)
	}
	return res, nil
}

// dispatchOne handles one due member. A returned error means the store
// could not be read or written; delivery outcomes are counted in res.
func (d *Dispatcher) dispatchOne(ctx context.Context, now int64, member string, res *Result) error {
	fid, appFID, err := subscription.ParseMember(member)
	if err != nil {
		return d.prune(ctx, member, res, err)
	}

	sub, ok, err := d.subs.Get(ctx, fid, appFID)
	switch {
	case errors.Is(err, subscription.ErrCorruptRecord):
		d.metrics.IncError(metrics.ErrTypeCorruptRecord)
		if err := d.subs.Delete(ctx, fid, appFID); err != nil {
			return err
		}
		res.Stale++
		d.metrics.IncStalePruned()
		d.log.Warnw("corrupt subscription removed", "member", member, "error", err)
		return nil
	case err != nil:
		return err
	case !ok:
		return d.prune(ctx, member, res, nil)
	}

	began := time.Now()
	resp, sendErr := d.gateway.Send(ctx, sub.URL, Notification{
		ID:        NotificationID(sub.CadenceHours, now),
		Title:     d.cfg.Title,
		Body:      d.cfg.Body,
		TargetURL: d.cfg.TargetURL,
		Tokens:    []string{sub.Token},
	})
	outcome := Classify(resp, sendErr, sub.Token)
	d.metrics.RecordDelivery(string(outcome), time.Since(began).Seconds())
	if sendErr != nil {
		d.metrics.IncError(metrics.ErrTypeGateway)
	}

	// The record is read again for the write: an opt-out or a new token
	// registered while the gateway call was in flight wins.
	token, url := sub.Token, sub.URL
	var disabled, replaced bool
	found, err := d.subs.Update(ctx, fid, appFID, func(cur *subscription.Subscription) subscription.Action {
		disabled, replaced = false, false
		if cur.Token != token || cur.URL != url {
			replaced = true
			return subscription.ActionSkip
		}
		disabled = d.apply(cur, outcome, resp, sendErr, now)
		*sub = *cur
		if disabled {
			return subscription.ActionDelete
		}
		return subscription.ActionSave
	})
	switch {
	case err != nil:
		return err
	case !found || replaced:
		res.Stale++
		d.metrics.IncStalePruned()
		d.log.Debugw("subscription changed during delivery", "member", member, "removed", !found, "outcome", outcome)
		return nil
	case disabled:
		res.Invalid++
		res.InvalidDisabled++
		d.metrics.IncDisabled()
		d.log.Infow("subscription disabled", "member", member, "invalid_streak", sub.InvalidStreak)
		return nil
	}

	switch outcome {
	case OutcomeSent:
		res.Sent++
	case OutcomeInvalid:
		res.Invalid++
	case OutcomeRateLimited:
		res.RateLimited++
	case OutcomeError:
		res.Errors++
		d.log.Debugw("delivery failed", "member", member, "error", sub.LastError, "next_send_at", sub.NextSendAt)
	}
	return nil
}

func (d *Dispatcher) prune(ctx context.Context, member string, res *Result, cause error) error {
	if err := d.subs.PruneMember(ctx, member); err != nil {
		return err
	}
	res.Stale++
	d.metrics.IncStalePruned()
	d.log.Debugw("stale due entry pruned", "member", member, "cause", cause)
	return nil
}

// apply rewrites sub for outcome. It reports true when the subscription
// must be removed instead of saved.
func (d *Dispatcher) apply(sub *subscription.Subscription, outcome Outcome, resp *Response, sendErr error, now int64) bool {
	attempt := now
	sub.LastAttemptAt = &attempt
	sub.LastResult = string(outcome)
	sub.UpdatedAt = now
	sub.LastError = ""
	sub.LastResponse = nil
	if resp != nil {
		sub.LastResponse = resp.Raw
	}

	switch outcome {
	case OutcomeSent:
		sent := now
		sub.LastSentAt = &sent
		sub.NextSendAt = now + sub.CadenceSeconds()
		sub.InvalidStreak = 0
	case OutcomeInvalid:
		sub.InvalidStreak++
		if sub.InvalidStreak >= d.cfg.InvalidThreshold {
			return true
		}
		sub.NextSendAt = now + int64(d.cfg.InvalidRetryDelay.Seconds())
	case OutcomeRateLimited:
		sub.NextSendAt = now + int64(d.cfg.RateLimitDelay.Seconds())
	default:
		sub.NextSendAt = now + int64(d.cfg.ErrorRetryDelay.Seconds())
		sub.LastError = failureReason(resp, sendErr)
	}
	return false
}

func failureReason(resp *Response, sendErr error) string {
	switch {
	case sendErr != nil:
		return sendErr.Error()
	case resp == nil:
		return "no response"
	case !resp.OK():
		return resp.Err().Error()
	default:
		return "token not listed in gateway response"
	}
}
