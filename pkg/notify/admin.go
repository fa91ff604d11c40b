package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
)

// TokenCounts summarizes a gateway answer for one token.
type TokenCounts struct {
	Successful          int  `json:"successful"`
	Invalid             int  `json:"invalid"`
	RateLimited         int  `json:"rateLimited"`
	TokenWasSuccessful  bool `json:"tokenWasSuccessful"`
	TokenWasInvalid     bool `json:"tokenWasInvalid"`
	TokenWasRateLimited bool `json:"tokenWasRateLimited"`
}

// TestResult is the outcome of SendTest.
type TestResult struct {
	OK     bool            `json:"ok"`
	Member string          `json:"member"`
	Status int             `json:"status"`
	Parsed TokenCounts     `json:"parsed"`
	Raw    json.RawMessage `json:"raw"`
}

// SendTest sends one test notification with a random id to member, or to
// the subscription due soonest when member is empty. The record is not
// updated.
func (d *Dispatcher) SendTest(ctx context.Context, member string) (*TestResult, error) {
	if member == "" {
		soonest, ok, err := d.subs.Soonest(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoSubscriptions
		}
		member = soonest.Member
	}

	fid, appFID, err := subscription.ParseMember(member)
	if err != nil {
		return nil, err
	}
	sub, ok, err := d.subs.Get(ctx, fid, appFID)
	switch {
	case errors.Is(err, subscription.ErrCorruptRecord):
		return nil, fmt.Errorf("%w: %w", ErrSubscriptionNotFound, err)
	case err != nil:
		return nil, err
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, member)
	}

	resp, err := d.gateway.Send(ctx, sub.URL, Notification{
		ID:        d.newID(),
		Title:     testTitle,
		Body:      testBody,
		TargetURL: d.cfg.TargetURL,
		Tokens:    []string{sub.Token},
	})
	if err != nil {
		return nil, err
	}

	d.log.Infow("test notification sent", "member", member, "status", resp.StatusCode)
	return &TestResult{
		OK:     resp.OK(),
		Member: member,
		Status: resp.StatusCode,
		Parsed: TokenCounts{
			Successful:          len(resp.Successful),
			Invalid:             len(resp.Invalid),
			RateLimited:         len(resp.RateLimited),
			TokenWasSuccessful:  slices.Contains(resp.Successful, sub.Token),
			TokenWasInvalid:     slices.Contains(resp.Invalid, sub.Token),
			TokenWasRateLimited: slices.Contains(resp.RateLimited, sub.Token),
		},
		Raw: resp.Raw,
	}, nil
}

// RescheduleResult is the outcome of Reschedule.
type RescheduleResult struct {
	Updated int `json:"updated"`
	Missing int `json:"missing"`
	Total   int `json:"total"`
	Hours   int `json:"hours"`
}

// Reschedule sets the cadence of member, or of every scheduled subscription
// when member is empty, and moves the next delivery to now plus the new
// cadence. Members without a readable record are counted as missing.
func (d *Dispatcher) Reschedule(ctx context.Context, hours int, member string, now int64) (*RescheduleResult, error) {
	if !subscription.ValidCadence(hours) {
		return nil, fmt.Errorf("%w: %d", subscription.ErrInvalidCadence, hours)
	}

	members := []string{member}
	if member == "" {
		var err error
		if members, err = d.subs.Members(ctx); err != nil {
			return nil, err
		}
	}

	res := &RescheduleResult{Total: len(members), Hours: hours}
	for _, m := range members {
		fid, appFID, err := subscription.ParseMember(m)
		if err != nil {
			d.log.Debugw("skipping unparsable member", "member", m)
			continue
		}
		found, err := d.subs.Update(ctx, fid, appFID, func(sub *subscription.Subscription) subscription.Action {
			sub.CadenceHours = hours
			sub.NextSendAt = now + sub.CadenceSeconds()
			sub.UpdatedAt = now
			return subscription.ActionSave
		})
		if err != nil && !errors.Is(err, subscription.ErrCorruptRecord) {
			return res, err
		}
		if !found || err != nil {
			res.Missing++
			continue
		}
		res.Updated++
	}

	d.log.Infow("subscriptions rescheduled", "hours", hours, "updated", res.Updated, "missing", res.Missing)
	return res, nil
}
