package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultCadenceHours is used when no cadence is configured.
const DefaultCadenceHours = 12

var (
	ErrInvalidCadence = errors.New("cadence must be 1, 6 or 12 hours")
	ErrInvalidMember  = errors.New("invalid due-index member")
	ErrCorruptRecord  = errors.New("corrupt subscription record")
)

// Subscription is the delivery state of one (fid, appFid) pair. Optional
// fields are nil or empty until the first attempt sets them.
type Subscription struct {
	FID           int64           `json:"fid"`
	AppFID        int64           `json:"appFid"`
	URL           string          `json:"url"`
	Token         string          `json:"token"`
	CadenceHours  int             `json:"cadenceHours"`
	NextSendAt    int64           `json:"nextSendAt"`
	LastSentAt    *int64          `json:"lastSentAt,omitempty"`
	LastAttemptAt *int64          `json:"lastAttemptAt,omitempty"`
	InvalidStreak int             `json:"invalidStreak"`
	LastResult    string          `json:"lastResult,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	LastResponse  json.RawMessage `json:"lastResponse,omitempty"`
	CreatedAt     int64           `json:"createdAt,omitempty"`
	UpdatedAt     int64           `json:"updatedAt,omitempty"`
}

// Member returns the due-index member of s.
func (s *Subscription) Member() string {
	return Member(s.FID, s.AppFID)
}

// CadenceSeconds returns the delivery cadence in seconds.
func (s *Subscription) CadenceSeconds() int64 {
	return int64(s.CadenceHours) * 3600
}

// Member builds the due-index member for (fid, appFid).
func Member(fid, appFID int64) string {
	return strconv.FormatInt(fid, 10) + ":" + strconv.FormatInt(appFID, 10)
}

// ParseMember splits a due-index member into (fid, appFid).
func ParseMember(m string) (fid, appFID int64, err error) {
	a, b, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMember, m)
	}
	fid, err = strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidMember, m, err)
	}
	appFID, err = strconv.ParseInt(b, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidMember, m, err)
	}
	return fid, appFID, nil
}

// ValidCadence reports whether h is a supported cadence.
func ValidCadence(h int) bool {
	return h == 1 || h == 6 || h == 12
}

// ParseCadence parses a cadence in hours.
func ParseCadence(s string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !ValidCadence(h) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCadence, s)
	}
	return h, nil
}

// decode parses a stored record and normalizes fields that drifted over
// time. Records missing the fields needed for delivery are corrupt.
func decode(raw []byte, defaultCadence int) (*Subscription, error) {
	var s Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if s.URL == "" || s.Token == "" {
		return nil, fmt.Errorf("%w: missing url or token", ErrCorruptRecord)
	}
	if !ValidCadence(s.CadenceHours) {
		s.CadenceHours = defaultCadence
	}
	if s.InvalidStreak < 0 {
		s.InvalidStreak = 0
	}
	return &s, nil
}
