package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

// replayRecord is one line of a recorded track
type replayRecord struct {
	pkg.LocationFix
	Kind pkg.ProviderKind `json:"kind,omitempty"`
}

// ReplaySource plays back a recorded JSON-lines track. Lines without a kind are
// delivered as network fixes, matching how most recorded tracks were captured.
type ReplaySource struct {
	records  []replayRecord
	handlers *handlerSet
}

// LoadReplay parses a track; blank lines and lines starting with # are skipped
func LoadReplay(r io.Reader) (*ReplaySource, error) {
	src := &ReplaySource{handlers: newHandlerSet()}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var rec replayRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Kind == "" {
			rec.Kind = pkg.ProviderNetwork
		}
		if rec.Provider == "" {
			rec.Provider = string(rec.Kind)
		}
		if err := ValidateFix(rec.LocationFix); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		src.records = append(src.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}
	return src, nil
}

// Len returns the number of fixes in the track
func (s *ReplaySource) Len() int {
	return len(s.records)
}

func (s *ReplaySource) Subscribe(kind pkg.ProviderKind, handler FixHandler) (Subscription, error) {
	return s.handlers.add(kind, handler), nil
}

func (s *ReplaySource) Unsubscribe(sub Subscription) error {
	_, err := s.handlers.remove(sub)
	return err
}

// Replay delivers the track in order. With speed > 0 the gaps between fix
// timestamps are reproduced, divided by speed; otherwise fixes go out back to back.
// It returns the number of fixes some subscriber received.
func (s *ReplaySource) Replay(ctx context.Context, speed float64) (int, error) {
	delivered := 0
	for i, rec := range s.records {
		if speed > 0 && i > 0 {
			gap := time.Duration(float64(rec.Timestamp-s.records[i-1].Timestamp)/speed) * time.Millisecond
			if gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return delivered, ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if s.handlers.dispatch(rec.Kind, rec.LocationFix) > 0 {
			delivered++
		}
	}
	return delivered, nil
}
