package events

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestSource(t *testing.T) (*miniredis.Miniredis, *RedisEventSource) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return s, NewRedisEventSource(rdb, "", "")
}

func TestGetPendingDrainsAll(t *testing.T) {
	s, src := setupTestSource(t)
	defer s.Close()
	ctx := context.Background()

	if err := src.Publish(ctx, Event{Tag: "salt/job/20170101000000000001/new"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := src.Publish(ctx, Event{Tag: "salt/run/20170101000000000002/ret"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	pending, err := src.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}

	// Second call returns the finite empty snapshot.
	pending, err = src.GetPending(ctx)
	if err != nil {
		t.Fatalf("GetPending (2nd) failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(pending))
	}
}

func TestParseMatchesJobAndRunReturns(t *testing.T) {
	p := NewProcessor()
	jidMap := map[string]JidEntry{
		"20170101000000000001": {RequestID: "rid1", Queue: "foo"},
		"20170101000000000002": {RequestID: "rid2", Queue: "bar"},
	}

	evts := []Event{
		{Tag: "salt/job/20170101000000000001/ret/minion1.local"},
		{Tag: "salt/run/20170101000000000002/ret"},
		{Tag: "salt/job/20170101000000000001/new"},           // ignored: not /ret
		{Tag: "salt/job/99999999999999999999/ret"},            // ignored: not in jidMap
		{Tag: "some/other/namespace"},                          // ignored: no match
	}

	got := p.Parse(evts, jidMap)
	if len(got) != 2 {
		t.Fatalf("expected 2 completions, got %d: %+v", len(got), got)
	}
	if got[0].RequestID != "rid1" || got[0].Queue != "foo" || got[0].Jid != "20170101000000000001" {
		t.Fatalf("unexpected first completion: %+v", got[0])
	}
	if got[1].RequestID != "rid2" || got[1].Queue != "bar" {
		t.Fatalf("unexpected second completion: %+v", got[1])
	}
}

func TestParseIgnoresUnknownJid(t *testing.T) {
	p := NewProcessor()
	got := p.Parse([]Event{{Tag: "salt/run/20170101000000000009/ret"}}, map[string]JidEntry{})
	if len(got) != 0 {
		t.Fatalf("expected no completions for untracked jid, got %+v", got)
	}
}
