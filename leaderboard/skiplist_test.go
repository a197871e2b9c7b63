package leaderboard

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"playkit/core"
)

func TestSkipListOrder(t *testing.T) {
	s := newSkipList(false)
	s.upsert(Entry{UserID: "a", Score: 10})
	s.upsert(Entry{UserID: "b", Score: 20})
	s.upsert(Entry{UserID: "c", Score: 15})
	top := s.slice(1, 3)
	if len(top) != 3 || top[0].UserID != "b" || top[1].UserID != "c" || top[2].UserID != "a" {
		t.Fatalf("unexpected order: %#v", top)
	}
	s.upsert(Entry{UserID: "a", Score: 25})
	if r := s.rank("a"); r != 1 {
		t.Fatalf("a should rank first, got %d", r)
	}
	if s.length != 3 {
		t.Fatalf("length = %d, want 3", s.length)
	}
}

func TestSkipListTiesBreakByUser(t *testing.T) {
	s := newSkipList(false)
	s.upsert(Entry{UserID: "zed", Score: 5})
	s.upsert(Entry{UserID: "amy", Score: 5})
	if got := s.slice(1, 2); got[0].UserID != "amy" {
		t.Fatalf("tie should order by user id, got %#v", got)
	}
}

func TestSkipListAscending(t *testing.T) {
	s := newSkipList(true)
	s.upsert(Entry{UserID: "a", Score: 30})
	s.upsert(Entry{UserID: "b", Score: 10})
	if s.rank("b") != 1 {
		t.Fatalf("lowest score should rank first in ascending mode")
	}
}

// Randomised check of spans against a sorted slice.
func TestSkipListRanksMatchSort(t *testing.T) {
	s := newSkipList(false)
	rng := rand.New(rand.NewPCG(1, 2))
	scores := map[core.UserID]int64{}
	for i := 0; i < 2000; i++ {
		u := core.UserID(fmt.Sprintf("u%03d", rng.IntN(300)))
		if rng.IntN(5) == 0 {
			if e, ok := s.get(u); ok {
				s.delete(e)
				delete(scores, u)
			}
			continue
		}
		sc := rng.Int64N(100)
		s.upsert(Entry{UserID: u, Score: sc})
		scores[u] = sc
	}

	want := make([]Entry, 0, len(scores))
	for u, sc := range scores {
		want = append(want, Entry{UserID: u, Score: sc})
	}
	sort.Slice(want, func(i, j int) bool { return descending(want[i], want[j]) })

	if s.length != len(want) {
		t.Fatalf("length = %d, want %d", s.length, len(want))
	}
	for i, e := range want {
		if r := s.rank(e.UserID); r != i+1 {
			t.Fatalf("rank(%s) = %d, want %d", e.UserID, r, i+1)
		}
		if n := s.byRank(i + 1); n == nil || n.e.UserID != e.UserID {
			t.Fatalf("byRank(%d) mismatch", i+1)
		}
	}
	if s.byRank(0) != nil || s.byRank(len(want)+1) != nil {
		t.Fatalf("out of range ranks should be nil")
	}
}
