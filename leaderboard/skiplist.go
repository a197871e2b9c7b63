package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"playkit/core"
)

// skipList orders entries by (score, user) with O(log n) moves. Every
// forward link carries its span so ranks resolve in O(log n) too. It is not
// safe for concurrent use; Service guards it.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

type skipList struct {
	head   *node
	lvl    int
	length int
	byUser map[core.UserID]*node
	rng    *rand.Rand
	before func(a, b Entry) bool
}

func newSkipList(ascending bool) *skipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	s := &skipList{
		head:   &node{},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
		before: descending,
	}
	if ascending {
		s.before = ascendingOrder
	}
	return s
}

func descending(a, b Entry) bool {
	if a.Score == b.Score {
		return a.UserID < b.UserID
	}
	return a.Score > b.Score
}

func ascendingOrder(a, b Entry) bool {
	if a.Score == b.Score {
		return a.UserID < b.UserID
	}
	return a.Score < b.Score
}

func (s *skipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

// upsert inserts e, replacing any entry of the same user.
func (s *skipList) upsert(e Entry) {
	if old, ok := s.byUser[e.UserID]; ok {
		s.delete(old.e)
	}
	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && s.before(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.byUser[e.UserID] = n
	s.length++
}

func (s *skipList) delete(e Entry) bool {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && s.before(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.UserID != e.UserID {
		return false
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	delete(s.byUser, e.UserID)
	s.length--
	return true
}

// rank returns the 1-based position of user, or 0 if absent.
func (s *skipList) rank(user core.UserID) int {
	n, ok := s.byUser[user]
	if !ok {
		return 0
	}
	r := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && (cur.next[i] == n || s.before(cur.next[i].e, n.e)) {
			r += cur.span[i]
			cur = cur.next[i]
		}
		if cur == n {
			return r
		}
	}
	return 0
}

// byRank returns the node at 1-based position r.
func (s *skipList) byRank(r int) *node {
	if r < 1 || r > s.length {
		return nil
	}
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= r {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == r {
			return cur
		}
	}
	return nil
}

// slice returns entries ranked from..to inclusive with Rank filled in.
func (s *skipList) slice(from, to int) []Entry {
	from = max(from, 1)
	to = min(to, s.length)
	if from > to {
		return nil
	}
	out := make([]Entry, 0, to-from+1)
	cur := s.byRank(from)
	for r := from; r <= to && cur != nil; r++ {
		e := cur.e
		e.Rank = r
		out = append(out, e)
		cur = cur.next[0]
	}
	return out
}

func (s *skipList) get(user core.UserID) (Entry, bool) {
	n, ok := s.byUser[user]
	if !ok {
		return Entry{}, false
	}
	return n.e, true
}
