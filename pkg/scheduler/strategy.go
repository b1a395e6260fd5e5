package scheduler

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Candidate is a worker eligible for a placement.
type Candidate struct {
	ID   string
	Load float64
}

// Strategy picks one worker from a non-empty, ID-sorted candidate list.
type Strategy interface {
	Pick(candidates []Candidate) string
}

const (
	LastUsed     = "last-used"
	LeastUsed    = "least-used"
	MostUsed     = "most-used"
	RoundRobin   = "round-robin"
	RandomlyPick = "randomly-pick"
)

// NewStrategy returns a fresh strategy instance for name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case LastUsed:
		return &lastUsed{}, nil
	case LeastUsed:
		return leastUsed{}, nil
	case MostUsed:
		return mostUsed{}, nil
	case RoundRobin:
		return &roundRobin{}, nil
	case RandomlyPick:
		return randomlyPick{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	names := []string{LastUsed, LeastUsed, MostUsed, RoundRobin, RandomlyPick}
	sort.Strings(names)
	return names
}

// lastUsed sticks with the previously picked worker while it stays eligible.
type lastUsed struct {
	mu   sync.Mutex
	last string
}

func (s *lastUsed) Pick(candidates []Candidate) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		if c.ID == s.last {
			return c.ID
		}
	}
	s.last = candidates[len(candidates)-1].ID
	return s.last
}

type leastUsed struct{}

func (leastUsed) Pick(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Load < best.Load {
			best = c
		}
	}
	return best.ID
}

type mostUsed struct{}

func (mostUsed) Pick(candidates []Candidate) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Load > best.Load {
			best = c
		}
	}
	return best.ID
}

type roundRobin struct {
	mu   sync.Mutex
	next int
}

func (s *roundRobin) Pick(candidates []Candidate) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := candidates[s.next%len(candidates)].ID
	s.next++
	return id
}

type randomlyPick struct{}

func (randomlyPick) Pick(candidates []Candidate) string {
	return candidates[rand.Intn(len(candidates))].ID
}
