package badges

import (
	"context"
	"sync"

	"trivia-room-service/internal/domain"
)

const (
	FirstWin   = "first_win"
	Streak3    = "streak_3"
	Streak5    = "streak_5"
	Streak10   = "streak_10"
	Points1000 = "points_1000"
	HardWin    = "hard_win"
	Flawless   = "flawless"
)

var names = map[string]string{
	FirstWin:   "First Blood",
	Streak3:    "Hat Trick",
	Streak5:    "On Fire",
	Streak10:   "Unstoppable",
	Points1000: "Thousandaire",
	HardWin:    "Brainiac",
	Flawless:   "Flawless",
}

// Rule decides whether a badge is earned by the answer described in bc.
type Rule struct {
	ID string
	// Once rules are awarded at most one time per user.
	Once  bool
	Match func(stats domain.PlayerStats, bc domain.BadgeContext) bool
}

// DefaultRules are the stock achievements.
func DefaultRules() []Rule {
	return []Rule{
		{ID: FirstWin, Once: true, Match: func(s domain.PlayerStats, bc domain.BadgeContext) bool {
			return bc.Points > 0 && s.Correct == 1
		}},
		{ID: Streak3, Match: streak(3)},
		{ID: Streak5, Match: streak(5)},
		{ID: Streak10, Match: streak(10)},
		{ID: Points1000, Once: true, Match: func(s domain.PlayerStats, bc domain.BadgeContext) bool {
			return s.Points >= 1000 && s.Points-bc.Points < 1000
		}},
		{ID: HardWin, Once: true, Match: func(_ domain.PlayerStats, bc domain.BadgeContext) bool {
			return bc.Points > 0 && bc.Difficulty == domain.DifficultyHard
		}},
		{ID: Flawless, Once: true, Match: func(_ domain.PlayerStats, bc domain.BadgeContext) bool {
			return bc.Points > 0 && bc.WrongGuesses == 0 && bc.Consecutive >= 3
		}},
	}
}

// streak matches only on the answer that reaches n, so a longer run does not
// re-award the same badge.
func streak(n int) func(domain.PlayerStats, domain.BadgeContext) bool {
	return func(_ domain.PlayerStats, bc domain.BadgeContext) bool {
		return bc.Consecutive == n
	}
}

// Evaluator applies rules and remembers one-time badges per user.
type Evaluator struct {
	rules []Rule

	mu      sync.Mutex
	awarded map[string]map[string]struct{}
}

func NewEvaluator(rules ...Rule) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules, awarded: make(map[string]map[string]struct{})}
}

func (e *Evaluator) Evaluate(_ context.Context, stats domain.PlayerStats, bc domain.BadgeContext) ([]domain.Badge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.Badge
	for _, r := range e.rules {
		if !r.Match(stats, bc) {
			continue
		}
		if r.Once {
			got := e.awarded[stats.UserID]
			if _, seen := got[r.ID]; seen {
				continue
			}
			if got == nil {
				got = make(map[string]struct{})
				e.awarded[stats.UserID] = got
			}
			got[r.ID] = struct{}{}
		}
		out = append(out, domain.Badge{ID: r.ID, Name: Name(r.ID)})
	}
	return out, nil
}

// Name returns the display name of a badge id.
func Name(id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}
