package app

import "trivia-room-service/internal/domain"

var fallbackPack = []domain.Question{
	{
		ID:           "fallback-easy-1",
		Text:         "What is 2 + 2?",
		Options:      []string{"3", "4", "5", "22"},
		CorrectIndex: 1,
		Category:     "math",
		Difficulty:   domain.DifficultyEasy,
	},
	{
		ID:           "fallback-easy-2",
		Text:         "Which planet is known as the Red Planet?",
		Options:      []string{"Venus", "Jupiter", "Mars", "Mercury"},
		CorrectIndex: 2,
		Category:     "science",
		Difficulty:   domain.DifficultyEasy,
	},
	{
		ID:           "fallback-medium-1",
		Text:         "Which gas makes up most of Earth's atmosphere?",
		Options:      []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Argon"},
		CorrectIndex: 1,
		Category:     "science",
		Difficulty:   domain.DifficultyMedium,
		Explanation:  "Nitrogen is roughly 78% of dry air by volume.",
	},
	{
		ID:           "fallback-medium-2",
		Text:         "In which year did the Berlin Wall fall?",
		Options:      []string{"1987", "1989", "1991", "1993"},
		CorrectIndex: 1,
		Category:     "history",
		Difficulty:   domain.DifficultyMedium,
	},
	{
		ID:           "fallback-hard-1",
		Text:         "What is the smallest prime number greater than 100?",
		Options:      []string{"101", "103", "107", "109"},
		CorrectIndex: 0,
		Category:     "math",
		Difficulty:   domain.DifficultyHard,
	},
	{
		ID:           "fallback-hard-2",
		Text:         "Which element has the chemical symbol W?",
		Options:      []string{"Wolframite", "Tungsten", "Vanadium", "Osmium"},
		CorrectIndex: 1,
		Category:     "science",
		Difficulty:   domain.DifficultyHard,
		Explanation:  "W comes from wolfram, the older name of tungsten.",
	},
}

// FallbackQuestions returns the built-in pack for a tier, or the whole pack
// when the tier has no entries, so a set never starts empty.
func FallbackQuestions(d domain.Difficulty) []domain.Question {
	out := make([]domain.Question, 0, len(fallbackPack))
	for _, q := range fallbackPack {
		if q.Difficulty == d {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		out = append(out, fallbackPack...)
	}
	return out
}
