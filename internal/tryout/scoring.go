package tryout

import (
	"strings"

	"scholarify/internal/question"
)

const maxScoreHundredths = 100 * 100

// Tally is the derived part of a result. It is always recomputable from the
// stored answer map and the current question bank.
type Tally struct {
	Correct   int
	Incorrect int
	Blank     int
	// Hundredths of a percent, 0..10000.
	ScoreHundredths int
}

func (t Tally) Total() int {
	return t.Correct + t.Incorrect + t.Blank
}

// Score is the percentage with two decimals.
func (t Tally) Score() float64 {
	return float64(t.ScoreHundredths) / 100
}

// ScoreAnswers grades answers against the bank. Every question lands in
// exactly one bucket, so the counts always sum to len(questions).
func ScoreAnswers(answers map[int64]string, questions []question.Question) Tally {
	var t Tally
	if len(questions) == 0 {
		return t
	}
	for _, q := range questions {
		given := strings.ToUpper(strings.TrimSpace(answers[q.ID]))
		switch {
		case given == "":
			t.Blank++
		case given == strings.ToUpper(strings.TrimSpace(q.CorrectAnswer)):
			t.Correct++
		default:
			t.Incorrect++
		}
	}
	t.ScoreHundredths = percentHundredths(t.Correct, len(questions))
	return t
}

// percentHundredths returns round_half_up(correct/total*100, 2) scaled by 100,
// computed on integers.
func percentHundredths(correct, total int) int {
	if total <= 0 {
		return 0
	}
	v := (2*correct*maxScoreHundredths + total) / (2 * total)
	if v < 0 {
		return 0
	}
	if v > maxScoreHundredths {
		return maxScoreHundredths
	}
	return v
}
