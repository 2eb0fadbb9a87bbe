package tryout

import (
	"strconv"
	"strings"

	"scholarify/internal/question"
)

// ResolveStats counts how raw entries were handled. Diagnostics only; scoring
// never reads it.
type ResolveStats struct {
	MatchedDirect       int `json:"matched_direct"`
	MatchedIndex        int `json:"matched_index"`
	SkippedInvalidValue int `json:"skipped_invalid_value"`
	SkippedUnresolvable int `json:"skipped_unresolvable"`
}

func (s ResolveStats) Skipped() int {
	return s.SkippedInvalidValue + s.SkippedUnresolvable
}

// AnswerEntry is one raw key/letter pair of a submitted answer sheet.
type AnswerEntry struct {
	Key   string
	Value string
}

// AnswerSheet holds the entries in the order the client sent them.
type AnswerSheet []AnswerEntry

// Get returns the last value sent under key.
func (s AnswerSheet) Get(key string) (string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Key == key {
			return s[i].Value, true
		}
	}
	return "", false
}

// ResolveAnswers maps a client answer sheet onto question ids of the given
// ordered bank. Keys may be question ids or zero-based positions; an id
// match always wins over a positional one. Entries are applied in sheet
// order, so when two keys land on the same question the later entry wins.
func ResolveAnswers(raw AnswerSheet, questions []question.Question) (map[int64]string, ResolveStats) {
	var stats ResolveStats
	resolved := make(map[int64]string, len(raw))
	if len(raw) == 0 {
		return resolved, stats
	}

	byID := make(map[string]int64, len(questions))
	ids := make(map[int64]struct{}, len(questions))
	for _, q := range questions {
		byID[strconv.FormatInt(q.ID, 10)] = q.ID
		ids[q.ID] = struct{}{}
	}

	for _, e := range raw {
		letter, ok := question.NormalizeLetter(e.Value)
		if !ok {
			stats.SkippedInvalidValue++
			continue
		}
		key := strings.TrimSpace(e.Key)

		if id, ok := byID[key]; ok {
			resolved[id] = letter
			stats.MatchedDirect++
			continue
		}
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			stats.SkippedUnresolvable++
			continue
		}
		if _, ok := ids[n]; ok {
			resolved[n] = letter
			stats.MatchedDirect++
			continue
		}
		if n >= 0 && n < int64(len(questions)) {
			resolved[questions[n].ID] = letter
			stats.MatchedIndex++
			continue
		}
		stats.SkippedUnresolvable++
	}
	return resolved, stats
}
