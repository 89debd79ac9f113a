package speech

import (
	"strings"
	"unicode/utf8"

	"github.com/bookshelf/api/internal/model"
)

const (
	secondsPerWord  = 0.4
	lengthFactor    = 0.02
	averageWordLen  = 5
	minWordDuration = 0.2
	maxWordDuration = 1.0
)

// EstimateWordTimings returns approximate start and end offsets for each
// whitespace-separated word of text. The timings come from word length
// alone, not from the audio, and are only good enough for highlighting.
func EstimateWordTimings(text string) []model.WordTiming {
	words := strings.Fields(text)
	timings := make([]model.WordTiming, 0, len(words))

	var start float64
	for _, word := range words {
		d := wordDuration(word)
		timings = append(timings, model.WordTiming{
			Word:      word,
			StartTime: start,
			EndTime:   start + d,
		})
		start += d
	}
	return timings
}

func wordDuration(word string) float64 {
	n := utf8.RuneCountInString(word)
	d := secondsPerWord * (1 + float64(n-averageWordLen)*lengthFactor)
	if d < minWordDuration {
		return minWordDuration
	}
	if d > maxWordDuration {
		return maxWordDuration
	}
	return d
}
