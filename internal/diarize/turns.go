package diarize

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Turn is a maximal contiguous run of same-speaker segments.
type Turn struct {
	SpeakerID string
	Start     float64
	End       float64
}

// Duration returns the turn length in seconds.
func (t Turn) Duration() float64 {
	return t.End - t.Start
}

// GroupIntoTurns sorts segments by start time and merges consecutive
// same-speaker segments into single turns. Same-speaker segments separated
// by an intervening different speaker stay separate turns.
func GroupIntoTurns(segments []Segment) []Turn {
	if len(segments) == 0 {
		return nil
	}
	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var turns []Turn
	for _, seg := range sorted {
		if n := len(turns); n > 0 && turns[n-1].SpeakerID == seg.SpeakerID {
			if seg.Start < turns[n-1].Start {
				turns[n-1].Start = seg.Start
			}
			if seg.End > turns[n-1].End {
				turns[n-1].End = seg.End
			}
			continue
		}
		turns = append(turns, Turn{SpeakerID: seg.SpeakerID, Start: seg.Start, End: seg.End})
	}
	return turns
}

// LabeledTurn pairs a turn with its apportioned slice of the transcript.
type LabeledTurn struct {
	Turn
	SpeakerName string
	Text        string
}

// LabelTurns apportions the transcript's words across turns proportionally
// by turn duration. Word-level timestamps are unavailable, so this is a
// deliberate approximation: every turn except the last gets
// max(1, round(words * duration/total)) words from the front of the
// remaining word list, and the last turn absorbs the rest, conserving the
// exact word count. With a single turn the transcript passes through whole.
func LabelTurns(turns []Turn, names map[string]string, transcript string) []LabeledTurn {
	if len(turns) == 0 {
		return nil
	}
	nameOf := func(id string) string {
		if name, ok := names[id]; ok && name != "" {
			return name
		}
		return id
	}

	if len(turns) == 1 {
		return []LabeledTurn{{Turn: turns[0], SpeakerName: nameOf(turns[0].SpeakerID), Text: transcript}}
	}

	words := strings.Fields(transcript)
	var total float64
	for _, t := range turns {
		total += t.Duration()
	}

	labeled := make([]LabeledTurn, 0, len(turns))
	remaining := words
	for i, t := range turns {
		var take int
		if i == len(turns)-1 {
			take = len(remaining)
		} else {
			if total > 0 {
				take = int(math.Round(float64(len(words)) * t.Duration() / total))
			}
			if take < 1 {
				take = 1
			}
			if take > len(remaining) {
				take = len(remaining)
			}
		}
		labeled = append(labeled, LabeledTurn{
			Turn:        t,
			SpeakerName: nameOf(t.SpeakerID),
			Text:        strings.Join(remaining[:take], " "),
		})
		remaining = remaining[take:]
	}
	return labeled
}

// LabelText renders labeled turns as speaker-prefixed lines. A single turn
// returns the transcript unchanged, with no speaker label.
func LabelText(turns []Turn, names map[string]string, transcript string) string {
	labeled := LabelTurns(turns, names, transcript)
	if len(labeled) == 0 {
		return transcript
	}
	if len(labeled) == 1 {
		return labeled[0].Text
	}
	lines := make([]string, 0, len(labeled))
	for _, lt := range labeled {
		lines = append(lines, fmt.Sprintf("[%s]: %s", lt.SpeakerName, lt.Text))
	}
	return strings.Join(lines, "\n")
}
