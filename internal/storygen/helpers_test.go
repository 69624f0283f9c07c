package storygen

import (
	"strings"
	"testing"
)

// fixedSource always answers with the same index, including out of range ones.
type fixedSource struct {
	value int
}

func (s fixedSource) PickIndex(int) int { return s.value }

// sequenceSource replays values in order and then repeats the last one.
type sequenceSource struct {
	values []int
	pos    int
}

func (s *sequenceSource) PickIndex(n int) int {
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[len(s.values)-1]
	if s.pos < len(s.values) {
		v = s.values[s.pos]
		s.pos++
	}
	return v
}

// countingSource wraps a source and counts draws.
type countingSource struct {
	inner RandomSource
	calls int
}

func (s *countingSource) PickIndex(n int) int {
	s.calls++
	return s.inner.PickIndex(n)
}

const markerCorpus = `
default_theme: adventure
structures:
  free:
    - name: classic
      beats: [opening, development, resolution]
  premium:
    - name: arc
      beats: [opening, call, climax, resolution]
variations:
  companions: ["a fox"]
  obstacles: ["a river", "a hill", "a wall", "a gate"]
  discoveries: ["a shell"]
  plot_twists: ["the fox was kind"]
  character_arcs: ["learned to share"]
  atmosphere: ["the air was still"]
  time: ["at dawn"]
  weather: ["it was calm"]
  sound: ["birds"]
  scent: ["pine"]
atmosphere_lines:
  - "PREMIUM-ATMOSPHERE at {time}."
shared_beats:
  call:
    - "PREMIUM-CALL for {main_character}."
titles:
  free: ["FREE-TITLE {main_character} {Theme}"]
  premium: ["PREMIUM-TITLE {main_character} {Theme}"]
detail_frames:
  free: ["FREE-FRAME {details}."]
  premium: ["PREMIUM-FRAME {details}"]
dictionaries:
  simplify: {enormous: "huge"}
  elevate: {happy: "elated"}
  sensory: {walked: "walked gracefully"}
themes:
  adventure:
    label: Adventure
    free:
      opening: ["FREE-OPENING {main_character} in {setting}. It was a start."]
      development: ["FREE-DEVELOPMENT past {obstacles}. Then more."]
      resolution: ["FREE-RESOLUTION in {setting}. The end."]
    premium:
      opening: ["PREMIUM-OPENING {main_character} in {setting}. It was a start."]
      climax: ["PREMIUM-CLIMAX because {plot_twist}. Wow."]
      resolution: ["PREMIUM-RESOLUTION {main_character} {character_arc}. The end."]
`

func mustDefaultCorpus(t *testing.T) *Corpus {
	t.Helper()
	c, err := DefaultCorpus()
	if err != nil {
		t.Fatalf("load default corpus: %v", err)
	}
	return c
}

func mustLoadCorpus(t *testing.T, data string) *Corpus {
	t.Helper()
	c, err := LoadCorpus([]byte(data))
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	return c
}

func mustEngine(t *testing.T, c *Corpus) *Engine {
	t.Helper()
	e, err := NewEngine(c)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func paragraphCount(text string) int {
	count := 0
	for _, p := range strings.Split(text, paragraphBreak) {
		if strings.TrimSpace(p) != "" {
			count++
		}
	}
	return count
}
