package storygen

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kidsdream/api/internal/domain"
)

//go:embed corpus.yaml
var embeddedCorpus []byte

// Beat names shared by every structure.
const (
	BeatOpening     = "opening"
	BeatDevelopment = "development"
	BeatClimax      = "climax"
	BeatResolution  = "resolution"
)

// Variation pool names.
const (
	PoolCompanions     = "companions"
	PoolObstacles      = "obstacles"
	PoolDiscoveries    = "discoveries"
	PoolPlotTwists     = "plot_twists"
	PoolCharacterArcs  = "character_arcs"
	PoolAtmosphere     = "atmosphere"
	PoolTime           = "time"
	PoolWeather        = "weather"
	PoolSound          = "sound"
	PoolScent          = "scent"
	poolAtmosphereLine = "atmosphere_lines"
	poolTitles         = "titles"
	poolDetailFrames   = "detail_frames"
)

var requiredVariations = []string{
	PoolCompanions, PoolObstacles, PoolDiscoveries, PoolPlotTwists, PoolCharacterArcs,
	PoolAtmosphere, PoolTime, PoolWeather, PoolSound, PoolScent,
}

var tokenPattern = regexp.MustCompile(`\{[A-Za-z_]+\}`)

var allowedTokens = map[string]map[string]struct{}{
	"story": tokenSet(
		"{main_character}", "{setting}", "{companion}", "{obstacles}", "{discovery}",
		"{plot_twist}", "{character_arc}", "{atmosphere}", "{time}", "{weather}", "{sound}", "{scent}",
	),
	poolTitles:       tokenSet("{main_character}", "{setting}", "{Theme}"),
	poolDetailFrames: tokenSet("{main_character}", "{setting}", "{details}"),
}

func tokenSet(tokens ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Structure is a named, ordered sequence of narrative beats.
type Structure struct {
	Name  string
	Beats []string
}

// HasBeat reports whether the structure contains the named beat.
func (s Structure) HasBeat(beat string) bool {
	for _, b := range s.Beats {
		if b == beat {
			return true
		}
	}
	return false
}

type themePools struct {
	label string
	tiers map[domain.Tier]map[string][]string
}

// Corpus is the immutable template data the engine draws from. A loaded
// Corpus is never mutated and is safe for concurrent use.
type Corpus struct {
	defaultTheme    string
	themes          map[string]themePools
	sharedBeats     map[string][]string
	structures      map[domain.Tier][]Structure
	variations      map[string][]string
	atmosphereLines []string
	titles          map[domain.Tier][]string
	detailFrames    map[domain.Tier][]string
	simplify        *WordMap
	elevate         *WordMap
	sensory         *WordMap
}

type corpusDocument struct {
	DefaultTheme    string                         `yaml:"default_theme"`
	Structures      map[string][]structureDocument `yaml:"structures"`
	Variations      map[string][]string            `yaml:"variations"`
	AtmosphereLines []string                       `yaml:"atmosphere_lines"`
	SharedBeats     map[string][]string            `yaml:"shared_beats"`
	Titles          map[string][]string            `yaml:"titles"`
	DetailFrames    map[string][]string            `yaml:"detail_frames"`
	Dictionaries    dictionariesDocument           `yaml:"dictionaries"`
	Themes          map[string]themeDocument       `yaml:"themes"`
}

type structureDocument struct {
	Name  string   `yaml:"name"`
	Beats []string `yaml:"beats"`
}

type dictionariesDocument struct {
	Simplify map[string]string `yaml:"simplify"`
	Elevate  map[string]string `yaml:"elevate"`
	Sensory  map[string]string `yaml:"sensory"`
}

type themeDocument struct {
	Label   string              `yaml:"label"`
	Free    map[string][]string `yaml:"free"`
	Premium map[string][]string `yaml:"premium"`
}

var (
	defaultCorpusOnce sync.Once
	defaultCorpus     *Corpus
	defaultCorpusErr  error
)

// DefaultCorpus returns the corpus embedded in the binary, decoded once.
func DefaultCorpus() (*Corpus, error) {
	defaultCorpusOnce.Do(func() {
		defaultCorpus, defaultCorpusErr = LoadCorpus(embeddedCorpus)
	})
	return defaultCorpus, defaultCorpusErr
}

// LoadCorpusFile reads a corpus override from disk. An empty path yields the embedded corpus.
func LoadCorpusFile(path string) (*Corpus, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCorpus()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storygen: read corpus %s: %w", path, err)
	}
	return LoadCorpus(data)
}

// LoadCorpus decodes and validates YAML corpus data.
func LoadCorpus(data []byte) (*Corpus, error) {
	var doc corpusDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storygen: decode corpus: %w", err)
	}

	c := &Corpus{
		defaultTheme:    normalizeKey(doc.DefaultTheme),
		themes:          make(map[string]themePools, len(doc.Themes)),
		sharedBeats:     cleanPools(doc.SharedBeats),
		structures:      make(map[domain.Tier][]Structure, 2),
		variations:      cleanPools(doc.Variations),
		atmosphereLines: cleanPool(doc.AtmosphereLines),
		titles:          make(map[domain.Tier][]string, 2),
		detailFrames:    make(map[domain.Tier][]string, 2),
	}
	if c.defaultTheme == "" {
		c.defaultTheme = "adventure"
	}

	for name, theme := range doc.Themes {
		key := normalizeKey(name)
		label := strings.TrimSpace(theme.Label)
		if label == "" {
			label = titleCaser().String(key)
		}
		c.themes[key] = themePools{
			label: label,
			tiers: map[domain.Tier]map[string][]string{
				domain.TierFree:    cleanPools(theme.Free),
				domain.TierPremium: cleanPools(theme.Premium),
			},
		}
	}

	for tierName, structures := range doc.Structures {
		tier := domain.Tier(normalizeKey(tierName))
		for _, s := range structures {
			beats := make([]string, 0, len(s.Beats))
			for _, b := range s.Beats {
				if b = normalizeKey(b); b != "" {
					beats = append(beats, b)
				}
			}
			c.structures[tier] = append(c.structures[tier], Structure{Name: strings.TrimSpace(s.Name), Beats: beats})
		}
	}
	for tierName, pool := range doc.Titles {
		c.titles[domain.Tier(normalizeKey(tierName))] = cleanPool(pool)
	}
	for tierName, pool := range doc.DetailFrames {
		c.detailFrames[domain.Tier(normalizeKey(tierName))] = cleanPool(pool)
	}

	var err error
	if c.simplify, err = newWordMap("simplify", doc.Dictionaries.Simplify); err != nil {
		return nil, err
	}
	if c.elevate, err = newWordMap("elevate", doc.Dictionaries.Elevate); err != nil {
		return nil, err
	}
	if c.sensory, err = newWordMap("sensory", doc.Dictionaries.Sensory); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every structure beat resolves to a non-empty pool for
// every theme and tier, and that templates only use known placeholders.
func (c *Corpus) Validate() error {
	if c == nil {
		return &ConfigurationError{Reason: "corpus is nil"}
	}
	if _, ok := c.themes[c.defaultTheme]; !ok {
		return &ConfigurationError{Theme: c.defaultTheme, Reason: "default theme missing"}
	}

	for _, tier := range []domain.Tier{domain.TierFree, domain.TierPremium} {
		structures := c.structures[tier]
		if len(structures) == 0 {
			return &ConfigurationError{Pool: "structures", Tier: string(tier), Reason: "no narrative structures"}
		}
		for _, s := range structures {
			if err := validateStructure(tier, s); err != nil {
				return err
			}
		}
		if len(c.titles[tier]) == 0 {
			return emptyPool(poolTitles, "", string(tier))
		}
		if len(c.detailFrames[tier]) == 0 {
			return emptyPool(poolDetailFrames, "", string(tier))
		}
		for theme := range c.themes {
			for _, s := range structures {
				for _, beat := range s.Beats {
					if _, err := c.pool(theme, tier, beat); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, name := range requiredVariations {
		if len(c.variations[name]) == 0 {
			return emptyPool(name, "", "")
		}
	}
	if len(c.atmosphereLines) == 0 {
		return emptyPool(poolAtmosphereLine, "", string(domain.TierPremium))
	}

	for theme, pools := range c.themes {
		for tier, beats := range pools.tiers {
			for beat, templates := range beats {
				if err := checkTokens("story", templates); err != nil {
					err.Theme, err.Tier, err.Pool = theme, string(tier), beat
					return err
				}
			}
		}
	}
	for beat, templates := range c.sharedBeats {
		if err := checkTokens("story", templates); err != nil {
			err.Pool = "shared_beats." + beat
			return err
		}
	}
	if err := checkTokens("story", c.atmosphereLines); err != nil {
		err.Pool = poolAtmosphereLine
		return err
	}
	for tier, pool := range c.titles {
		if err := checkTokens(poolTitles, pool); err != nil {
			err.Pool, err.Tier = poolTitles, string(tier)
			return err
		}
	}
	for tier, pool := range c.detailFrames {
		if err := checkTokens(poolDetailFrames, pool); err != nil {
			err.Pool, err.Tier = poolDetailFrames, string(tier)
			return err
		}
	}
	return nil
}

func validateStructure(tier domain.Tier, s Structure) error {
	if s.Name == "" {
		return &ConfigurationError{Pool: "structures", Tier: string(tier), Reason: "structure without a name"}
	}
	switch tier {
	case domain.TierFree:
		if len(s.Beats) < minFreeBeats {
			return &ConfigurationError{Pool: "structures." + s.Name, Tier: string(tier), Reason: fmt.Sprintf("needs at least %d beats", minFreeBeats)}
		}
	case domain.TierPremium:
		if len(s.Beats) < minPremiumBeats {
			return &ConfigurationError{Pool: "structures." + s.Name, Tier: string(tier), Reason: fmt.Sprintf("needs at least %d beats", minPremiumBeats)}
		}
		if !s.HasBeat(BeatClimax) {
			return &ConfigurationError{Pool: "structures." + s.Name, Tier: string(tier), Reason: "premium structure requires a climax beat"}
		}
	}
	return nil
}

func checkTokens(kind string, templates []string) *ConfigurationError {
	allowed := allowedTokens[kind]
	for _, tmpl := range templates {
		for _, tok := range tokenPattern.FindAllString(tmpl, -1) {
			if _, ok := allowed[tok]; !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("unknown placeholder %s in %q", tok, truncate(tmpl, 40))}
			}
		}
		if strings.Contains(tmpl, "\n\n") {
			return &ConfigurationError{Reason: fmt.Sprintf("template spans paragraphs: %q", truncate(tmpl, 40))}
		}
	}
	return nil
}

// DefaultTheme returns the theme used when a prompt names an unknown one.
func (c *Corpus) DefaultTheme() string {
	return c.defaultTheme
}

// HasTheme reports whether the theme has its own templates.
func (c *Corpus) HasTheme(theme string) bool {
	_, ok := c.themes[normalizeKey(theme)]
	return ok
}

// ResolveTheme returns the theme key generation will actually use.
func (c *Corpus) ResolveTheme(theme string) string {
	key := normalizeKey(theme)
	if _, ok := c.themes[key]; ok {
		return key
	}
	return c.defaultTheme
}

// Themes lists the available themes sorted by key.
func (c *Corpus) Themes() []domain.ThemeSummary {
	out := make([]domain.ThemeSummary, 0, len(c.themes))
	for key, pools := range c.themes {
		out = append(out, domain.ThemeSummary{Key: key, Label: pools.label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Structures returns a copy of the narrative structures available to the tier.
func (c *Corpus) Structures(tier domain.Tier) []Structure {
	src := c.structures[tier]
	out := make([]Structure, len(src))
	for i, s := range src {
		out[i] = Structure{Name: s.Name, Beats: append([]string(nil), s.Beats...)}
	}
	return out
}

// Pool returns a copy of the templates for a theme, tier and beat. Unknown
// themes fall back to the default theme.
func (c *Corpus) Pool(theme string, tier domain.Tier, beat string) ([]string, error) {
	pool, err := c.pool(normalizeKey(theme), tier, normalizeKey(beat))
	if err != nil {
		return nil, err
	}
	return append([]string(nil), pool...), nil
}

// Variation returns a copy of the named variation pool.
func (c *Corpus) Variation(name string) ([]string, error) {
	pool, err := c.variation(name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), pool...), nil
}

// pool resolves theme, then shared premium beats, then the default theme.
// The returned slice is shared and must not be modified.
func (c *Corpus) pool(theme string, tier domain.Tier, beat string) ([]string, error) {
	if pools, ok := c.themes[theme]; ok {
		if p := pools.tiers[tier][beat]; len(p) > 0 {
			return p, nil
		}
	}
	if tier == domain.TierPremium {
		if p := c.sharedBeats[beat]; len(p) > 0 {
			return p, nil
		}
	}
	if pools, ok := c.themes[c.defaultTheme]; ok {
		if p := pools.tiers[tier][beat]; len(p) > 0 {
			return p, nil
		}
	}
	return nil, emptyPool(beat, theme, string(tier))
}

func (c *Corpus) variation(name string) ([]string, error) {
	if p := c.variations[name]; len(p) > 0 {
		return p, nil
	}
	return nil, emptyPool(name, "", "")
}

func (c *Corpus) titlePool(tier domain.Tier) ([]string, error) {
	if p := c.titles[tier]; len(p) > 0 {
		return p, nil
	}
	return nil, emptyPool(poolTitles, "", string(tier))
}

func (c *Corpus) framePool(tier domain.Tier) ([]string, error) {
	if p := c.detailFrames[tier]; len(p) > 0 {
		return p, nil
	}
	return nil, emptyPool(poolDetailFrames, "", string(tier))
}

func (c *Corpus) atmospherePool() ([]string, error) {
	if len(c.atmosphereLines) > 0 {
		return c.atmosphereLines, nil
	}
	return nil, emptyPool(poolAtmosphereLine, "", string(domain.TierPremium))
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cleanPool(pool []string) []string {
	out := make([]string, 0, len(pool))
	for _, entry := range pool {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func cleanPools(pools map[string][]string) map[string][]string {
	out := make(map[string][]string, len(pools))
	for name, pool := range pools {
		out[normalizeKey(name)] = cleanPool(pool)
	}
	return out
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n] + "..."
}
