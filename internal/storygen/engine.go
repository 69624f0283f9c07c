package storygen

import (
	"errors"

	"github.com/kidsdream/api/internal/domain"
)

// Engine turns a story prompt into a title and body. It holds no mutable
// state; every call draws from its own RandomSource.
type Engine struct {
	corpus    *Corpus
	newSource RandomSourceFactory
}

// Option customises an Engine.
type Option func(*Engine)

// WithRandomSourceFactory overrides how per-call randomness is created.
func WithRandomSourceFactory(factory RandomSourceFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.newSource = factory
		}
	}
}

// NewEngine constructs an engine over a validated corpus.
func NewEngine(corpus *Corpus, opts ...Option) (*Engine, error) {
	if corpus == nil {
		return nil, errors.New("storygen: corpus is required")
	}
	e := &Engine{corpus: corpus, newSource: NewRandomSource}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Corpus exposes the engine's template data.
func (e *Engine) Corpus() *Corpus {
	return e.corpus
}

// GenerateStoryBody produces the story text for a prompt the caller has already validated.
func (e *Engine) GenerateStoryBody(prompt domain.StoryPrompt, isPremium bool) (string, error) {
	return e.GenerateStoryBodyWith(e.newSource(), prompt, isPremium)
}

// GenerateStoryTitle produces a title independently of the body.
func (e *Engine) GenerateStoryTitle(prompt domain.StoryPrompt, isPremium bool) (string, error) {
	return e.GenerateStoryTitleWith(e.newSource(), prompt, isPremium)
}

// Generate produces a title and body from one random source.
func (e *Engine) Generate(prompt domain.StoryPrompt, isPremium bool) (domain.GeneratedStory, error) {
	return e.GenerateWith(e.newSource(), prompt, isPremium)
}

// GenerateWith is Generate with an explicit source.
func (e *Engine) GenerateWith(src RandomSource, prompt domain.StoryPrompt, isPremium bool) (domain.GeneratedStory, error) {
	body, err := e.GenerateStoryBodyWith(src, prompt, isPremium)
	if err != nil {
		return domain.GeneratedStory{}, err
	}
	title, err := e.GenerateStoryTitleWith(src, prompt, isPremium)
	if err != nil {
		return domain.GeneratedStory{}, err
	}
	return domain.GeneratedStory{Title: title, Content: body}, nil
}

// GenerateStoryBodyWith is GenerateStoryBody with an explicit source.
func (e *Engine) GenerateStoryBodyWith(src RandomSource, prompt domain.StoryPrompt, isPremium bool) (string, error) {
	if src == nil {
		src = e.newSource()
	}
	c := e.corpus
	tier := domain.TierFor(isPremium)
	theme := c.ResolveTheme(prompt.Theme)

	structure, err := c.PickNarrativeStructure(src, tier)
	if err != nil {
		return "", err
	}
	el, err := c.pickElements(src, tier)
	if err != nil {
		return "", err
	}
	text, err := c.assemble(src, theme, tier, structure, el)
	if err != nil {
		return "", err
	}

	// Word transforms and sentence splitting see only template text.
	text = c.transformWords(text, prompt.AgeGroup, tier)
	if prompt.AgeGroup == domain.AgeGroupPreschool {
		text = Densify(text)
	}
	return c.injectDetails(src, text, prompt, tier)
}

// GenerateStoryTitleWith is GenerateStoryTitle with an explicit source.
func (e *Engine) GenerateStoryTitleWith(src RandomSource, prompt domain.StoryPrompt, isPremium bool) (string, error) {
	if src == nil {
		src = e.newSource()
	}
	return e.corpus.title(src, prompt, domain.TierFor(isPremium))
}
