package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/schema"
)

// Step is one scripted port response. Exactly one of the payload fields,
// Error or SchemaError is expected; an empty step falls through to the stub.
type Step struct {
	Draft       *content.Draft        `yaml:"draft,omitempty"`
	Review      *content.ReviewResult `yaml:"review,omitempty"`
	Tags        *content.TagSet       `yaml:"tags,omitempty"`
	Error       string                `yaml:"error,omitempty"`
	SchemaError string                `yaml:"schema_error,omitempty"`
	Delay       time.Duration         `yaml:"delay,omitempty"`
}

// Script lists the responses each port returns in call order. When a list
// runs out its last step repeats.
type Script struct {
	Generate []Step `yaml:"generate"`
	Review   []Step `yaml:"review"`
	Refine   []Step `yaml:"refine"`
	Tag      []Step `yaml:"tag"`
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return &s, nil
}

// Scripted replays a Script. Ports without a script, and empty steps, fall
// back to the deterministic Stub. Safe for concurrent use; calls from
// concurrent runs share one cursor per port.
type Scripted struct {
	mu     sync.Mutex
	script Script
	calls  map[Kind]int
	stub   *Stub
}

// NewScripted creates a scripted port set.
func NewScripted(s *Script) *Scripted {
	return &Scripted{script: *s, calls: make(map[Kind]int), stub: NewStub()}
}

// Calls returns how many times the port of kind has been invoked.
func (p *Scripted) Calls(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[kind]
}

func (p *Scripted) next(kind Kind, steps []Step) (Step, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[kind]
	p.calls[kind] = n + 1
	if len(steps) == 0 {
		return Step{}, false
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	return steps[n], true
}

// play applies a step's delay and returns its scripted failure, if any.
func play(ctx context.Context, kind Kind, st Step) error {
	if st.Delay > 0 {
		t := time.NewTimer(st.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if st.Error != "" {
		return NewError(kind, errors.New(st.Error))
	}
	if st.SchemaError != "" {
		return &schema.Error{Violations: []schema.Violation{{Field: "$", Rule: schema.RuleDecode, Message: st.SchemaError}}}
	}
	return nil
}

// Generate implements Ports.
func (p *Scripted) Generate(ctx context.Context, grade int, topic string) (content.Draft, error) {
	st, ok := p.next(KindGeneration, p.script.Generate)
	if err := play(ctx, KindGeneration, st); err != nil {
		return content.Draft{}, err
	}
	if !ok || st.Draft == nil {
		return p.stub.Generate(ctx, grade, topic)
	}
	return st.Draft.Clone(), nil
}

// Review implements Ports.
func (p *Scripted) Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error) {
	st, ok := p.next(KindReview, p.script.Review)
	if err := play(ctx, KindReview, st); err != nil {
		return content.ReviewResult{}, err
	}
	if !ok || st.Review == nil {
		return p.stub.Review(ctx, req)
	}
	r := *st.Review
	r.Feedback = append([]content.Feedback(nil), st.Review.Feedback...)
	return r, nil
}

// Refine implements Ports.
func (p *Scripted) Refine(ctx context.Context, req RefineRequest) (content.Draft, error) {
	st, ok := p.next(KindRefinement, p.script.Refine)
	if err := play(ctx, KindRefinement, st); err != nil {
		return content.Draft{}, err
	}
	if !ok || st.Draft == nil {
		return p.stub.Refine(ctx, req)
	}
	return st.Draft.Clone(), nil
}

// Tag implements Ports.
func (p *Scripted) Tag(ctx context.Context, req TagRequest) (content.TagSet, error) {
	st, ok := p.next(KindTagging, p.script.Tag)
	if err := play(ctx, KindTagging, st); err != nil {
		return content.TagSet{}, err
	}
	if !ok || st.Tags == nil {
		return p.stub.Tag(ctx, req)
	}
	return *st.Tags, nil
}
