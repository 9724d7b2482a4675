// Package personality holds the static personality catalog and the engines
// that generate and compare personality-conditioned replies.
package personality

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/scrypster/rapport/pkg/types"
)

// Registry is the fixed, read-only catalog of personality profiles.
// It is safe for concurrent use.
type Registry struct {
	order     []types.PersonalityID
	profiles  map[types.PersonalityID]types.PersonalityProfile
	templates map[types.PersonalityID]*template.Template
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry of built-in profiles.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry of the built-in profiles in the order
// mentor, friend, therapist, professional.
func NewRegistry() *Registry {
	r := &Registry{
		profiles:  make(map[types.PersonalityID]types.PersonalityProfile),
		templates: make(map[types.PersonalityID]*template.Template),
	}
	for _, p := range builtinProfiles() {
		r.order = append(r.order, p.ID)
		r.profiles[p.ID] = p
		r.templates[p.ID] = template.Must(parseTemplate(p))
	}
	return r
}

// Get returns a copy of the profile for id.
func (r *Registry) Get(id types.PersonalityID) (types.PersonalityProfile, error) {
	p, ok := r.profiles[types.PersonalityID(strings.ToLower(strings.TrimSpace(string(id))))]
	if !ok {
		return types.PersonalityProfile{}, &types.UnknownPersonalityError{ID: id}
	}
	return cloneProfile(p), nil
}

// List returns copies of every profile in registry order.
func (r *Registry) List() []types.PersonalityProfile {
	out := make([]types.PersonalityProfile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneProfile(r.profiles[id]))
	}
	return out
}

// IDs returns every personality id in registry order.
func (r *Registry) IDs() []types.PersonalityID {
	return append([]types.PersonalityID(nil), r.order...)
}

// Position returns the registry index of id, or -1.
func (r *Registry) Position(id types.PersonalityID) int {
	for i, v := range r.order {
		if v == id {
			return i
		}
	}
	return -1
}

// RenderSystemPrompt expands the profile's system prompt template. Profiles
// from this registry use the pre-parsed template; others are parsed on demand.
func (r *Registry) RenderSystemPrompt(p types.PersonalityProfile) (string, error) {
	tmpl, ok := r.templates[p.ID]
	if !ok || r.profiles[p.ID].SystemPromptTemplate != p.SystemPromptTemplate {
		var err error
		if tmpl, err = parseTemplate(p); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, p); err != nil {
		return "", fmt.Errorf("render system prompt for %s: %w", p.ID, err)
	}
	return sb.String(), nil
}

func parseTemplate(p types.PersonalityProfile) (*template.Template, error) {
	tmpl, err := template.New(string(p.ID)).Option("missingkey=error").Parse(p.SystemPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt for %s: %w", p.ID, err)
	}
	return tmpl, nil
}

// Title returns the short display label for id, e.g. "Therapist".
func Title(id types.PersonalityID) string {
	s := string(id)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func cloneProfile(p types.PersonalityProfile) types.PersonalityProfile {
	p.ResponseGuidelines = append([]string(nil), p.ResponseGuidelines...)
	p.Vocabulary = append([]string(nil), p.Vocabulary...)
	p.ResponsePatterns = append([]string(nil), p.ResponsePatterns...)
	return p
}
