// Package template parses declarative workflow templates into validated
// api.WorkflowTemplate values and renders them back to their document form.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/dealflow/pkg/api"
)

// Issue is a single structural or referential problem in a template.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ParseError aggregates every problem found in a template.
type ParseError struct {
	Issues []Issue
	// Cause is set when the document could not be decoded at all.
	Cause error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(api.ErrTemplateInvalid.Error())
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	for i, issue := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(issue.String())
	}
	return b.String()
}

func (e *ParseError) Unwrap() []error {
	if e.Cause != nil {
		return []error{api.ErrTemplateInvalid, e.Cause}
	}
	return []error{api.ErrTemplateInvalid}
}

// Parse decodes, validates and normalizes a template document. All
// problems are reported together in a *ParseError.
func Parse(source []byte) (*api.WorkflowTemplate, error) {
	var raw rawTemplate
	dec := yaml.NewDecoder(bytes.NewReader(source))
	if err := dec.Decode(&raw); err != nil {
		var typeErr *yaml.TypeError
		if !errors.As(err, &typeErr) {
			return nil, &ParseError{Cause: fmt.Errorf("decode document: %w", err)}
		}
		// Type errors leave the rest of the document decoded; report them
		// alongside everything else.
		n := &normalizer{}
		for _, msg := range typeErr.Errors {
			n.addf("", "%s", msg)
		}
		n.template(&raw)
		return nil, &ParseError{Issues: n.issues}
	}

	n := &normalizer{}
	tpl := n.template(&raw)
	if len(n.issues) > 0 {
		return nil, &ParseError{Issues: n.issues}
	}
	return tpl, nil
}

// ParseString is Parse for string sources.
func ParseString(source string) (*api.WorkflowTemplate, error) {
	return Parse([]byte(source))
}

// ParseFile reads and parses the template stored at path.
func ParseFile(path string) (*api.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Cause: fmt.Errorf("load workflow template from %s: %w", path, err)}
	}
	return Parse(data)
}
