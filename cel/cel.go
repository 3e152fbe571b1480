// Package cel validates documents with CEL (Common Expression Language) rules before
// sessions store them.
package cel

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/sharedcode/docstore"
)

// ErrRuleViolated is wrapped by the errors of documents failing a rule.
var ErrRuleViolated = errors.New("validation rule violated")

// Evaluator holds a compiled boolean CEL expression over a document. The expression
// sees the variables doc (the document body), metadata and id.
type Evaluator struct {
	Name       string
	Expression string
	program    cel.Program
}

// NewEvaluator compiles expression, which has to evaluate to a bool.
func NewEvaluator(name string, expression string) (*Evaluator, error) {
	if name == "" {
		return nil, fmt.Errorf("name can't be empty string")
	}
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.AnyType)),
		cel.Variable("id", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q evaluates to %v, want bool", expression, ast.OutputType())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Evaluator{
		Name:       name,
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the expression against a document.
func (e *Evaluator) Evaluate(id string, doc docstore.Document, metadata docstore.Metadata) (bool, error) {
	if metadata == nil {
		metadata = docstore.Metadata{}
	}
	out, _, err := e.program.Eval(map[string]any{
		"doc":      docstore.NormalizeNumbers(map[string]any(doc.WithoutMetadata())),
		"metadata": docstore.NormalizeNumbers(map[string]any(metadata)),
		"id":       id,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	return nv.(bool), nil
}

// Rule binds an expression to a collection, an empty collection applies to all documents.
type Rule struct {
	Name       string `json:"name"`
	Collection string `json:"collection"`
	Expression string `json:"expression"`
}

type compiledRule struct {
	collection string
	evaluator  *Evaluator
}

// Validator is a docstore.BeforeStoreListener rejecting documents that fail a rule.
type Validator struct {
	rules []compiledRule
}

var _ docstore.BeforeStoreListener = (*Validator)(nil)

// NewValidator compiles rules.
func NewValidator(rules ...Rule) (*Validator, error) {
	v := &Validator{}
	for _, r := range rules {
		e, err := NewEvaluator(r.Name, r.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		v.rules = append(v.rules, compiledRule{collection: r.Collection, evaluator: e})
	}
	return v, nil
}

// Validate evaluates the rules of the document's collection, in the order given.
func (v *Validator) Validate(id string, doc docstore.Document, metadata docstore.Metadata) error {
	collection := metadata.Collection()
	if collection == "" {
		collection = doc.Metadata().Collection()
	}
	for _, r := range v.rules {
		if r.collection != "" && r.collection != collection {
			continue
		}
		ok, err := r.evaluator.Evaluate(id, doc, metadata)
		if err != nil {
			return fmt.Errorf("rule %s on document %s: %w", r.evaluator.Name, id, err)
		}
		if !ok {
			return fmt.Errorf("%w: rule %s rejected document %s", ErrRuleViolated, r.evaluator.Name, id)
		}
	}
	return nil
}

// BeforeStore validates the pending document.
func (v *Validator) BeforeStore(ctx context.Context, e *docstore.StoreEvent) error {
	return v.Validate(e.ID, e.Document, e.Metadata)
}
