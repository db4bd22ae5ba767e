// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/xataio/searchsync/pkg/orchestrator"
)

// TemplateFieldResolver renders a text template with the sprig functions.
// The template sees the column value as .Value and the whole record as
// .Record.
type TemplateFieldResolver struct {
	template *template.Template
}

var (
	templateResolverParams    = []string{"template"}
	errTemplateMustBeProvided = errors.New("template parameter must be provided")
)

func NewTemplateFieldResolver(params Parameters) (*TemplateFieldResolver, error) {
	if err := validateParameters(params, templateResolverParams); err != nil {
		return nil, err
	}
	templateStr, found, err := FindParameter[string](params, "template")
	if err != nil {
		return nil, fmt.Errorf("template must be a string: %w", err)
	}
	if !found {
		return nil, errTemplateMustBeProvided
	}

	tmpl, err := template.New("").Option("missingkey=zero").Funcs(sprig.TxtFuncMap()).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("error parsing template: %w", err)
	}
	return &TemplateFieldResolver{template: tmpl}, nil
}

type templateValue struct {
	Value  any
	Record orchestrator.Record
}

func (t *TemplateFieldResolver) Resolve(value any, record orchestrator.Record) (any, error) {
	var buf strings.Builder
	if err := t.template.Execute(&buf, templateValue{Value: value, Record: record}); err != nil {
		return nil, fmt.Errorf("error executing template: %w", err)
	}
	return buf.String(), nil
}
