// Package render produces the file artifacts recipes declare: host-local
// templates, consul-template control files and systemd units.
//
// Templates have two phases. Host-local values are substituted now with
// "[%" and "%]" delimiters. Placeholders in "{{ }}" belong to consul-template
// and are copied to the output untouched; Render verifies that.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
	"github.com/openfroyo/rancherhost/pkg/engine"
)

const (
	// LeftDelim opens a host-local expression.
	LeftDelim = "[%"
	// RightDelim closes a host-local expression.
	RightDelim = "%]"
)

// ErrPhaseViolation means local rendering added, removed or altered a
// deferred placeholder.
var ErrPhaseViolation = errors.New("deferred placeholders changed during local rendering")

var deferredPattern = regexp.MustCompile(`\{\{.*?\}\}`)

var funcs = template.FuncMap{
	"join":  strings.Join,
	"shq":   shellescape.Quote,
	"quote": strconv.Quote,
}

// Template is a parsed two-phase template.
type Template struct {
	name   string
	source string
	tmpl   *template.Template

	// deferred holds each placeholder in the source as its own template, so
	// local expressions nested inside a placeholder are accounted for.
	deferred []*template.Template
}

// Parse parses source. Local expressions must be well formed.
func Parse(name, source string) (*Template, error) {
	tmpl, err := newTemplate(name).Parse(source)
	if err != nil {
		return nil, templateError(name, "parse", err)
	}

	placeholders := deferredPattern.FindAllString(source, -1)
	deferred := make([]*template.Template, len(placeholders))
	for i, p := range placeholders {
		deferred[i], err = newTemplate(fmt.Sprintf("%s#%d", name, i)).Parse(p)
		if err != nil {
			return nil, templateError(name, "parse", err)
		}
	}

	return &Template{name: name, source: source, tmpl: tmpl, deferred: deferred}, nil
}

// MustParse is like Parse but panics on error. For embedded templates.
func MustParse(name, source string) *Template {
	t, err := Parse(name, source)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Render evaluates the local phase with data and checks the phase boundary.
func (t *Template) Render(data interface{}) (string, error) {
	out, err := execute(t.tmpl, data)
	if err != nil {
		return "", templateError(t.name, "render", err)
	}

	expected := make([]string, len(t.deferred))
	for i, d := range t.deferred {
		expected[i], err = execute(d, data)
		if err != nil {
			return "", templateError(t.name, "render", err)
		}
	}
	if err := checkPhase(expected, deferredPattern.FindAllString(out, -1)); err != nil {
		return "", templateError(t.name, "phase check", err)
	}
	return out, nil
}

// Render parses and renders source in one step.
func Render(name, source string, data interface{}) (string, error) {
	t, err := Parse(name, source)
	if err != nil {
		return "", err
	}
	return t.Render(data)
}

// Deferred lists the consul-template placeholders in rendered content.
func Deferred(content string) []string {
	return deferredPattern.FindAllString(content, -1)
}

func newTemplate(name string) *template.Template {
	return template.New(name).
		Delims(LeftDelim, RightDelim).
		Option("missingkey=error").
		Funcs(funcs)
}

func execute(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// checkPhase compares the placeholders as multisets.
func checkPhase(expected, actual []string) error {
	if len(expected) != len(actual) {
		return fmt.Errorf("%w: expected %d placeholders, found %d", ErrPhaseViolation, len(expected), len(actual))
	}
	e := append([]string{}, expected...)
	a := append([]string{}, actual...)
	sort.Strings(e)
	sort.Strings(a)
	for i := range e {
		if e[i] != a[i] {
			return fmt.Errorf("%w: expected %q, found %q", ErrPhaseViolation, e[i], a[i])
		}
	}
	return nil
}

func templateError(name, op string, err error) *engine.EngineError {
	return engine.NewConfigError(fmt.Sprintf("template %s", name), err).
		WithCode(engine.ErrCodeTemplate).
		WithOperation(op)
}
