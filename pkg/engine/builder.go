package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		_, err := ParseMode(fl.Field().String())
		return err == nil
	})
	return v
}

// Builder collects the declarations of one recipe. The first invalid
// declaration is remembered and reported by Err; later calls are ignored.
type Builder struct {
	recipe string
	decls  []*Declaration
	index  map[ID]int
	err    error
}

// NewBuilder creates a builder for the named recipe.
func NewBuilder(recipe string) *Builder {
	return &Builder{
		recipe: recipe,
		index:  make(map[ID]int),
	}
}

// Recipe returns the recipe name the builder belongs to.
func (b *Builder) Recipe() string {
	return b.recipe
}

// Declare adds a declaration. A second declaration with the same identity
// replaces the properties of the first one in place, keeping its position.
func (b *Builder) Declare(name string, action Action, spec Spec) *Builder {
	if b.err != nil {
		return b
	}

	d := &Declaration{
		Name:   name,
		Action: action,
		Recipe: b.recipe,
		Spec:   spec,
	}
	if spec != nil {
		d.Kind = spec.Kind()
	}
	if err := ValidateDeclaration(d); err != nil {
		b.err = err
		return b
	}

	if i, ok := b.index[d.ID()]; ok {
		b.decls[i] = d
		return b
	}
	b.index[d.ID()] = len(b.decls)
	b.decls = append(b.decls, d)
	return b
}

// Package declares a package install.
func (b *Builder) Package(spec PackageSpec) *Builder {
	return b.Declare(spec.Package, ActionInstall, spec)
}

// File declares file content at spec.Path.
func (b *Builder) File(spec FileSpec) *Builder {
	return b.Declare(spec.Path, ActionCreate, spec)
}

// Directory declares a directory at spec.Path.
func (b *Builder) Directory(spec DirectorySpec) *Builder {
	return b.Declare(spec.Path, ActionCreate, spec)
}

// Service declares an action on a systemd unit.
func (b *Builder) Service(action Action, spec ServiceSpec) *Builder {
	return b.Declare(spec.Unit, action, spec)
}

// FirewallRule declares a named firewall rule.
func (b *Builder) FirewallRule(name string, action Action, spec FirewallRuleSpec) *Builder {
	return b.Declare(name, action, spec)
}

// Firewall declares the firewall itself as enabled.
func (b *Builder) Firewall(name string, spec FirewallSpec) *Builder {
	return b.Declare(name, ActionEnable, spec)
}

// Execute declares a named command.
func (b *Builder) Execute(name string, spec ExecuteSpec) *Builder {
	return b.Declare(name, ActionRun, spec)
}

// User declares a system account.
func (b *Builder) User(spec UserSpec) *Builder {
	return b.Declare(spec.User, ActionCreate, spec)
}

// Archive declares a tarball extraction keyed by its URL.
func (b *Builder) Archive(spec ArchiveSpec) *Builder {
	return b.Declare(spec.URL, ActionExtract, spec)
}

// AptRepository declares an apt source.
func (b *Builder) AptRepository(spec AptRepositorySpec) *Builder {
	return b.Declare(spec.Repository, ActionAdd, spec)
}

// Fail records err unless an earlier error is already recorded. Recipes use
// it for failures that happen outside Declare, such as template rendering.
func (b *Builder) Fail(err error) *Builder {
	if b.err == nil && err != nil {
		b.err = err
	}
	return b
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

// Declarations returns the ordered declarations, or the recorded error.
func (b *Builder) Declarations() ([]*Declaration, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]*Declaration, len(b.decls))
	copy(out, b.decls)
	return out, nil
}

// ValidateDeclaration checks kind, action and spec of a declaration.
func ValidateDeclaration(d *Declaration) error {
	if d.Spec == nil {
		return invalidDeclaration(d, "spec is required", nil)
	}
	if d.Name == "" {
		return invalidDeclaration(d, "name is required", nil)
	}
	if err := d.Kind.Validate(); err != nil {
		return invalidDeclaration(d, "unknown kind", err)
	}
	if d.Spec.Kind() != d.Kind {
		return invalidDeclaration(d, fmt.Sprintf("spec of kind %s does not match", d.Spec.Kind()), nil)
	}
	if !d.Kind.Supports(d.Action) {
		return invalidDeclaration(d, fmt.Sprintf("action %q is not supported", d.Action), nil)
	}
	if err := validate.Struct(d.Spec); err != nil {
		return invalidDeclaration(d, "invalid properties", flattenValidation(err))
	}

	switch spec := d.Spec.(type) {
	case FirewallRuleSpec:
		if spec.Port == 0 && spec.Interface == "" && spec.Source == "" {
			return invalidDeclaration(d, "rule needs a port, an interface or a source", nil)
		}
		if spec.EndPort != 0 && (spec.EndPort < spec.Port || spec.Protocol == "any") {
			return invalidDeclaration(d, "port range needs tcp or udp and end_port >= port", nil)
		}
	case ServiceSpec:
		if d.Action == ActionCreate && spec.UnitFile == "" {
			return invalidDeclaration(d, "unit_file is required to create a unit", nil)
		}
	}
	return nil
}

func invalidDeclaration(d *Declaration, msg string, err error) *EngineError {
	return NewConfigError(msg, err).
		WithCode(ErrCodeInvalidDeclaration).
		WithResource(d.String()).
		WithDetail("recipe", d.Recipe)
}

func flattenValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
