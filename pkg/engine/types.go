package engine

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Kind is the closed set of resource kinds a recipe may declare.
type Kind string

const (
	KindPackage       Kind = "package"
	KindFile          Kind = "file"
	KindDirectory     Kind = "directory"
	KindService       Kind = "service"
	KindFirewallRule  Kind = "firewall_rule"
	KindExecute       Kind = "execute"
	KindFirewall      Kind = "firewall"
	KindUser          Kind = "user"
	KindArchive       Kind = "archive"
	KindAptRepository Kind = "apt_repository"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindPackage, KindFile, KindDirectory, KindService, KindFirewallRule,
		KindExecute, KindFirewall, KindUser, KindArchive, KindAptRepository,
	}
}

// Validate checks if the kind is known.
func (k Kind) Validate() error {
	if _, ok := allowedActions[k]; !ok {
		return fmt.Errorf("invalid resource kind: %s", k)
	}
	return nil
}

// Action is the desired-state verb of a declaration.
type Action string

const (
	ActionCreate  Action = "create"
	ActionInstall Action = "install"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionMask    Action = "mask"
	ActionStart   Action = "start"
	ActionAllow   Action = "allow"
	ActionDeny    Action = "deny"
	ActionRun     Action = "run"
	ActionExtract Action = "extract"
	ActionAdd     Action = "add"
)

var allowedActions = map[Kind][]Action{
	KindPackage:       {ActionInstall},
	KindFile:          {ActionCreate},
	KindDirectory:     {ActionCreate},
	KindService:       {ActionCreate, ActionEnable, ActionDisable, ActionMask, ActionStart},
	KindFirewallRule:  {ActionAllow, ActionDeny},
	KindExecute:       {ActionRun},
	KindFirewall:      {ActionEnable},
	KindUser:          {ActionCreate},
	KindArchive:       {ActionExtract},
	KindAptRepository: {ActionAdd},
}

// Supports reports whether action is meaningful for kind.
func (k Kind) Supports(action Action) bool {
	for _, a := range allowedActions[k] {
		if a == action {
			return true
		}
	}
	return false
}

// ID is the identity of a declaration. Two declarations with the same ID
// describe the same piece of host state.
type ID struct {
	Kind Kind
	Name string
}

func (id ID) String() string {
	return fmt.Sprintf("%s[%s]", id.Kind, id.Name)
}

// Declaration is a desired-state assertion produced by a recipe. It is pure
// data; nothing happens to the host until a provider converges it.
type Declaration struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Action Action `json:"action"`

	// Recipe is the name of the recipe that declared the resource.
	Recipe string `json:"recipe"`

	// Spec holds the kind-specific properties. Its concrete type always
	// matches Kind.
	Spec Spec `json:"spec"`
}

// ID returns the declaration identity.
func (d *Declaration) ID() ID {
	return ID{Kind: d.Kind, Name: d.Name}
}

func (d *Declaration) String() string {
	return d.ID().String()
}

// Spec is implemented by every kind-specific property record.
type Spec interface {
	Kind() Kind
}

// Command is a shell command with a bounded runtime.
type Command struct {
	Line    string        `json:"line" validate:"required"`
	Timeout time.Duration `json:"timeout" validate:"gt=0"`
}

// PackageSpec installs a package through the system package manager.
type PackageSpec struct {
	Package string   `json:"package" validate:"required"`
	Version string   `json:"version,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Kind implements Spec.
func (PackageSpec) Kind() Kind { return KindPackage }

// FileSpec writes a file with one-backup retention.
type FileSpec struct {
	Path    string `json:"path" validate:"required,startswith=/"`
	Content string `json:"content"`
	Mode    string `json:"mode" validate:"required,filemode"`
	Owner   string `json:"owner,omitempty"`
	Group   string `json:"group,omitempty"`

	// PostWrite runs after the content changed. A failure or timeout fails
	// the resource.
	PostWrite *Command `json:"post_write,omitempty"`
}

// Kind implements Spec.
func (FileSpec) Kind() Kind { return KindFile }

// FileMode parses Mode as an octal permission string.
func (s FileSpec) FileMode() (os.FileMode, error) {
	return ParseMode(s.Mode)
}

// DirectorySpec ensures a directory exists with the given ownership.
type DirectorySpec struct {
	Path      string `json:"path" validate:"required,startswith=/"`
	Mode      string `json:"mode" validate:"required,filemode"`
	Owner     string `json:"owner,omitempty"`
	Group     string `json:"group,omitempty"`
	Recursive bool   `json:"recursive"`
}

// Kind implements Spec.
func (DirectorySpec) Kind() Kind { return KindDirectory }

// FileMode parses Mode as an octal permission string.
func (s DirectorySpec) FileMode() (os.FileMode, error) {
	return ParseMode(s.Mode)
}

// ServiceSpec manages a systemd unit. UnitFile is only used by ActionCreate.
type ServiceSpec struct {
	Unit     string `json:"unit" validate:"required"`
	UnitFile string `json:"unit_file,omitempty"`
}

// Kind implements Spec.
func (ServiceSpec) Kind() Kind { return KindService }

// FirewallRuleSpec opens or closes a port, or trusts an interface.
type FirewallRuleSpec struct {
	Port        int    `json:"port,omitempty" validate:"min=0,max=65535"`
	EndPort     int    `json:"end_port,omitempty" validate:"min=0,max=65535"`
	Protocol    string `json:"protocol" validate:"required,oneof=tcp udp any"`
	Direction   string `json:"direction" validate:"required,oneof=in out"`
	Interface   string `json:"interface,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// Kind implements Spec.
func (FirewallRuleSpec) Kind() Kind { return KindFirewallRule }

// FirewallSpec turns the host firewall on.
type FirewallSpec struct {
	IPv6 bool `json:"ipv6"`
}

// Kind implements Spec.
func (FirewallSpec) Kind() Kind { return KindFirewall }

// ExecuteSpec runs a command, optionally guarded so reruns are no-ops.
type ExecuteSpec struct {
	Command string        `json:"command" validate:"required"`
	Creates string        `json:"creates,omitempty"`
	OnlyIf  string        `json:"only_if,omitempty"`
	NotIf   string        `json:"not_if,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" validate:"min=0"`
}

// Kind implements Spec.
func (ExecuteSpec) Kind() Kind { return KindExecute }

// UserSpec ensures a system account and its primary group exist.
type UserSpec struct {
	User   string `json:"user" validate:"required"`
	Group  string `json:"group" validate:"required"`
	System bool   `json:"system"`
	Shell  string `json:"shell,omitempty"`
	Home   string `json:"home,omitempty"`
}

// Kind implements Spec.
func (UserSpec) Kind() Kind { return KindUser }

// ArchiveSpec downloads a tarball and unpacks it, unless Creates exists.
type ArchiveSpec struct {
	URL             string `json:"url" validate:"required,url"`
	TargetDir       string `json:"target_dir" validate:"required,startswith=/"`
	Creates         string `json:"creates" validate:"required,startswith=/"`
	StripComponents int    `json:"strip_components" validate:"min=0"`
}

// Kind implements Spec.
func (ArchiveSpec) Kind() Kind { return KindArchive }

// AptRepositorySpec registers an apt source and its signing key.
type AptRepositorySpec struct {
	Repository   string   `json:"repository" validate:"required"`
	URI          string   `json:"uri" validate:"required,url"`
	Distribution string   `json:"distribution" validate:"required"`
	Components   []string `json:"components" validate:"required,min=1"`
	KeyURL       string   `json:"key_url" validate:"required,url"`
}

// Kind implements Spec.
func (AptRepositorySpec) Kind() Kind { return KindAptRepository }

// ParseMode parses an octal permission string such as "0755" or "777".
func ParseMode(mode string) (os.FileMode, error) {
	v, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", mode, err)
	}
	if v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q: out of range", mode)
	}
	perm := os.FileMode(v & 0o777)
	if v&0o4000 != 0 {
		perm |= os.ModeSetuid
	}
	if v&0o2000 != 0 {
		perm |= os.ModeSetgid
	}
	if v&0o1000 != 0 {
		perm |= os.ModeSticky
	}
	return perm, nil
}
