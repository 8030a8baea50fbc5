package attributes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/openfroyo/rancherhost/pkg/engine"
	"gopkg.in/yaml.v3"
)

// Attributes is the typed, fully resolved view of the attribute tree.
// Recipes read this struct only.
type Attributes struct {
	Host           Host           `mapstructure:"host" yaml:"host"`
	Network        Network        `mapstructure:"network" yaml:"network"`
	ConsulTemplate ConsulTemplate `mapstructure:"consul_template" yaml:"consul_template"`
	Consul         Consul         `mapstructure:"consul" yaml:"consul"`
	Docker         Docker         `mapstructure:"docker" yaml:"docker"`
	Etcd           Etcd           `mapstructure:"etcd" yaml:"etcd"`
	Firewall       Firewall       `mapstructure:"firewall" yaml:"firewall"`
	Kubernetes     Kubernetes     `mapstructure:"kubernetes" yaml:"kubernetes"`
	Provisioning   Provisioning   `mapstructure:"provisioning" yaml:"provisioning"`
	RunList        []string       `mapstructure:"run_list" yaml:"run_list" validate:"min=1"`
}

type Host struct {
	Hostname             string `mapstructure:"hostname" yaml:"hostname" validate:"required"`
	DistributionCodename string `mapstructure:"distribution_codename" yaml:"distribution_codename" validate:"required"`
}

type Network struct {
	PrimaryInterface string `mapstructure:"primary_interface" yaml:"primary_interface" validate:"required"`
	DockerInterface  string `mapstructure:"docker_interface" yaml:"docker_interface" validate:"required"`
}

type ConsulTemplate struct {
	ConfigPath   string `mapstructure:"config_path" yaml:"config_path" validate:"required,startswith=/"`
	TemplatePath string `mapstructure:"template_path" yaml:"template_path" validate:"required,startswith=/"`
	Service      string `mapstructure:"service" yaml:"service"`
}

type Consul struct {
	ConfigPath string `mapstructure:"config_path" yaml:"config_path" validate:"required,startswith=/"`
	DomainKey  string `mapstructure:"domain_key" yaml:"domain_key"`
}

// AptRepository describes an apt source.
type AptRepository struct {
	URI          string   `mapstructure:"uri" yaml:"uri" validate:"required,url"`
	KeyURL       string   `mapstructure:"key_url" yaml:"key_url" validate:"required,url"`
	Distribution string   `mapstructure:"distribution" yaml:"distribution" validate:"required"`
	Components   []string `mapstructure:"components" yaml:"components" validate:"min=1"`
}

type Docker struct {
	Version                         string        `mapstructure:"version" yaml:"version"`
	PackageName                     string        `mapstructure:"package_name" yaml:"package_name" validate:"required"`
	PackageOptions                  []string      `mapstructure:"package_options" yaml:"package_options"`
	DataPath                        string        `mapstructure:"data_path" yaml:"data_path" validate:"required,startswith=/"`
	ConfigPath                      string        `mapstructure:"config_path" yaml:"config_path" validate:"required,startswith=/"`
	ConsulTemplateNetworkScriptFile string        `mapstructure:"consul_template_network_script_file" yaml:"consul_template_network_script_file" validate:"required"`
	ScriptNetworkFile               string        `mapstructure:"script_network_file" yaml:"script_network_file" validate:"required,startswith=/"`
	Apt                             AptRepository `mapstructure:"apt" yaml:"apt"`
}

type EtcdPaths struct {
	Install     string `mapstructure:"install" yaml:"install" validate:"required,startswith=/"`
	Config      string `mapstructure:"config" yaml:"config" validate:"required,startswith=/"`
	StorageBase string `mapstructure:"storage_base" yaml:"storage_base" validate:"required,startswith=/"`
	Data        string `mapstructure:"data" yaml:"data" validate:"required,startswith=/"`
	Wal         string `mapstructure:"wal" yaml:"wal" validate:"required,startswith=/"`
}

type EtcdPorts struct {
	Client int `mapstructure:"client" yaml:"client" validate:"min=1,max=65535"`
	Peers  int `mapstructure:"peers" yaml:"peers" validate:"min=1,max=65535"`
}

type EtcdConsul struct {
	Tag     string `mapstructure:"tag" yaml:"tag" validate:"required"`
	Service string `mapstructure:"service" yaml:"service" validate:"required"`
}

type Etcd struct {
	Version      string     `mapstructure:"version" yaml:"version" validate:"required"`
	URL          string     `mapstructure:"url" yaml:"url" validate:"required,url"`
	Path         EtcdPaths  `mapstructure:"path" yaml:"path"`
	Ports        EtcdPorts  `mapstructure:"ports" yaml:"ports"`
	ServiceUser  string     `mapstructure:"service_user" yaml:"service_user" validate:"required"`
	ServiceGroup string     `mapstructure:"service_group" yaml:"service_group" validate:"required"`
	Consul       EtcdConsul `mapstructure:"consul" yaml:"consul"`
}

type Firewall struct {
	AllowLoopback bool `mapstructure:"allow_loopback" yaml:"allow_loopback"`
	AllowMosh     bool `mapstructure:"allow_mosh" yaml:"allow_mosh"`
	AllowWinRM    bool `mapstructure:"allow_winrm" yaml:"allow_winrm"`
	IPv6Enabled   bool `mapstructure:"ipv6_enabled" yaml:"ipv6_enabled"`
	AllowSSH      bool `mapstructure:"allow_ssh" yaml:"allow_ssh"`
	SSHPort       int  `mapstructure:"ssh_port" yaml:"ssh_port" validate:"min=1,max=65535"`
}

type KubernetesPorts struct {
	APIServer      int `mapstructure:"api_server" yaml:"api_server" validate:"min=1,max=65535"`
	Kubelet        int `mapstructure:"kubelet" yaml:"kubelet" validate:"min=1,max=65535"`
	KubeScheduler  int `mapstructure:"kube_scheduler" yaml:"kube_scheduler" validate:"min=1,max=65535"`
	KubeController int `mapstructure:"kube_controller" yaml:"kube_controller" validate:"min=1,max=65535"`
}

type Kubernetes struct {
	Ports    KubernetesPorts `mapstructure:"ports" yaml:"ports"`
	Apt      AptRepository   `mapstructure:"apt" yaml:"apt"`
	Packages []string        `mapstructure:"packages" yaml:"packages" validate:"min=1"`
	SwapUnit string          `mapstructure:"swap_unit" yaml:"swap_unit"`
}

type Provisioning struct {
	ManifestPath string `mapstructure:"manifest_path" yaml:"manifest_path" validate:"required,startswith=/"`
}

var validate = validator.New()

// Decode resolves every attribute and decodes the tree into Attributes.
// Scalars are weakly typed, so "2379" from the command line decodes into an int.
func (s *Store) Decode() (*Attributes, error) {
	tree, err := s.ResolveAll()
	if err != nil {
		return nil, err
	}

	var attrs Attributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &attrs,
	})
	if err != nil {
		return nil, engine.NewInternalError("failed to create attribute decoder", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return nil, engine.NewConfigError("failed to decode attributes", err).
			WithCode(engine.ErrCodeInvalidAttribute)
	}
	if err := validate.Struct(&attrs); err != nil {
		return nil, engine.NewConfigError("invalid attributes", err).
			WithCode(engine.ErrCodeInvalidAttribute)
	}
	return &attrs, nil
}

// Dump renders the resolved tree as YAML.
func (s *Store) Dump() ([]byte, error) {
	tree, err := s.ResolveAll()
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return out, nil
}
