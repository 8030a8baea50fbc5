package render

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// ControlFile is one consul-template "template" block: which template to
// render, where to, and what to run afterwards.
type ControlFile struct {
	Source            string
	Destination       string
	CreateDestDirs    bool
	Command           string
	CommandTimeout    time.Duration
	ErrorOnMissingKey bool
	Perms             string
	Backup            bool
	WaitMin           time.Duration
	WaitMax           time.Duration
}

// NewControlFile returns a control file with the defaults every rancher host
// template uses: no directory creation, one backup, 2s/10s wait.
func NewControlFile(source, destination, command string, timeout time.Duration, perms string) ControlFile {
	return ControlFile{
		Source:         source,
		Destination:    destination,
		Command:        command,
		CommandTimeout: timeout,
		Perms:          perms,
		Backup:         true,
		WaitMin:        2 * time.Second,
		WaitMax:        10 * time.Second,
	}
}

// Render writes the control file as HCL.
func (c ControlFile) Render() ([]byte, error) {
	if c.Source == "" || c.Destination == "" {
		return nil, fmt.Errorf("control file needs source and destination")
	}
	if c.WaitMax != 0 && c.WaitMax < c.WaitMin {
		return nil, fmt.Errorf("control file wait max %s is below min %s", c.WaitMax, c.WaitMin)
	}

	f := hclwrite.NewEmptyFile()
	root := f.Body()
	root.AppendUnstructuredTokens(hclwrite.Tokens{
		{Type: hclsyntax.TokenComment, Bytes: []byte("# Managed by rancherhost. Local changes are overwritten.\n")},
	})

	block := root.AppendNewBlock("template", nil)
	body := block.Body()
	body.SetAttributeValue("source", cty.StringVal(c.Source))
	body.SetAttributeValue("destination", cty.StringVal(c.Destination))
	body.SetAttributeValue("create_dest_dirs", cty.BoolVal(c.CreateDestDirs))
	if c.Command != "" {
		body.SetAttributeValue("command", cty.StringVal(c.Command))
		body.SetAttributeValue("command_timeout", cty.StringVal(formatDuration(c.CommandTimeout)))
	}
	body.SetAttributeValue("error_on_missing_key", cty.BoolVal(c.ErrorOnMissingKey))
	if c.Perms != "" {
		// perms is an octal literal, which cty cannot express.
		body.SetAttributeRaw("perms", hclwrite.Tokens{
			{Type: hclsyntax.TokenNumberLit, Bytes: []byte(c.Perms)},
		})
	}
	body.SetAttributeValue("backup", cty.BoolVal(c.Backup))
	body.SetAttributeValue("left_delimiter", cty.StringVal("{{"))
	body.SetAttributeValue("right_delimiter", cty.StringVal("}}"))

	if c.WaitMin > 0 {
		wait := body.AppendNewBlock("wait", nil).Body()
		wait.SetAttributeValue("min", cty.StringVal(formatDuration(c.WaitMin)))
		if c.WaitMax > 0 {
			wait.SetAttributeValue("max", cty.StringVal(formatDuration(c.WaitMax)))
		}
	}

	return hclwrite.Format(f.Bytes()), nil
}

// formatDuration prints whole seconds as "60s" instead of "1m0s".
func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
