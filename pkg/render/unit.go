package render

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

func init() {
	// systemd wants Key=Value without alignment padding.
	ini.PrettyFormat = false
	ini.PrettyEqual = false
}

// Unit describes a systemd service unit.
type Unit struct {
	// [Unit]
	Description           string
	Documentation         string
	After                 []string
	Requires              []string
	StartLimitIntervalSec int

	// [Service]
	Type            string
	User            string
	Group           string
	EnvironmentFile string
	ExecStart       string
	Restart         string
	RestartSec      int
	LimitNOFILE     int

	// [Install]
	WantedBy []string
}

// Render writes the unit file.
func (u Unit) Render() ([]byte, error) {
	if u.ExecStart == "" {
		return nil, fmt.Errorf("unit %q has no ExecStart", u.Description)
	}

	cfg := ini.Empty()

	unit, err := cfg.NewSection("Unit")
	if err != nil {
		return nil, err
	}
	addKey(unit, "Description", u.Description)
	addKey(unit, "Documentation", u.Documentation)
	addKey(unit, "After", strings.Join(u.After, " "))
	addKey(unit, "Requires", strings.Join(u.Requires, " "))
	addKey(unit, "StartLimitIntervalSec", strconv.Itoa(u.StartLimitIntervalSec))

	service, err := cfg.NewSection("Service")
	if err != nil {
		return nil, err
	}
	addKey(service, "Type", u.Type)
	addKey(service, "User", u.User)
	addKey(service, "Group", u.Group)
	addKey(service, "EnvironmentFile", u.EnvironmentFile)
	addKey(service, "ExecStart", u.ExecStart)
	addKey(service, "Restart", u.Restart)
	if u.RestartSec > 0 {
		addKey(service, "RestartSec", strconv.Itoa(u.RestartSec))
	}
	if u.LimitNOFILE > 0 {
		addKey(service, "LimitNOFILE", strconv.Itoa(u.LimitNOFILE))
	}

	if len(u.WantedBy) > 0 {
		install, err := cfg.NewSection("Install")
		if err != nil {
			return nil, err
		}
		addKey(install, "WantedBy", strings.Join(u.WantedBy, " "))
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write unit: %w", err)
	}
	return buf.Bytes(), nil
}

// addKey skips empty values; NewKey only fails on an empty name.
func addKey(sec *ini.Section, name, value string) {
	if value == "" {
		return
	}
	_, _ = sec.NewKey(name, value)
}
