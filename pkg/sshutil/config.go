package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Alias is one concrete Host entry from an OpenSSH client config.
type Alias struct {
	Name         string // The Host pattern
	HostName     string
	User         string
	Port         int // 0 when not set
	IdentityFile string
}

// Description returns a short summary, e.g. "10.0.0.5, user: ubuntu, port: 2222".
func (a Alias) Description() string {
	var parts []string
	if a.HostName != "" && a.HostName != a.Name {
		parts = append(parts, a.HostName)
	}
	if a.User != "" {
		parts = append(parts, "user: "+a.User)
	}
	if a.Port != 0 && a.Port != 22 {
		parts = append(parts, "port: "+strconv.Itoa(a.Port))
	}
	if len(parts) == 0 {
		return a.Name
	}
	return strings.Join(parts, ", ")
}

// SSHConfig is a parsed ~/.ssh/config. The zero value resolves nothing.
type SSHConfig struct {
	cfg *ssh_config.Config

	// MatchLine is the 1-indexed line of the first Match block, 0 if none.
	// Entries after it are not visible.
	MatchLine int
}

// DefaultSSHConfigPath returns ~/.ssh/config.
func DefaultSSHConfigPath() string {
	return filepath.Join(homeDir(), ".ssh", "config")
}

// LoadSSHConfig parses the OpenSSH client config at path. A missing file
// yields an empty config and no error.
func LoadSSHConfig(path string) (*SSHConfig, error) {
	content, matchLine, err := preprocessSSHConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SSHConfig{}, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &SSHConfig{cfg: cfg, MatchLine: matchLine}, nil
}

// Resolve returns the settings that apply to alias. Fields the config does
// not set are left empty.
func (c *SSHConfig) Resolve(alias string) Alias {
	a := Alias{Name: alias}
	if c == nil || c.cfg == nil {
		return a
	}
	a.HostName, _ = c.cfg.Get(alias, "HostName")
	a.User, _ = c.cfg.Get(alias, "User")
	if port, _ := c.cfg.Get(alias, "Port"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			a.Port = n
		}
	}
	if identity, _ := c.cfg.Get(alias, "IdentityFile"); identity != "" {
		a.IdentityFile = expandPath(identity)
	}
	return a
}

// Aliases lists the concrete (non-wildcard) Host entries, sorted by name.
func (c *SSHConfig) Aliases() []Alias {
	if c == nil || c.cfg == nil {
		return nil
	}

	var out []Alias
	seen := make(map[string]bool)
	for _, host := range c.cfg.Hosts {
		for _, pattern := range host.Patterns {
			name := pattern.String()
			if strings.ContainsAny(name, "*?!") || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, c.Resolve(name))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// preprocessSSHConfig reads the SSH config and returns content up to the first
// Match directive, which kevinburke/ssh_config cannot parse. It also returns
// the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(trimmed, "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}
