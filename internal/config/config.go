// Package config loads the immutable startup configuration: the JSON
// document named by --config. The command line switches themselves are
// declared and parsed in cmd/quark.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quarkoj/quark"
)

const (
	DefaultBindAddress = "127.0.0.1"
	DefaultBindPort    = 12345
)

// Server holds the HTTP bind options.
type Server struct {
	BindAddress *string `json:"bind_address"`
	BindPort    *int    `json:"bind_port"`
}

func (s Server) Addr() string {
	host := DefaultBindAddress
	if s.BindAddress != nil {
		host = *s.BindAddress
	}
	port := DefaultBindPort
	if s.BindPort != nil {
		port = *s.BindPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Config is the parsed configuration file. Treated as read-only after
// Load returns.
type Config struct {
	Server    Server           `json:"server"`
	Problems  []quark.Problem  `json:"problems"`
	Languages []quark.Language `json:"languages"`
}

// Problem looks up a configured problem by id.
func (c *Config) Problem(id int) *quark.Problem {
	for i := range c.Problems {
		if c.Problems[i].ID == id {
			return &c.Problems[i]
		}
	}
	return nil
}

// Language looks up a configured language by name.
func (c *Config) Language(name string) *quark.Language {
	for i := range c.Languages {
		if c.Languages[i].Name == name {
			return &c.Languages[i]
		}
	}
	return nil
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer f.Close()

	var conf Config
	dec := json.NewDecoder(f)
	if err := dec.Decode(&conf); err != nil {
		return nil, fmt.Errorf("couldn't parse config file: %w", err)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) validate() error {
	seenProblems := make(map[int]bool)
	for _, p := range c.Problems {
		if seenProblems[p.ID] {
			return fmt.Errorf("duplicate problem id %d", p.ID)
		}
		seenProblems[p.ID] = true
		switch p.Type {
		case quark.ProblemStandard, quark.ProblemStrict, quark.ProblemSPJ, quark.ProblemDynamicRanking:
		default:
			return fmt.Errorf("problem %d: unknown type %q", p.ID, p.Type)
		}
		if len(p.Cases) == 0 {
			return fmt.Errorf("problem %d: no cases", p.ID)
		}
		if p.Type == quark.ProblemDynamicRanking && (p.Misc.DynamicRankingRatio < 0 || p.Misc.DynamicRankingRatio > 1) {
			return fmt.Errorf("problem %d: dynamic_ranking_ratio out of [0,1]", p.ID)
		}
	}

	seenLangs := make(map[string]bool)
	for _, l := range c.Languages {
		if l.Name == "" {
			return fmt.Errorf("language with empty name")
		}
		if seenLangs[l.Name] {
			return fmt.Errorf("duplicate language %q", l.Name)
		}
		seenLangs[l.Name] = true
		if l.FileName == "" || len(l.Command) == 0 {
			return fmt.Errorf("language %q: missing file_name or command", l.Name)
		}
	}
	return nil
}
