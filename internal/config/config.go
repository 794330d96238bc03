// Package config reads the supervisor's JSON config file (spec §6) into an
// immutable job.Catalog plus the supervisor-level settings that accompany
// it. It has no concurrency of its own — it is a pure function from bytes
// to Config, exercised once by cmd/procd at startup.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/edirooss/procd/internal/job"
)

// DefaultControlPort and DefaultEventPort are used when the config file's
// supervisor object omits control-port/event-port.
const (
	DefaultControlPort = 9090
	DefaultEventPort   = 9091
)

// fileJob mirrors the on-disk shape of one job entry. Name is carried as
// the map key of the enclosing jobs object, not a field here, matching the
// config shape documented in spec §6.
type fileJob struct {
	Command    string            `json:"command"`
	Stdin      string            `json:"stdin"`
	Stdout     string            `json:"stdout"`
	Stderr     string            `json:"stderr"`
	Env        map[string]string `json:"env"`
	WorkingDir string            `json:"working-dir"`
	Signal     string            `json:"signal"`
	Autostart  bool              `json:"autostart"`
	Restart    bool              `json:"restart"`
}

// fileSupervisor mirrors spec §6's top-level "supervisor" object.
type fileSupervisor struct {
	WorkingDir  string   `json:"working-dir"`
	ControlPort int      `json:"control-port"`
	EventPort   int      `json:"event-port"`
	LogLevel    string   `json:"log-level"`
	LogFile     string   `json:"log-file"`
	IncludeDirs []string `json:"include-dirs"`
}

// file is the top-level JSON document: a "supervisor" object plus a "jobs"
// object keyed by job name.
type file struct {
	Supervisor fileSupervisor     `json:"supervisor"`
	Jobs       map[string]fileJob `json:"jobs"`
}

// includeFile is the shape of one *.json fragment under an include-dirs
// entry: just a jobs object, merged into the top-level document's jobs.
type includeFile struct {
	Jobs map[string]fileJob `json:"jobs"`
}

// Config is the parsed, ready-to-use result of Load: the job catalog plus
// the supervisor-level settings every core component and cmd/procd need.
type Config struct {
	WorkingDir  string
	ControlAddr string
	EventAddr   string
	LogLevel    string
	LogFile     string
	Catalog     *job.Catalog
}

// Load reads and strictly decodes the config file at path, expanding $VAR
// references in every path-valued field against the process environment,
// merging in any jobs defined by files under supervisor.include-dirs, and
// builds the resulting Config.
//
// Decoding goes through parseStrict below: DisallowUnknownFields so a
// typo'd key in a job or supervisor stanza is a load-time error instead of
// being silently ignored.
func Load(path string) (*Config, error) {
	doc, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	for _, dir := range doc.Supervisor.IncludeDirs {
		if err := mergeIncludeDir(doc, expand(dir)); err != nil {
			return nil, fmt.Errorf("config: include-dirs %q: %w", dir, err)
		}
	}

	entries := make([]job.Job, 0, len(doc.Jobs))
	for name, fj := range doc.Jobs {
		sig, err := resolveSignal(fj.Signal)
		if err != nil {
			return nil, fmt.Errorf("config: job %q: %w", name, err)
		}
		entries = append(entries, job.Job{
			Name:       name,
			Command:    expand(fj.Command),
			Stdin:      expand(fj.Stdin),
			Stdout:     expand(fj.Stdout),
			Stderr:     expand(fj.Stderr),
			Env:        expandEnv(fj.Env),
			WorkingDir: expand(fj.WorkingDir),
			ExitSignal: sig,
			Autostart:  fj.Autostart,
			Restart:    fj.Restart,
		})
	}

	catalog, err := job.NewCatalog(entries)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	controlPort := doc.Supervisor.ControlPort
	if controlPort == 0 {
		controlPort = DefaultControlPort
	}
	eventPort := doc.Supervisor.EventPort
	if eventPort == 0 {
		eventPort = DefaultEventPort
	}

	return &Config{
		WorkingDir:  expand(doc.Supervisor.WorkingDir),
		ControlAddr: fmt.Sprintf("127.0.0.1:%d", controlPort),
		EventAddr:   fmt.Sprintf("127.0.0.1:%d", eventPort),
		LogLevel:    doc.Supervisor.LogLevel,
		LogFile:     expand(doc.Supervisor.LogFile),
		Catalog:     catalog,
	}, nil
}

func loadFile(path string) (*file, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	var doc file
	if err := parseStrict(f, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return &doc, nil
}

// parseStrict decodes one JSON object from src into dst, rejecting any
// field dst doesn't declare. The config file's two document shapes (the
// top-level file and each include-dirs fragment) both go through this same
// strict path, so a misspelled key anywhere under supervisor/jobs surfaces
// at Load time rather than being silently dropped.
func parseStrict[T any](src io.Reader, dst *T) error {
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// mergeIncludeDir glob-reads every *.json fragment in dir and merges its
// jobs object into doc.Jobs, erroring on a job name already defined
// elsewhere rather than silently overwriting it.
func mergeIncludeDir(doc *file, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	if doc.Jobs == nil {
		doc.Jobs = make(map[string]fileJob)
	}
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %q: %w", path, err)
		}
		var inc includeFile
		err = parseStrict(f, &inc)
		f.Close()
		if err != nil {
			return fmt.Errorf("parse %q: %w", path, err)
		}
		for name, fj := range inc.Jobs {
			if _, dup := doc.Jobs[name]; dup {
				return fmt.Errorf("%q: duplicate job name %q", path, name)
			}
			doc.Jobs[name] = fj
		}
	}
	return nil
}

// expand substitutes $VAR / ${VAR} references against the process
// environment, per spec §6.
func expand(s string) string {
	if s == "" {
		return s
	}
	return os.Expand(s, os.Getenv)
}

func expandEnv(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = expand(v)
	}
	return out
}

// signalNames maps the config file's string signal names to their syscall
// values. Empty resolves to job.DefaultExitSignal.
var signalNames = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGINT":  syscall.SIGINT,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

func resolveSignal(name string) (syscall.Signal, error) {
	if name == "" {
		return job.DefaultExitSignal, nil
	}
	sig, ok := signalNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
