package config

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/docforge-build/docforge/target"
)

// Flavor selects which documentation set a build produces.
type Flavor string

const (
	// FlavorStable builds the docs for the latest stable release.
	FlavorStable Flavor = "stable"
	// FlavorPrerelease builds the in-progress docs from the default branches.
	FlavorPrerelease Flavor = "prerelease"
	// FlavorRelease builds the archived docs for one shipped release.
	FlavorRelease Flavor = "release"
)

// diffableTimestamp is the fixed placeholder substituted for {timestamp} in
// diffable mode so repeated builds are byte-identical.
const diffableTimestamp = "TIMESTAMP_PLACEHOLDER"

func ParseFlavor(s string) (Flavor, error) {
	switch f := Flavor(strings.ToLower(s)); f {
	case FlavorStable, FlavorPrerelease, FlavorRelease:
		return f, nil
	default:
		return "", errors.Errorf("unknown flavor %q (want stable, prerelease or release)", s)
	}
}

// BaseVars builds the substitution set resolved once per invocation. The
// config file sees these as both {var} references and the vars dict.
func BaseVars(flavor Flavor, version, genDir string, diffable bool) target.Vars {
	outdir := path.Join(genDir, string(flavor))
	if flavor == FlavorRelease {
		outdir = path.Join(genDir, string(flavor), version)
	}
	ts := time.Now().UTC().Format(time.RFC1123)
	if diffable {
		ts = diffableTimestamp
	}
	return target.Vars{
		"flavor":    string(flavor),
		"version":   version,
		"gen":       genDir,
		"outdir":    outdir,
		"timestamp": ts,
	}
}

// ResolveVersion picks the version string: an explicit flag wins, then a
// VERSION file next to the config, then "dev".
func ResolveVersion(explicit, configPath string) string {
	if explicit != "" {
		return explicit
	}
	data, err := os.ReadFile(path.Join(path.Dir(configPath), "VERSION"))
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v
		}
	}
	return "dev"
}
