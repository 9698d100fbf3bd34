// SPDX-License-Identifier: MPL-2.0

// Package detect decides whether a directory holds a site project by probing
// it for well-known framework marker files.
package detect

import (
	"path/filepath"
	"regexp"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"
)

// configExtensions are the variants probed for multi-extension markers.
var configExtensions = []string{".js", ".cjs", ".mjs", ".ts"}

type (
	// Rule matches a marker file, optionally requiring its content to match
	// a pattern.
	Rule struct {
		// File is the marker base name, e.g. "next.config".
		File string
		// MultiExtension probes File with every config extension instead of
		// the bare name.
		MultiExtension bool
		// Match, when set, must match the marker file's content.
		Match *regexp.Regexp
	}

	// Match reports the rule and file that matched.
	Match struct {
		Rule Rule
		Path string
	}

	probe struct {
		rule int
		path string
	}
)

// DefaultRules is the ordered marker table for supported site frameworks.
var DefaultRules = []Rule{
	{File: "next.config", MultiExtension: true},
	{File: "astro.config", MultiExtension: true},
	{File: "remix.config", MultiExtension: true},
	{File: "svelte.config", MultiExtension: true},
	{File: "vite.config", MultiExtension: true, Match: regexp.MustCompile(`solid-start`)},
	{File: "vite.config", MultiExtension: true, Match: regexp.MustCompile(`@sveltejs/kit`)},
	{File: "angular.json"},
	{File: "index.html"},
}

// Names returns the candidate file names the rule probes.
func (r Rule) Names() []string {
	if !r.MultiExtension {
		return []string{r.File}
	}
	names := make([]string, 0, len(configExtensions))
	for _, ext := range configExtensions {
		names = append(names, r.File+ext)
	}
	return names
}

// Detect probes dir against rules in parallel and returns the first rule, in
// table order, with a matching file. Unreadable or missing files never match.
func Detect(fs afero.Fs, dir string, rules []Rule) (Match, bool) {
	var probes []probe
	for i, rule := range rules {
		for _, name := range rule.Names() {
			probes = append(probes, probe{rule: i, path: filepath.Join(dir, name)})
		}
	}

	hits := iter.Map(probes, func(p *probe) bool {
		return matches(fs, p.path, rules[p.rule].Match)
	})

	for i, hit := range hits {
		if hit {
			return Match{Rule: rules[probes[i].rule], Path: probes[i].path}, true
		}
	}
	return Match{}, false
}

// IsSite reports whether dir matches any of the DefaultRules on the OS file
// system.
func IsSite(dir string) bool {
	_, ok := Detect(afero.NewOsFs(), dir, DefaultRules)
	return ok
}

func matches(fs afero.Fs, path string, pattern *regexp.Regexp) bool {
	info, err := fs.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if pattern == nil {
		return true
	}
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return false
	}
	return pattern.Match(content)
}
