package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.starlark.net/starlark"

	"github.com/docforge-build/docforge/target"
)

// Config is the parsed target table for one build invocation: the declarative
// set of targets and pattern rules with every variable already resolved.
type Config struct {
	Targets *target.Table
	Rules   *target.RuleSet
}

// ModuleCache is used to store loaded Starlark modules.
type ModuleCache struct {
	modules map[string]starlark.StringDict
	mutex   sync.RWMutex
}

// NewModuleCache creates a new ModuleCache.
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]starlark.StringDict),
	}
}

// Get retrieves a module from the cache.
func (mc *ModuleCache) Get(key string) (starlark.StringDict, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	module, ok := mc.modules[key]
	return module, ok
}

// Set stores a module in the cache.
func (mc *ModuleCache) Set(key string, module starlark.StringDict) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modules[key] = module
}

// loader accumulates declarations made by the Starlark builtins. The build
// vars are fixed before execution starts, so expansion happens at load time
// and the resulting table is immutable afterwards.
type loader struct {
	vars     target.Vars
	ruleVars target.Vars // vars plus identity placeholders for rule templates
	targets  *target.Table
	rules    *target.RuleSet
}

func newLoader(vars target.Vars) *loader {
	return &loader{
		vars: vars,
		ruleVars: vars.Merge(target.Vars{
			"stem":   "{stem}",
			"source": "{source}",
			"target": "{target}",
		}),
		targets: target.NewTable(),
		rules:   target.NewRuleSet(),
	}
}

// Load executes the Starlark config file and returns the resolved target
// table. Declarations happen through the predeclared target(), rule() and
// repo() builtins; the resolved variables are exposed as the vars dict.
func Load(filename string, vars target.Vars) (*Config, error) {
	l := newLoader(vars)

	predeclared := starlark.StringDict{
		"vars":   varsDict(vars),
		"target": starlark.NewBuiltin("target", l.declareTarget),
		"rule":   starlark.NewBuiltin("rule", l.declareRule),
		"repo":   starlark.NewBuiltin("repo", l.declareRepo),
	}

	cache := NewModuleCache()
	thread := &starlark.Thread{
		Name: filename,
		Load: func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
			return loadModule(thread, module, predeclared, cache)
		},
	}
	thread.SetLocal("moduleCache", cache)

	if _, err := starlark.ExecFile(thread, filename, nil, predeclared); err != nil {
		return nil, errors.Wrap(err, "failed to execute Starlark config")
	}
	if l.targets.Len() == 0 {
		return nil, errors.Errorf("config %s declares no targets", filename)
	}
	return &Config{Targets: l.targets, Rules: l.rules}, nil
}

// loadModule implements load() with caching, resolving relative paths against
// the loading file.
func loadModule(thread *starlark.Thread, module string, predeclared starlark.StringDict, cache *ModuleCache) (starlark.StringDict, error) {
	if cachedModule, ok := cache.Get(module); ok {
		return cachedModule, nil
	}

	filename := module
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(filepath.Dir(thread.Name), filename)
	}

	globals, err := starlark.ExecFile(thread, filename, nil, predeclared)
	if err != nil {
		return nil, err
	}

	cache.Set(module, globals)
	return globals, nil
}

func (l *loader) declareTarget(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name, shell, dir        string
		cmd, deps, inputs, outs *starlark.List
		env                     *starlark.Dict
		phony                   bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"cmd?", &cmd,
		"shell?", &shell,
		"deps?", &deps,
		"inputs?", &inputs,
		"outputs?", &outs,
		"dir?", &dir,
		"env?", &env,
		"phony?", &phony,
	); err != nil {
		return nil, err
	}

	t := &target.Target{Name: name, Phony: phony}
	var err error
	if t.TargetDeps, err = stringList(deps, "deps"); err != nil {
		return nil, err
	}
	if t.FileDeps, err = stringList(inputs, "inputs"); err != nil {
		return nil, err
	}
	if t.Outputs, err = stringList(outs, "outputs"); err != nil {
		return nil, err
	}
	action, err := buildAction(cmd, shell, dir, env)
	if err != nil {
		return nil, errors.Wrapf(err, "target %s", name)
	}
	t.Action = action

	expanded, err := l.vars.ExpandTarget(t)
	if err != nil {
		return nil, err
	}
	if err := l.targets.Add(expanded); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (l *loader) declareRule(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		targetPat, sourcePat, shell, dir string
		cmd, deps                        *starlark.List
		env                              *starlark.Dict
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"target", &targetPat,
		"source", &sourcePat,
		"cmd?", &cmd,
		"shell?", &shell,
		"dir?", &dir,
		"env?", &env,
		"deps?", &deps,
	); err != nil {
		return nil, err
	}

	action, err := buildAction(cmd, shell, dir, env)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %s", targetPat)
	}
	if action == nil {
		return nil, errors.Errorf("rule %s has no action", targetPat)
	}
	targetDeps, err := stringList(deps, "deps")
	if err != nil {
		return nil, err
	}

	// Expand build vars now; the {stem}/{source}/{target} placeholders stay
	// literal until synthesis.
	r := &target.Rule{
		TargetPattern: targetPat,
		SourcePattern: sourcePat,
		Action:        action,
		TargetDeps:    targetDeps,
	}
	if r.TargetPattern, err = l.ruleVars.Expand(r.TargetPattern); err != nil {
		return nil, errors.Wrapf(err, "rule %s", targetPat)
	}
	if r.SourcePattern, err = l.ruleVars.Expand(r.SourcePattern); err != nil {
		return nil, errors.Wrapf(err, "rule %s", targetPat)
	}
	probe := &target.Target{Name: "rule", Action: r.Action}
	expanded, err := l.ruleVars.ExpandTarget(probe)
	if err != nil {
		return nil, errors.Wrapf(err, "rule %s", targetPat)
	}
	r.Action = expanded.Action
	if r.TargetDeps, err = expandAll(l.vars, r.TargetDeps); err != nil {
		return nil, errors.Wrapf(err, "rule %s", targetPat)
	}
	if err := l.rules.Add(r); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (l *loader) declareRepo(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name, url, rev, dir string
		deps                *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"url", &url,
		"dir", &dir,
		"rev?", &rev,
		"deps?", &deps,
	); err != nil {
		return nil, err
	}
	targetDeps, err := stringList(deps, "deps")
	if err != nil {
		return nil, err
	}
	t := &target.Target{
		Name:       name,
		TargetDeps: targetDeps,
		Fetch:      &target.FetchSpec{URL: url, Rev: rev, Dir: dir},
	}
	expanded, err := l.vars.ExpandTarget(t)
	if err != nil {
		return nil, err
	}
	if err := l.targets.Add(expanded); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func buildAction(cmd *starlark.List, shell, dir string, env *starlark.Dict) (*target.Action, error) {
	argv, err := stringList(cmd, "cmd")
	if err != nil {
		return nil, err
	}
	envMap, err := stringDict(env, "env")
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 && shell == "" {
		if dir != "" || len(envMap) > 0 {
			return nil, errors.New("dir/env given without cmd or shell")
		}
		return nil, nil
	}
	return &target.Action{Argv: argv, Shell: shell, Dir: dir, Env: envMap}, nil
}

func expandAll(vars target.Vars, in []string) ([]string, error) {
	out := make([]string, len(in))
	for i, s := range in {
		e, err := vars.Expand(s)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func varsDict(vars target.Vars) *starlark.Dict {
	d := starlark.NewDict(len(vars))
	for k, v := range vars {
		_ = d.SetKey(starlark.String(k), starlark.String(v))
	}
	return d
}

func stringList(list *starlark.List, key string) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	var result []string
	iter := list.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := x.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected string in list for %s, got %s", key, x.Type())
		}
		result = append(result, str.GoString())
	}
	return result, nil
}

func stringDict(dict *starlark.Dict, key string) (map[string]string, error) {
	if dict == nil {
		return nil, nil
	}
	result := make(map[string]string, dict.Len())
	for _, item := range dict.Items() {
		k, ok := item.Index(0).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected string key in %s, got %s", key, item.Index(0).Type())
		}
		v, ok := item.Index(1).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("expected string value in %s, got %s", key, item.Index(1).Type())
		}
		result[k.GoString()] = v.GoString()
	}
	return result, nil
}
