package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// InvalidationMap is the server-side reference of the cache collaborator
// contract: it deterministically maps a delivered event to the query keys a
// client must invalidate. Rules are CEL expressions over the event payload,
// loaded from config so the per-event key sets stay documented in one place.
type InvalidationMap struct {
	rules map[string][]string

	env      *cel.Env
	programs sync.Map // expression string -> cel.Program
}

type invalidationRulesFile struct {
	Version int                 `yaml:"version"`
	Events  map[string][]string `yaml:"events"`
}

func ParseInvalidationRulesYAML(b []byte) (*InvalidationMap, error) {
	var f invalidationRulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("invalidation: unsupported version")
	}
	if len(f.Events) == 0 {
		return nil, errors.New("invalidation: no event rules")
	}

	env, err := cel.NewEnv(cel.Variable("payload", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return nil, err
	}
	m := &InvalidationMap{rules: f.Events, env: env}

	// Compile eagerly so a bad expression fails at load, not at delivery.
	for eventName, exprs := range f.Events {
		for _, expr := range exprs {
			if _, err := m.program(expr); err != nil {
				return nil, fmt.Errorf("invalidation: event %q: %w", eventName, err)
			}
		}
	}
	return m, nil
}

func LoadInvalidationRules(path string) (*InvalidationMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseInvalidationRulesYAML(b)
}

func (m *InvalidationMap) program(expr string) (cel.Program, error) {
	if cached, ok := m.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := m.env.Program(ast)
	if err != nil {
		return nil, err
	}
	m.programs.Store(expr, prg)
	return prg, nil
}

// Keys evaluates the event's rules against its payload and returns the
// sorted, de-duplicated key set. Unknown events invalidate nothing.
func (m *InvalidationMap) Keys(ev Event) ([]string, error) {
	exprs, ok := m.rules[ev.EventName]
	if !ok {
		return nil, nil
	}

	payload := map[string]string{}
	if len(ev.Payload) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(ev.Payload, &raw); err != nil {
			// Batched events carry array payloads; their rules can only be
			// constants, evaluated against an empty payload map.
			if !json.Valid(ev.Payload) {
				return nil, err
			}
		}
		for k, v := range raw {
			payload[k] = fmt.Sprintf("%v", v)
		}
	}

	seen := map[string]bool{}
	var keys []string
	for _, expr := range exprs {
		prg, err := m.program(expr)
		if err != nil {
			return nil, err
		}
		out, _, err := prg.Eval(map[string]any{"payload": payload})
		if err != nil {
			return nil, fmt.Errorf("invalidation: event %q: %w", ev.EventName, err)
		}
		key, ok := out.Value().(string)
		if !ok {
			return nil, fmt.Errorf("invalidation: event %q: rule %q is not a string", ev.EventName, expr)
		}
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
