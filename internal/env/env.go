// Package env composes the environment handed to spawned bots.
package env

import (
	"os"
	"sort"
	"strings"

	"github.com/subosito/gotenv"
)

// Unbuffered is forced into every bot environment so output reaches the log
// ring line by line instead of in block-buffered bursts.
const Unbuffered = "PYTHONUNBUFFERED=1"

type Var map[string]string

type Env struct {
	Var   Var  // global variables (K->V)
	UseOS bool // start from the supervisor's own environment
	env   Var  // cached base from OS environment
}

func New(useOS bool) *Env {
	return &Env{
		Var:   make(Var),
		UseOS: useOS,
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		k, v, ok := split(kv)
		if !ok {
			continue
		}
		base[k] = v
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// AddPairs sets globals from "K=V" strings; malformed entries are skipped.
func (e *Env) AddPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// LoadFiles reads dotenv files in order; later files override earlier ones.
func (e *Env) LoadFiles(paths ...string) error {
	for _, p := range paths {
		vars, err := gotenv.Read(p)
		if err != nil {
			return err
		}
		for k, v := range vars {
			e.Set(k, v)
		}
	}
	return nil
}

// Merge composes the final environment list applying order:
// base = OS env (when UseOS)
// then apply global e.Var overrides
// then apply perBot (slice of "K=V") overrides
// then force PYTHONUNBUFFERED=1.
// ${VAR} references are expanded against the composed map (no recursion).
// The result is sorted by key.
func (e *Env) Merge(perBot []string) []string {
	m := make(Var)
	if e.UseOS {
		if e.env == nil {
			e.FromOS()
		}
		for k, v := range e.env {
			m[k] = v
		}
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perBot {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	k, v, _ := split(Unbuffered)
	m[k] = v

	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 { // no '=' or empty key
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
