package core

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// An action turns a `uses:` reference plus its `with:` parameters into
// the shell script the step actually runs. Actions are built in; a
// pipeline referencing an unknown one fails validation.
type action func(with map[string]string) (string, error)

var builtinActions = map[string]action{
	"checkout":     checkoutAction,
	"setup-python": setupPythonAction,
}

// ResolveStep returns the shell script for a step, expanding an action
// reference when the step has one.
func ResolveStep(s Step) (string, error) {
	if s.Uses == "" {
		return s.Run, nil
	}
	act, ok := builtinActions[s.Uses]
	if !ok {
		return "", errors.Errorf("step %q: unknown action %q", s.Name, s.Uses)
	}
	script, err := act(s.With)
	if err != nil {
		return "", errors.Wrapf(err, "step %q", s.Name)
	}
	return script, nil
}

// checkoutAction fetches repository contents into the working
// directory. With an existing clone it resets to the requested ref
// instead of recloning.
func checkoutAction(with map[string]string) (string, error) {
	repo := with["repository"]
	if repo == "" {
		return "", errors.New("checkout: repository is required")
	}
	ref := with["ref"]
	if ref == "" {
		ref = "HEAD"
	}
	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "if [ -d .git ]; then git fetch --depth=1 origin %s && git checkout --force FETCH_HEAD; ", shellQuote(ref))
	fmt.Fprintf(&b, "else git clone --depth=1 %s . && git checkout --force %s; fi\n", shellQuote(repo), shellQuote(ref))
	return b.String(), nil
}

// setupPythonAction makes the requested interpreter available as
// `python` on PATH via a virtual environment in the working directory.
func setupPythonAction(with map[string]string) (string, error) {
	version := with["python-version"]
	if version == "" {
		return "", errors.New("setup-python: python-version is required")
	}
	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "python%s --version\n", version)
	fmt.Fprintf(&b, "python%s -m venv .venv\n", version)
	b.WriteString(". .venv/bin/activate\n")
	return b.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
