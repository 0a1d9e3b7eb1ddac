// Package gate statically checks a source tree for the integrity
// primitives a deployment depends on and decides whether it may ship.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

type Result struct {
	ID     string `json:"id"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Check inspects the tree rooted at root.
type Check struct {
	ID  string
	Run func(tree *Tree) Result
}

type Report struct {
	Root    string   `json:"root"`
	Results []Result `json:"results"`
}

func (r Report) PassedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Failed returns the ids of failing checks in check order.
func (r Report) Failed() []string {
	var ids []string
	for _, res := range r.Results {
		if !res.Passed {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Authorized is true only when every check passed.
func (r Report) Authorized() bool {
	return len(r.Results) > 0 && len(r.Failed()) == 0
}

// Run executes every check concurrently. Results keep the order of checks.
func Run(ctx context.Context, root string, checks []Check) (Report, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Report{}, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Report{}, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("root %s is not a directory", abs)
	}
	tree, err := LoadTree(abs)
	if err != nil {
		return Report{}, err
	}

	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := c.Run(tree)
			res.ID = c.ID
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return Report{Root: abs, Results: results}, nil
}

// WriteText prints one line per check, the tally and the decision.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	for _, res := range r.Results {
		mark := "PASS"
		if !res.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %-22s %s\n", mark, res.ID, res.Detail)
	}
	fmt.Fprintf(&b, "%d passed, %d failed\n", r.PassedCount(), len(r.Results)-r.PassedCount())
	if r.Authorized() {
		b.WriteString("deployment authorized\n")
	} else {
		fmt.Fprintf(&b, "deployment blocked: %s\n", strings.Join(r.Failed(), ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

type jsonReport struct {
	Report
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Authorized bool   `json:"authorized"`
	Decision   string `json:"decision"`
}

func WriteJSON(w io.Writer, r Report) error {
	out := jsonReport{
		Report:     r,
		Passed:     r.PassedCount(),
		Failed:     len(r.Results) - r.PassedCount(),
		Authorized: r.Authorized(),
		Decision:   "deployment blocked",
	}
	if out.Authorized {
		out.Decision = "deployment authorized"
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
