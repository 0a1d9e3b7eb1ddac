package gate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"sort"
	"strings"
)

// AuditedWrapper is the only non-test file allowed to call row mutations.
const AuditedWrapper = "internal/ledger/audited.go"

// AppendOnlyTables must be guarded by UPDATE and DELETE rejecting triggers.
var AppendOnlyTables = []string{"audit_events", "evidence_artifacts", "governance_proof_packs"}

var rowMutations = map[string]bool{"InsertRow": true, "UpdateRow": true, "DeleteRow": true}

// DefaultChecks is the fixed, ordered check list of the gate.
func DefaultChecks() []Check {
	return []Check{
		{ID: "CANONICAL-HASHER", Run: exportsCheck("internal/core", "CanonicalJSON", "Hash")},
		{ID: "HASH-CHAIN", Run: exportsCheck("internal/ledger", "ComputeEventHash", "VerifyChain")},
		{ID: "MERKLE-ROOT", Run: exportsCheck("internal/evidence", "MerkleRoot", "BuildPack")},
		{ID: "EVIDENCE-SEALING", Run: exportsCheck("internal/seal", "SealPack", "VerifySeal")},
		{ID: "PROOF-SECTIONS", Run: exportsCheck("internal/proof", "GenerateSection", "ComputeVerdict", "GenerateProofPack")},
		{ID: "APPEND-ONLY-COLUMNS", Run: appendOnlyColumns},
		{ID: "IMMUTABILITY-TRIGGER", Run: immutabilityTriggers},
		{ID: "AUDITED-WRITES", Run: auditedWrites},
	}
}

// exportedFuncs returns the exported top-level functions of a package.
func exportedFuncs(t *Tree, dir string) (map[string]bool, error) {
	funcs := make(map[string]bool)
	fset := token.NewFileSet()
	for _, rel := range t.PackageFiles(dir) {
		src, err := t.Read(rel)
		if err != nil {
			return nil, err
		}
		file, err := parser.ParseFile(fset, rel, src, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rel, err)
		}
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !fn.Name.IsExported() {
				continue
			}
			funcs[fn.Name.Name] = true
		}
	}
	return funcs, nil
}

func exportsCheck(dir string, names ...string) func(*Tree) Result {
	return func(t *Tree) Result {
		if len(t.PackageFiles(dir)) == 0 {
			return Result{Detail: fmt.Sprintf("package %s not found", dir)}
		}
		funcs, err := exportedFuncs(t, dir)
		if err != nil {
			return Result{Detail: err.Error()}
		}
		var missing []string
		for _, n := range names {
			if !funcs[n] {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return Result{Detail: fmt.Sprintf("%s is missing %s", dir, strings.Join(missing, ", "))}
		}
		return Result{Passed: true, Detail: fmt.Sprintf("%s exports %s", dir, strings.Join(names, ", "))}
	}
}

var (
	createTableRe = regexp.MustCompile(`(?is)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+)\s*\((.*?)\n\s*\);`)
	triggerRe     = regexp.MustCompile(`(?is)CREATE\s+(?:OR\s+REPLACE\s+)?TRIGGER\s+(?:IF\s+NOT\s+EXISTS\s+)?\w+\s+BEFORE\s+((?:INSERT|UPDATE|DELETE)(?:\s+OR\s+(?:INSERT|UPDATE|DELETE))*)\s+ON\s+(\w+)`)
	raiseRe       = regexp.MustCompile(`(?i)\bRAISE\b`)
	opRe          = regexp.MustCompile(`(?i)INSERT|UPDATE|DELETE`)
)

type migrationSet struct {
	tables   map[string]string          // table -> column block
	triggers map[string]map[string]bool // table -> ops
	raises   bool
}

// migrationSets groups migrations by directory: each directory is one
// schema and must carry its own guards.
func migrationSets(t *Tree) (map[string]*migrationSet, error) {
	sets := make(map[string]*migrationSet)
	for _, rel := range t.SQLFiles {
		src, err := t.Read(rel)
		if err != nil {
			return nil, err
		}
		src = stripDown(src)
		dir := path.Dir(rel)
		set, ok := sets[dir]
		if !ok {
			set = &migrationSet{tables: map[string]string{}, triggers: map[string]map[string]bool{}}
			sets[dir] = set
		}
		for _, m := range createTableRe.FindAllStringSubmatch(src, -1) {
			set.tables[strings.ToLower(m[1])] = m[2]
		}
		for _, m := range triggerRe.FindAllStringSubmatch(src, -1) {
			table := strings.ToLower(m[2])
			if set.triggers[table] == nil {
				set.triggers[table] = map[string]bool{}
			}
			for _, op := range opRe.FindAllString(m[1], -1) {
				set.triggers[table][strings.ToUpper(op)] = true
			}
		}
		if raiseRe.MatchString(src) {
			set.raises = true
		}
	}
	return sets, nil
}

func stripDown(src string) string {
	if i := strings.Index(src, "-- +migrate Down"); i >= 0 {
		return src[:i]
	}
	return src
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var hashColumnRe = regexp.MustCompile(`(?im)^\s*(hash|previous_hash)\s+\w+`)

func appendOnlyColumns(t *Tree) Result {
	sets, err := migrationSets(t)
	if err != nil {
		return Result{Detail: err.Error()}
	}
	var found, problems []string
	for _, dir := range sortedKeys(sets) {
		cols, ok := sets[dir].tables["audit_events"]
		if !ok {
			continue
		}
		found = append(found, dir)
		have := map[string]bool{}
		for _, m := range hashColumnRe.FindAllStringSubmatch(cols, -1) {
			have[strings.ToLower(m[1])] = true
		}
		for _, c := range []string{"hash", "previous_hash"} {
			if !have[c] {
				problems = append(problems, fmt.Sprintf("%s: audit_events lacks %s", dir, c))
			}
		}
	}
	if len(found) == 0 {
		return Result{Detail: "no migration creates audit_events"}
	}
	if len(problems) > 0 {
		return Result{Detail: strings.Join(problems, "; ")}
	}
	return Result{Passed: true, Detail: fmt.Sprintf("audit_events has hash and previous_hash in %s", strings.Join(found, ", "))}
}

func immutabilityTriggers(t *Tree) Result {
	sets, err := migrationSets(t)
	if err != nil {
		return Result{Detail: err.Error()}
	}
	created := map[string]bool{}
	var problems []string
	for _, dir := range sortedKeys(sets) {
		set := sets[dir]
		for _, table := range AppendOnlyTables {
			if _, ok := set.tables[table]; !ok {
				continue
			}
			created[table] = true
			ops := set.triggers[table]
			for _, op := range []string{"UPDATE", "DELETE"} {
				if !ops[op] {
					problems = append(problems, fmt.Sprintf("%s: %s has no %s trigger", dir, table, op))
				}
			}
			if len(ops) > 0 && !set.raises {
				problems = append(problems, fmt.Sprintf("%s: triggers on %s never raise", dir, table))
			}
		}
	}
	for _, table := range AppendOnlyTables {
		if !created[table] {
			problems = append(problems, fmt.Sprintf("no migration creates %s", table))
		}
	}
	if len(problems) > 0 {
		return Result{Detail: strings.Join(problems, "; ")}
	}
	return Result{Passed: true, Detail: fmt.Sprintf("UPDATE/DELETE rejected on %s", strings.Join(AppendOnlyTables, ", "))}
}

func auditedWrites(t *Tree) Result {
	wrapper := false
	for _, rel := range t.GoFiles {
		if rel == AuditedWrapper {
			wrapper = true
		}
	}
	if !wrapper {
		return Result{Detail: AuditedWrapper + " not found"}
	}
	var violations []string
	fset := token.NewFileSet()
	for _, rel := range t.GoFiles {
		if strings.HasSuffix(rel, "_test.go") || rel == AuditedWrapper {
			continue
		}
		src, err := t.Read(rel)
		if err != nil {
			return Result{Detail: err.Error()}
		}
		file, err := parser.ParseFile(fset, rel, src, parser.SkipObjectResolution)
		if err != nil {
			return Result{Detail: fmt.Sprintf("parse %s: %v", rel, err)}
		}
		ast.Inspect(file, func(node ast.Node) bool {
			call, ok := node.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel == nil || !rowMutations[sel.Sel.Name] {
				return true
			}
			violations = append(violations, fmt.Sprintf("%s:%d %s", rel, fset.Position(sel.Sel.Pos()).Line, sel.Sel.Name))
			return true
		})
	}
	if len(violations) > 0 {
		return Result{Detail: "unaudited row writes: " + strings.Join(violations, ", ")}
	}
	return Result{Passed: true, Detail: "row mutations only through " + AuditedWrapper}
}
