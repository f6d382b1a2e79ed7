// Package asset handles asset specifications ("package:relative/path") and
// the asset overrides registered by configuration.
package asset

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/symbol"
)

// Split splits an asset spec into package name and path. Absolute paths and
// specs without a package return an empty package name.
func Split(spec string) (pkg, path string) {
	if filepath.IsAbs(spec) {
		return "", spec
	}
	i := strings.Index(spec, ":")
	if i < 0 {
		return "", spec
	}
	return spec[:i], spec[i+1:]
}

// Join builds an asset spec.
func Join(pkg, path string) string {
	if pkg == "" {
		return path
	}
	return pkg + ":" + path
}

// IsSpec reports whether s names a package-qualified asset.
func IsSpec(s string) bool {
	pkg, _ := Split(s)
	return pkg != ""
}

// SpecFromAbsPath converts an absolute path inside pkg's directory into an
// asset spec. Paths outside the package are returned unchanged.
func SpecFromAbsPath(abs string, pkg *symbol.Package) string {
	if pkg == nil || pkg.Dir == "" {
		return abs
	}
	dir, err := filepath.Abs(pkg.Dir)
	if err != nil {
		return abs
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return abs
	}
	spec := filepath.ToSlash(rel)
	if strings.HasSuffix(abs, string(filepath.Separator)) {
		spec += "/"
	}
	return Join(pkg.Name, spec)
}

// Override maps a file or directory of one package onto another.
type Override struct {
	Package   string
	Prefix    string
	ToPackage string
	ToPrefix  string
	Info      string
	directory bool
}

// String renders the override as "from -> to".
func (o Override) String() string {
	return Join(o.Package, o.Prefix) + " -> " + Join(o.ToPackage, o.ToPrefix)
}

// match returns the overriding spec for path, if o applies to it.
func (o Override) match(pkg, path string) (string, bool) {
	if pkg != o.Package {
		return "", false
	}
	if !o.directory {
		if path != o.Prefix {
			return "", false
		}
		return Join(o.ToPackage, o.ToPrefix), true
	}
	if o.Prefix != "" && !strings.HasPrefix(path, o.Prefix) {
		return "", false
	}
	return Join(o.ToPackage, o.ToPrefix+strings.TrimPrefix(path, o.Prefix)), true
}

// Overrides holds registered overrides. Later insertions take precedence.
type Overrides struct {
	mu   sync.RWMutex
	list []Override
}

// NewOverrides creates an empty override set.
func NewOverrides() *Overrides {
	return &Overrides{}
}

// ValidateOverride checks the shape of an override without registering it.
// A directory (trailing slash or bare package) may only be overridden by a
// directory and a file only by a file.
func ValidateOverride(toOverride, overrideWith string) error {
	if toOverride == overrideWith {
		return action.Errorf("you cannot override an asset with itself")
	}
	fromPkg, fromPath := Split(toOverride)
	toPkg, toPath := Split(overrideWith)
	if fromPkg == "" {
		fromPkg, fromPath = fromPath, ""
	}
	if toPkg == "" {
		toPkg, toPath = toPath, ""
	}

	fromDir := fromPath == "" || strings.HasSuffix(fromPath, "/")
	toDir := toPath == "" || strings.HasSuffix(toPath, "/")
	if fromDir && !toDir {
		return action.Errorf("a directory cannot be overridden with a file (put a slash at the end of override_with if necessary)")
	}
	if !fromDir && toDir {
		return action.Errorf("a file cannot be overridden with a directory (remove the slash from the end of override_with if necessary)")
	}
	return nil
}

// Insert registers an override of toOverride by overrideWith.
func (o *Overrides) Insert(toOverride, overrideWith, info string) error {
	if err := ValidateOverride(toOverride, overrideWith); err != nil {
		return err
	}
	fromPkg, fromPath := Split(toOverride)
	toPkg, toPath := Split(overrideWith)
	if fromPkg == "" {
		fromPkg, fromPath = fromPath, ""
	}
	if toPkg == "" {
		toPkg, toPath = toPath, ""
	}

	ov := Override{
		Package:   fromPkg,
		Prefix:    fromPath,
		ToPackage: toPkg,
		ToPrefix:  toPath,
		Info:      info,
		directory: fromPath == "" || strings.HasSuffix(fromPath, "/"),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, ov)
	return nil
}

// List returns the registered overrides, most recent first.
func (o *Overrides) List() []Override {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Override, 0, len(o.list))
	for i := len(o.list) - 1; i >= 0; i-- {
		out = append(out, o.list[i])
	}
	return out
}

// Candidates returns the specs to try for spec, overriding specs first and
// the original spec last.
func (o *Overrides) Candidates(spec string) []string {
	pkg, path := Split(spec)
	if pkg == "" {
		return []string{spec}
	}
	var out []string
	for _, ov := range o.List() {
		if s, ok := ov.match(pkg, path); ok {
			out = append(out, s)
		}
	}
	return append(out, spec)
}

// Resolver turns asset specs into filesystem paths using the package table
// and the registered overrides.
type Resolver struct {
	Symbols   *symbol.Table
	Overrides *Overrides
}

// NewResolver creates a resolver over tbl with an empty override set.
func NewResolver(tbl *symbol.Table) *Resolver {
	return &Resolver{Symbols: tbl, Overrides: NewOverrides()}
}

// path maps one spec to a path without consulting overrides. Relative paths
// without a package are resolved against pkg.
func (r *Resolver) path(spec, pkg string) (string, error) {
	name, rel := Split(spec)
	if name == "" {
		if filepath.IsAbs(rel) || pkg == "" {
			return filepath.Clean(rel), nil
		}
		name = pkg
	}
	p, ok := r.Symbols.Package(name)
	if !ok {
		return "", action.Errorf("unknown package %q in asset spec %q", name, spec)
	}
	return filepath.Join(p.Dir, filepath.FromSlash(rel)), nil
}

// Abs returns the path of the first existing candidate for spec, or the
// original location when no candidate exists.
func (r *Resolver) Abs(spec, pkg string) (string, error) {
	if name, _ := Split(spec); name == "" && pkg != "" && !filepath.IsAbs(spec) {
		spec = Join(pkg, spec)
	}
	candidates := r.Overrides.Candidates(spec)
	for _, c := range candidates[:len(candidates)-1] {
		p, err := r.path(c, pkg)
		if err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return r.path(candidates[len(candidates)-1], pkg)
}

// Exists reports whether spec resolves to an existing file or directory.
func (r *Resolver) Exists(spec, pkg string) bool {
	p, err := r.Abs(spec, pkg)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// ReadFile reads the asset named by spec.
func (r *Resolver) ReadFile(spec, pkg string) ([]byte, error) {
	p, err := r.Abs(spec, pkg)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// FS returns a filesystem rooted at the directory spec. Files are looked up
// in overriding directories first.
func (r *Resolver) FS(spec, pkg string) (fs.FS, error) {
	if name, _ := Split(spec); name == "" && pkg != "" && !filepath.IsAbs(spec) {
		spec = Join(pkg, spec)
	}
	var layers []fs.FS
	for _, c := range r.Overrides.Candidates(spec) {
		p, err := r.path(c, pkg)
		if err != nil {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			layers = append(layers, os.DirFS(p))
		}
	}
	if len(layers) == 0 {
		return nil, &fs.PathError{Op: "open", Path: spec, Err: fs.ErrNotExist}
	}
	return overlay(layers), nil
}

// overlay opens a name from the first layer that has it.
type overlay []fs.FS

func (o overlay) Open(name string) (fs.File, error) {
	var firstErr error
	for _, layer := range o {
		f, err := layer.Open(name)
		if err == nil {
			return f, nil
		}
		if firstErr == nil || !errors.Is(err, fs.ErrNotExist) {
			firstErr = err
		}
	}
	return nil, firstErr
}
