package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolvedImage is an input image resolved to a local path.
type ResolvedImage struct {
	Path      string // absolute filesystem path
	Reference bool   // false for the primary image
}

// Resolver resolves the images named by a manifest.
type Resolver struct {
	manifest *Manifest
}

// NewResolver creates a new image resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve returns the primary image followed by the references in
// declaration order. Duplicate paths are dropped; the first occurrence wins.
func (r *Resolver) Resolve() ([]ResolvedImage, error) {
	if r.manifest.Input.Image == "" {
		return nil, fmt.Errorf("%s: [input] image is required", filepath.Join(r.manifest.Dir, FileName))
	}

	primary, err := r.resolveOne(r.manifest.Input.Image)
	if err != nil {
		return nil, fmt.Errorf("image %q not found at %s: %w", r.manifest.Input.Image, r.manifest.ImagePath(), err)
	}

	seen := map[string]bool{primary: true}
	order := []ResolvedImage{{Path: primary}}
	for _, ref := range r.manifest.Input.References {
		path, err := r.resolveOne(ref)
		if err != nil {
			return nil, fmt.Errorf("reference %q not found at %s: %w", ref, r.manifest.Resolve(ref), err)
		}
		if seen[path] {
			continue
		}
		seen[path] = true
		order = append(order, ResolvedImage{Path: path, Reference: true})
	}
	return order, nil
}

func (r *Resolver) resolveOne(p string) (string, error) {
	path, err := filepath.Abs(r.manifest.Resolve(p))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}
