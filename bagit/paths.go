package bagit

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Well known names inside a bag.
const (
	DataDir    = "data"
	BagitTxt   = "bagit.txt"
	BagInfoTxt = "bag-info.txt"
	FetchTxt   = "fetch.txt"
)

// ManifestKind distinguishes payload manifests from tag manifests.
type ManifestKind int

const (
	PayloadManifest ManifestKind = iota
	TagManifest
)

func (k ManifestKind) String() string {
	if k == TagManifest {
		return "tagmanifest"
	}
	return "manifest"
}

// PayloadDir returns the payload directory of the bag at root.
func PayloadDir(root string) string { return filepath.Join(root, DataDir) }

// BagitFile returns the path of the bag declaration file.
func BagitFile(root string) string { return filepath.Join(root, BagitTxt) }

// InfoFile returns the path of bag-info.txt.
func InfoFile(root string) string { return filepath.Join(root, BagInfoTxt) }

// FetchFile returns the path of fetch.txt.
func FetchFile(root string) string { return filepath.Join(root, FetchTxt) }

// ManifestName returns the file name of a manifest, e.g. "manifest-md5.txt"
// or "tagmanifest-sha256.txt".
func ManifestName(kind ManifestKind, alg string) string {
	return kind.String() + "-" + strings.ToLower(alg) + ".txt"
}

// ManifestFile returns the full path of a manifest in the bag at root.
func ManifestFile(root string, kind ManifestKind, alg string) string {
	return filepath.Join(root, ManifestName(kind, alg))
}

// ParseManifestName is the inverse of ManifestName. It returns false if
// name is not a manifest file name.
func ParseManifestName(name string) (ManifestKind, string, bool) {
	if !strings.HasSuffix(name, ".txt") {
		return 0, "", false
	}
	base := strings.TrimSuffix(name, ".txt")
	var kind ManifestKind
	switch {
	case strings.HasPrefix(base, "tagmanifest-"):
		kind = TagManifest
		base = strings.TrimPrefix(base, "tagmanifest-")
	case strings.HasPrefix(base, "manifest-"):
		kind = PayloadManifest
		base = strings.TrimPrefix(base, "manifest-")
	default:
		return 0, "", false
	}
	if base == "" || strings.ContainsAny(base, "/\\") {
		return 0, "", false
	}
	return kind, base, true
}

// PayloadPath converts a payload relative path into a bag relative one.
func PayloadPath(rel string) string { return DataDir + "/" + rel }

// cleanRelative normalizes a slash separated relative path and rejects
// paths which are empty, absolute, or climb out of their directory.
func cleanRelative(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", errors.Wrapf(ErrInvalidPath, "%q", rel)
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Wrapf(ErrInvalidPath, "%q", rel)
	}
	return clean, nil
}

// isTagManifestName reports whether a root level file name is a tag
// manifest. Tag manifests never list themselves or each other.
func isTagManifestName(name string) bool {
	kind, _, ok := ParseManifestName(name)
	return ok && kind == TagManifest
}

func normalizeAlgorithms(algs []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range algs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
