package port

// FileFinder expands glob patterns into data files.
type FileFinder interface {
	Find(root string, patterns []string) ([]string, error)
}
