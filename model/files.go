package model

// FileSet holds generated files keyed by name. Iteration follows insertion
// order, which is also display order.
type FileSet struct {
	order []string
	files map[string]*GeneratedFile
}

// NewFileSet returns an empty file set.
func NewFileSet() *FileSet {
	return &FileSet{files: make(map[string]*GeneratedFile)}
}

// Put appends a file, or overwrites the code of an existing file in place.
func (s *FileSet) Put(name, code string) {
	if f, ok := s.files[name]; ok {
		f.Code = code
		return
	}
	s.files[name] = &GeneratedFile{Name: name, Code: code}
	s.order = append(s.order, name)
}

// Replace overwrites the code of an existing file. It reports false and
// leaves the set untouched when no file has that name.
func (s *FileSet) Replace(name, code string) bool {
	f, ok := s.files[name]
	if !ok {
		return false
	}
	f.Code = code
	return true
}

// Get returns a copy of the named file.
func (s *FileSet) Get(name string) (GeneratedFile, bool) {
	f, ok := s.files[name]
	if !ok {
		return GeneratedFile{}, false
	}
	return *f, true
}

// Len returns the number of files.
func (s *FileSet) Len() int { return len(s.order) }

// Names returns file names in insertion order.
func (s *FileSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Files returns copies of all files in insertion order.
func (s *FileSet) Files() []GeneratedFile {
	out := make([]GeneratedFile, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.files[name])
	}
	return out
}
