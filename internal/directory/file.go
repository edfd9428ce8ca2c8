package directory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// FileSource reads a YAML roster of experts:
//
//	experts:
//	  - id: rec_kyoto
//	    profession: Temple guide
//	    bio: Born and raised in Kyoto.
//
// The file is re-read on every fetch, so an invalidation picks up edits.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the YAML file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type roster struct {
	Experts []model.Candidate `yaml:"experts"`
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// ListCandidates implements Source.
func (s *FileSource) ListCandidates(_ context.Context) ([]model.Candidate, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("directory: read roster: %w", err)
	}
	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("directory: parse roster %s: %w", s.path, err)
	}
	return r.Experts, nil
}
