package pipeline

import (
	"path/filepath"
	"sync"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

// inFlight records the artifact paths currently being written, across every
// Runner in the process.
var inFlight = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

// claimArtifact reserves path for one conversion. The returned func releases
// the reservation and must be called exactly once.
func claimArtifact(path string) (func(), error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}

	inFlight.Lock()
	defer inFlight.Unlock()
	if _, busy := inFlight.paths[key]; busy {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"artifact %s is being written by another conversion", filepath.Base(path))
	}
	inFlight.paths[key] = struct{}{}
	return func() {
		inFlight.Lock()
		delete(inFlight.paths, key)
		inFlight.Unlock()
	}, nil
}
