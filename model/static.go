package model

import "context"

// Static is a deterministic Generator that always returns the same
// reply or error. It serves tests and offline deployments where the
// coordinator's fallback synthesis is the desired behavior.
type Static struct {
	Reply string
	Err   error
}

// Generate implements Generator.
func (s *Static) Generate(_ context.Context, _ string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}
