package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Mask replaces redacted metadata values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks checkpoint metadata values whose keys
// match any of the patterns. Session payloads are never touched; they must survive for resend.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, workflowID string, cp *domain.Checkpoint) error {
	if len(cp.Metadata) == 0 {
		return m.next.Save(ctx, workflowID, cp)
	}

	// Shallow copy: only the metadata map is replaced.
	masked := *cp
	masked.Metadata = make(map[string]string, len(cp.Metadata))
	for k, v := range cp.Metadata {
		if m.matches(k) {
			v = Mask
		}
		masked.Metadata[k] = v
	}
	return m.next.Save(ctx, workflowID, &masked)
}

func (m *piiMiddleware) matches(key string) bool {
	if key == SealedKey {
		return false
	}
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error) {
	return m.next.Load(ctx, workflowID)
}

func (m *piiMiddleware) Delete(ctx context.Context, workflowID string) error {
	return m.next.Delete(ctx, workflowID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
