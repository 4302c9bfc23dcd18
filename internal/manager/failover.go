package manager

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/tinyman/internal/domain"
	"github.com/MrSnakeDoc/tinyman/internal/tinyurl"
)

var ErrNoFallback = errors.New("no reachable fallback url")

// FallbackSelector picks a replacement target for an unreachable resource.
type FallbackSelector interface {
	Fallback(ctx context.Context, exclude string) (string, error)
}

// FirstReachable returns the first configured URL that passes validation.
type FirstReachable struct {
	URLs      []string
	Validator tinyurl.Validator
}

func (f FirstReachable) Fallback(ctx context.Context, exclude string) (string, error) {
	exclude = domain.NormalizeURL(exclude)

	for _, raw := range f.URLs {
		candidate := domain.NormalizeURL(raw)
		if candidate == "" || candidate == exclude {
			continue
		}
		if f.Validator != nil {
			if err := f.Validator.Validate(ctx, candidate); err != nil {
				continue
			}
		}
		return candidate, nil
	}

	return "", ErrNoFallback
}
