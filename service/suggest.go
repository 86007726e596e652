package service

import (
	"context"
	"fmt"
	"strings"

	imagevault "github.com/wolfeidau/image-vault"
)

// SuggestForContent recommends cached images for a piece of text content.
// When candidates is nil the whole cache is considered. Only candidates
// above the relevance floor are returned, best first, truncated to
// maxSuggestions.
func (s *Service) SuggestForContent(ctx context.Context, text string, candidates []*imagevault.ImageRecord, maxSuggestions int) ([]*imagevault.ImageRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty content text: %w", ErrValidation)
	}

	if candidates == nil {
		var err error
		candidates, err = s.cache.ListRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("list suggestion candidates: %w", err)
		}
	}

	return s.ranker.Suggest(text, candidates, maxSuggestions), nil
}
