package session

import (
	"context"

	"github.com/sharedcode/docstore"
)

// AddListener registers l. It may implement any of the docstore listener interfaces,
// listeners are invoked in registration order.
func (s *Session) AddListener(l any) {
	s.listeners = append(s.listeners, l)
}

func (s *Session) beforeStore(ctx context.Context, e *docstore.StoreEvent) error {
	for _, l := range s.listeners {
		if h, ok := l.(docstore.BeforeStoreListener); ok {
			if err := h.BeforeStore(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) afterStore(ctx context.Context, e *docstore.StoreEvent) error {
	for _, l := range s.listeners {
		if h, ok := l.(docstore.AfterStoreListener); ok {
			if err := h.AfterStore(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) beforeDelete(ctx context.Context, e *docstore.DeleteEvent) error {
	for _, l := range s.listeners {
		if h, ok := l.(docstore.BeforeDeleteListener); ok {
			if err := h.BeforeDelete(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) beforeConversion(ctx context.Context, e *docstore.ConversionEvent) error {
	for _, l := range s.listeners {
		if h, ok := l.(docstore.BeforeConversionListener); ok {
			if err := h.BeforeConversion(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) afterConversion(ctx context.Context, e *docstore.ConversionEvent) error {
	for _, l := range s.listeners {
		if h, ok := l.(docstore.AfterConversionListener); ok {
			if err := h.AfterConversion(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
