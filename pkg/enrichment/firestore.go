package enrichment

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when the source holds no document for a key.
var ErrNotFound = errors.New("document not found")

// FirestoreSource reads documents of one collection, keyed by document ID.
type FirestoreSource[K comparable, V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a FirestoreSource over collectionName.
func NewFirestoreSource[K comparable, V any](
	collectionName string,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[K, V], error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, errors.New("firestore collection name is required")
	}
	return &FirestoreSource[K, V]{
		client:         client,
		collectionName: collectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Str("collection", collectionName).Logger(),
	}, nil
}

// Fetch retrieves the document with ID key.
func (s *FirestoreSource[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)
	docSnap, err := s.client.Collection(s.collectionName).Doc(stringKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return zero, fmt.Errorf("%w: %s", ErrNotFound, stringKey)
		}
		return zero, fmt.Errorf("firestore get for %s: %w", stringKey, err)
	}

	var value V
	if err := docSnap.DataTo(&value); err != nil {
		return zero, fmt.Errorf("firestore DataTo for %s: %w", stringKey, err)
	}
	s.logger.Debug().Str("key", stringKey).Msg("Fetched document from Firestore.")
	return value, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *FirestoreSource[K, V]) Close() error {
	return nil
}
