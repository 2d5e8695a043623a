package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ProviderRepository reads service provider profiles from MongoDB
type ProviderRepository struct {
	collection *mongo.Collection
}

func NewProviderRepository(db *mongo.Client, database string) *ProviderRepository {
	return &ProviderRepository{
		collection: db.Database(database).Collection("serviceProviders"),
	}
}

// GetProvider loads a provider by its hex id
func (r *ProviderRepository) GetProvider(ctx context.Context, providerID string) (models.ServiceProvider, error) {
	objID, err := primitive.ObjectIDFromHex(providerID)
	if err != nil {
		return models.ServiceProvider{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var provider models.ServiceProvider
	err = r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&provider)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ServiceProvider{}, ErrNotFound
	}
	if err != nil {
		return models.ServiceProvider{}, fmt.Errorf("find service provider: %w", err)
	}
	return provider, nil
}

// ResolveProviderID maps an authenticated user id to the provider it owns.
// Unified accounts share the id; legacy accounts reference the user from the profile.
func (r *ProviderRepository) ResolveProviderID(ctx context.Context, userID string) (string, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return "", ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var provider models.ServiceProvider
	filter := bson.M{"$or": bson.A{bson.M{"_id": objID}, bson.M{"userId": objID}}}
	err = r.collection.FindOne(ctx, filter).Decode(&provider)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve service provider: %w", err)
	}
	return provider.ID.Hex(), nil
}
