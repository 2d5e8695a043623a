package repositories

import (
	"context"
	"time"

	"github.com/HSouheill/barrim_settlement/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// NotificationRepository stores in-app notifications
type NotificationRepository struct {
	collection *mongo.Collection
}

func NewNotificationRepository(db *mongo.Client, database string) *NotificationRepository {
	return &NotificationRepository{
		collection: db.Database(database).Collection("notifications"),
	}
}

// SaveNotification saves a notification to the recipient's inbox
func (r *NotificationRepository) SaveNotification(ctx context.Context, recipientID, title, message, notifType string, data interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	notification := models.Notification{
		ID:          primitive.NewObjectID(),
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Type:        notifType,
		Data:        data,
		IsRead:      false,
		CreatedAt:   time.Now(),
	}

	_, err := r.collection.InsertOne(ctx, notification)
	return err
}
