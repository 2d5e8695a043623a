package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ServiceProvider is the subset of the provider profile the settlement engine needs
type ServiceProvider struct {
	ID           primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID       primitive.ObjectID `json:"userId,omitempty" bson:"userId,omitempty"`
	BusinessName string             `json:"businessName,omitempty" bson:"businessName,omitempty"`
	Email        string             `json:"email,omitempty" bson:"email,omitempty"`
	Phone        string             `json:"phone,omitempty" bson:"phone,omitempty"`
	Status       string             `json:"status,omitempty" bson:"status,omitempty"`
	FCMToken     string             `json:"fcmToken,omitempty" bson:"fcmToken,omitempty"`
	ContactInfo  ContactInfo        `json:"contactInfo,omitempty" bson:"contactInfo,omitempty"`
	// Billing holds the processor references used for automated collection
	Billing ProviderBilling `json:"billing,omitempty" bson:"billing,omitempty"`
}

// ContactInfo holds the provider's nested contact details
type ContactInfo struct {
	Phone    string `json:"phone,omitempty" bson:"phone,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty" bson:"whatsapp,omitempty"`
	Website  string `json:"website,omitempty" bson:"website,omitempty"`
}

// ProviderBilling references the provider's processor sub-account and stored card
type ProviderBilling struct {
	SubAccountID         string `json:"subAccountId,omitempty" bson:"subAccountId,omitempty"`
	DefaultPaymentMethod string `json:"defaultPaymentMethod,omitempty" bson:"defaultPaymentMethod,omitempty"`
}

// ContactEmail returns the address commission emails go to
func (p ServiceProvider) ContactEmail() string {
	return p.Email
}

// HasSubAccount reports whether balance debits are possible
func (p ServiceProvider) HasSubAccount() bool {
	return p.Billing.SubAccountID != ""
}

// HasPaymentMethod reports whether an off-session card charge is possible
func (p ServiceProvider) HasPaymentMethod() bool {
	return p.Billing.DefaultPaymentMethod != ""
}
