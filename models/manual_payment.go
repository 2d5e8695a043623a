package models

import "time"

// ManualPaymentStatus is the review state of a provider-reported cash transfer
type ManualPaymentStatus string

const (
	ManualPaymentUnderReview           ManualPaymentStatus = "under_review"
	ManualPaymentApproved              ManualPaymentStatus = "approved"
	ManualPaymentRejected              ManualPaymentStatus = "rejected"
	ManualPaymentResubmissionRequested ManualPaymentStatus = "resubmission_requested"
)

// Decision is an admin verdict on a manual payment claim
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionResubmit Decision = "resubmit"
)

// ResultingStatus maps a decision onto the payment status it produces
func (d Decision) ResultingStatus() (ManualPaymentStatus, bool) {
	switch d {
	case DecisionApprove:
		return ManualPaymentApproved, true
	case DecisionReject:
		return ManualPaymentRejected, true
	case DecisionResubmit:
		return ManualPaymentResubmissionRequested, true
	}
	return "", false
}

// ReceiptRef locates an uploaded transfer receipt in object storage
type ReceiptRef struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key" validate:"required"`
	Filename string `json:"filename"`
}

// ReceiptLocator is handed to providers so they can upload a receipt directly
type ReceiptLocator struct {
	ReceiptRef
	UploadURL string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ManualCashPayment is a provider's self-reported transfer awaiting admin review
type ManualCashPayment struct {
	ID            string                 `json:"id"`
	ProviderID    string                 `json:"providerId"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        ManualPaymentStatus    `json:"status"`
	Reference     string                 `json:"reference,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
	Receipt       ReceiptRef             `json:"receipt"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	DecidedBy     string                 `json:"decidedBy,omitempty"`
	DecisionNotes string                 `json:"decisionNotes,omitempty"`
	DecidedAt     *time.Time             `json:"decidedAt,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// IsDecidable reports whether an admin may still approve or reject the claim
func (p ManualCashPayment) IsDecidable() bool {
	return p.Status == ManualPaymentUnderReview
}

// ManualPaymentRequest is the body of a provider's manual payment submission
type ManualPaymentRequest struct {
	Amount    int64                  `json:"amount" validate:"required,gt=0"`
	Currency  string                 `json:"currency" validate:"required,len=3,alpha"`
	Receipt   ReceiptRef             `json:"receipt" validate:"required"`
	Reference string                 `json:"reference,omitempty" validate:"max=128"`
	Notes     string                 `json:"notes,omitempty" validate:"max=1000"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ManualPaymentResult reports how a claim was bound to outstanding debts
type ManualPaymentResult struct {
	Payment        ManualCashPayment `json:"payment"`
	AppliedDebtIDs []string          `json:"appliedDebtIds"`
	TotalDue       int64             `json:"totalDue"`
	Difference     int64             `json:"difference"`
}

// DecisionRequest is the body of an admin decision on a claim
type DecisionRequest struct {
	Decision Decision `json:"decision" validate:"required,oneof=approve reject resubmit"`
	Notes    string   `json:"notes,omitempty" validate:"max=1000"`
}

// DecisionResult reports the outcome of an admin decision
type DecisionResult struct {
	Payment         ManualCashPayment `json:"payment"`
	AffectedDebtIDs []string          `json:"affectedDebtIds"`
}

// ReceiptUploadRequest asks for a pre-signed receipt upload locator
type ReceiptUploadRequest struct {
	Filename string `json:"filename" validate:"required,max=200"`
}
