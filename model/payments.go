package model

import "time"

// PaymentStatus defines the possible states of an escrowed payment.
type PaymentStatus string

const (
	PaymentEscrowed PaymentStatus = "ESCROWED" // Funds locked in escrow, awaiting settlement
	PaymentReleased PaymentStatus = "RELEASED" // Funds paid out to seller (minus platform fee)
	PaymentRefunded PaymentStatus = "REFUNDED" // Full principal returned to buyer
)

// Payment is the escrow record for a single marketplace order. Payments are
// never deleted; terminal records remain on the ledger as the audit trail.
type Payment struct {
	ObjectType        string        `json:"objectType"` // "Payment"
	ID                uint64        `json:"id"`         // Sequential, starts at 1
	OrderID           string        `json:"orderId"`
	Buyer             string        `json:"buyer"`
	BuyerAlias        string        `json:"buyerAlias"`
	Seller            string        `json:"seller"`
	SellerAlias       string        `json:"sellerAlias"`
	Amount            uint64        `json:"amount"` // Fixed at creation, always positive
	ReleaseTime       time.Time     `json:"releaseTime"`
	CreatedAt         time.Time     `json:"createdAt"`
	SettledAt         time.Time     `json:"settledAt"`
	Status            PaymentStatus `json:"status"`
	Disputed          bool          `json:"disputed"`
	FeePercentApplied uint64        `json:"feePercentApplied"` // Recorded at settlement, zero while escrowed
	FeeCollected      uint64        `json:"feeCollected"`
}

// PlatformConfig is the global settlement configuration. It is read fresh at
// every settlement, so a fee change applies to any payment still escrowed.
type PlatformConfig struct {
	ObjectType     string    `json:"objectType"` // "PlatformConfig"
	FeePercent     uint64    `json:"feePercent"`
	PlatformWallet string    `json:"platformWallet"`
	UpdatedBy      string    `json:"updatedBy"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Account holds the internal balance of a marketplace participant. Escrowed
// value always moves between accounts and payment records, never off ledger.
type Account struct {
	ObjectType    string    `json:"objectType"` // "Account"
	Owner         string    `json:"owner"`
	Balance       uint64    `json:"balance"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}
