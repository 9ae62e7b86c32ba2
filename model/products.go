package model

import "time"

// ProductStatus defines the possible states of a registered product.
type ProductStatus string

const (
	ProductRegistered ProductStatus = "REGISTERED" // Product registered by farmer
	ProductListed     ProductStatus = "LISTED"     // Product listed for sale
	ProductInTransit  ProductStatus = "IN_TRANSIT" // Product handed to a distributor
	ProductDelivered  ProductStatus = "DELIVERED"  // Product received at destination
	ProductSold       ProductStatus = "SOLD"       // Product sold to an end buyer
	ProductRecalled   ProductStatus = "RECALLED"   // Product withdrawn from sale
)

// Grade defines the quality grades a product can carry.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// Product is the central provenance record for one agricultural product.
type Product struct {
	ObjectType         string        `json:"objectType"` // "Product"
	ID                 uint64        `json:"id"`         // Sequential, starts at 1
	Name               string        `json:"name"`
	Category           string        `json:"category"`
	Quantity           float64       `json:"quantity"`
	Unit               string        `json:"unit"`
	PricePerUnit       uint64        `json:"pricePerUnit"`
	HarvestDate        time.Time     `json:"harvestDate"`
	Grade              Grade         `json:"grade"` // Latest quality check wins
	IPFSHash           string        `json:"ipfsHash"`
	CurrentHolder      string        `json:"currentHolder"` // Whoever custodies the physical product
	CurrentHolderAlias string        `json:"currentHolderAlias"`
	Status             ProductStatus `json:"status"`
	TransferCount      uint64        `json:"transferCount"`
	QualityCheckCount  uint64        `json:"qualityCheckCount"`
	CreatedAt          time.Time     `json:"createdAt"`
	LastUpdatedAt      time.Time     `json:"lastUpdatedAt"`
}

// OwnershipRecord is one link in a product's append-only chain of custody.
// Registration writes the first record with an empty From, so a product with
// N transfers always has N+1 records. Records are never edited or removed.
type OwnershipRecord struct {
	ObjectType string    `json:"objectType"` // "OwnershipRecord"
	ProductID  uint64    `json:"productId"`
	Seq        uint64    `json:"seq"`
	From       string    `json:"from"`
	FromAlias  string    `json:"fromAlias"`
	To         string    `json:"to"`
	ToAlias    string    `json:"toAlias"`
	Location   string    `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
}

// QualityCheck is one inspection record for a product. Adding a check updates
// the product's current grade; the full history is retained.
type QualityCheck struct {
	ObjectType     string    `json:"objectType"` // "QualityCheck"
	ProductID      uint64    `json:"productId"`
	Seq            uint64    `json:"seq"`
	Grade          Grade     `json:"grade"`
	ReportHash     string    `json:"reportHash"`
	Notes          string    `json:"notes"`
	Inspector      string    `json:"inspector"`
	InspectorAlias string    `json:"inspectorAlias"`
	Timestamp      time.Time `json:"timestamp"`
}

// SystemState is the global pause switch for the provenance registry.
type SystemState struct {
	ObjectType string    `json:"objectType"` // "SystemState"
	Paused     bool      `json:"paused"`
	UpdatedBy  string    `json:"updatedBy"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
