package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Provenance Registry Operations ---

// saveProduct marshals and writes a product record.
func (s *AgroMarketSmartContract) saveProduct(ctx contractapi.TransactionContextInterface, product *model.Product) error {
	productKey, err := s.createProductCompositeKey(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("failed to create composite key for product %d: %w", product.ID, err)
	}
	productBytes, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product %d: %w", product.ID, err)
	}
	if err := ctx.GetStub().PutState(productKey, productBytes); err != nil {
		return fmt.Errorf("failed to save product %d to ledger: %w", product.ID, err)
	}
	return nil
}

// appendOwnershipRecord writes the next link in a product's chain of custody.
// Records are append-only: seq numbering is driven by the product's transfer
// count and existing records are never touched.
func (s *AgroMarketSmartContract) appendOwnershipRecord(ctx contractapi.TransactionContextInterface, record *model.OwnershipRecord) error {
	recordKey, err := s.createOwnershipRecordKey(ctx, record.ProductID, record.Seq)
	if err != nil {
		return fmt.Errorf("failed to create ownership record key for product %d seq %d: %w", record.ProductID, record.Seq, err)
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ownership record for product %d: %w", record.ProductID, err)
	}
	if err := ctx.GetStub().PutState(recordKey, recordBytes); err != nil {
		return fmt.Errorf("failed to save ownership record for product %d: %w", record.ProductID, err)
	}
	return nil
}

// RegisterProduct creates a new product with the caller as initial holder and
// writes the first ownership record. Requires the farmer role; rejected while
// the registry is paused. Returns the new sequential product ID.
func (s *AgroMarketSmartContract) RegisterProduct(ctx contractapi.TransactionContextInterface,
	name string, category string, quantity float64, unit string, pricePerUnit uint64,
	harvestDateStr string, gradeStr string, ipfsHash string) (uint64, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("RegisterProduct: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireRegistryActive(ctx); err != nil {
		return 0, fmt.Errorf("RegisterProduct: %w", err)
	}
	if err := im.RequireRole("farmer"); err != nil {
		return 0, err
	}

	logger.Infof("Farmer '%s' (alias: '%s') registering product '%s'", actor.fullID, actor.alias, name)

	if err := s.validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(category, "category", maxStringInputLength); err != nil {
		return 0, err
	}
	if quantity <= 0 {
		return 0, errors.New("quantity must be positive")
	}
	if err := s.validateRequiredString(unit, "unit", maxStringInputLength); err != nil {
		return 0, err
	}
	harvestDate, err := parseDateString(harvestDateStr, "harvestDate", true)
	if err != nil {
		return 0, err
	}
	grade, err := parseGrade(gradeStr)
	if err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(ipfsHash, "ipfsHash", maxStringInputLength); err != nil {
		return 0, err
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("RegisterProduct: failed to get transaction timestamp: %w", err)
	}

	productID, err := s.nextSequence(ctx, productObjectType)
	if err != nil {
		return 0, fmt.Errorf("RegisterProduct: failed to allocate product ID: %w", err)
	}

	product := model.Product{
		ObjectType:         productObjectType,
		ID:                 productID,
		Name:               name,
		Category:           category,
		Quantity:           quantity,
		Unit:               unit,
		PricePerUnit:       pricePerUnit,
		HarvestDate:        harvestDate,
		Grade:              grade,
		IPFSHash:           ipfsHash,
		CurrentHolder:      actor.fullID,
		CurrentHolderAlias: actor.alias,
		Status:             model.ProductRegistered,
		TransferCount:      0,
		QualityCheckCount:  0,
		CreatedAt:          now,
		LastUpdatedAt:      now,
	}
	if err := s.saveProduct(ctx, &product); err != nil {
		return 0, fmt.Errorf("RegisterProduct: %w", err)
	}

	// Registration itself appends the first custody record, so history length
	// is always transfers + 1.
	firstRecord := model.OwnershipRecord{
		ObjectType: ownershipRecordObjectType,
		ProductID:  productID,
		Seq:        1,
		From:       "",
		To:         actor.fullID,
		ToAlias:    actor.alias,
		Location:   "",
		Timestamp:  now,
	}
	if err := s.appendOwnershipRecord(ctx, &firstRecord); err != nil {
		return 0, fmt.Errorf("RegisterProduct: %w", err)
	}

	s.emitEvent(ctx, "ProductRegistered", map[string]interface{}{
		"productId":   productID,
		"name":        name,
		"category":    category,
		"grade":       grade,
		"harvestDate": harvestDate,
		"holder":      actor.fullID,
		"holderAlias": actor.alias,
	})
	logger.Infof("Product %d ('%s') registered by farmer '%s'", productID, name, actor.alias)
	return productID, nil
}

// TransferOwnership hands custody of a product to another identity and
// appends the corresponding ownership record. Only the current holder may
// transfer; self-transfers are rejected.
func (s *AgroMarketSmartContract) TransferOwnership(ctx contractapi.TransactionContextInterface,
	productID uint64, to string, location string) error {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("TransferOwnership: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireRegistryActive(ctx); err != nil {
		return fmt.Errorf("TransferOwnership: %w", err)
	}

	if err := s.validateRequiredString(to, "to", maxStringInputLength*2); err != nil {
		return err
	}
	if err := s.validateOptionalString(location, "location", maxStringInputLength); err != nil {
		return err
	}

	product, err := s.getProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("TransferOwnership: %w", err)
	}
	if product.CurrentHolder != actor.fullID {
		return fmt.Errorf("unauthorized: caller '%s' is not the current holder of product %d", actor.alias, productID)
	}

	toFullID, err := im.ResolveIdentity(to)
	if err != nil {
		return fmt.Errorf("TransferOwnership: failed to resolve recipient '%s': %w", to, err)
	}
	if toFullID == product.CurrentHolder {
		return fmt.Errorf("product %d is already held by '%s': cannot transfer to self", productID, to)
	}
	toAlias := to
	if toInfo, err := im.GetIdentityInfo(toFullID); err == nil && toInfo != nil {
		toAlias = toInfo.ShortName
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("TransferOwnership: failed to get transaction timestamp: %w", err)
	}

	record := model.OwnershipRecord{
		ObjectType: ownershipRecordObjectType,
		ProductID:  productID,
		Seq:        product.TransferCount + 2, // Record 1 was written at registration
		From:       product.CurrentHolder,
		FromAlias:  product.CurrentHolderAlias,
		To:         toFullID,
		ToAlias:    toAlias,
		Location:   location,
		Timestamp:  now,
	}
	if err := s.appendOwnershipRecord(ctx, &record); err != nil {
		return fmt.Errorf("TransferOwnership: %w", err)
	}

	product.TransferCount++
	product.CurrentHolder = toFullID
	product.CurrentHolderAlias = toAlias
	product.LastUpdatedAt = now
	if err := s.saveProduct(ctx, product); err != nil {
		return fmt.Errorf("TransferOwnership: %w", err)
	}

	s.emitEvent(ctx, "OwnershipTransferred", map[string]interface{}{
		"productId": productID,
		"from":      record.From,
		"fromAlias": record.FromAlias,
		"to":        toFullID,
		"toAlias":   toAlias,
		"location":  location,
		"timestamp": now,
	})
	logger.Infof("Product %d transferred from '%s' to '%s' at '%s'", productID, record.FromAlias, toAlias, location)
	return nil
}

// UpdateProductStatus overwrites a product's status. Current holder or admin
// only. The note travels on the event for audit purposes; no ownership record
// is appended.
func (s *AgroMarketSmartContract) UpdateProductStatus(ctx contractapi.TransactionContextInterface,
	productID uint64, statusStr string, note string) error {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateProductStatus: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireRegistryActive(ctx); err != nil {
		return fmt.Errorf("UpdateProductStatus: %w", err)
	}

	status, err := parseProductStatus(statusStr)
	if err != nil {
		return err
	}
	if err := s.validateOptionalString(note, "note", maxNotesLength); err != nil {
		return err
	}

	product, err := s.getProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("UpdateProductStatus: %w", err)
	}
	if product.CurrentHolder != actor.fullID {
		isCallerAdmin, admErr := im.IsCurrentUserAdmin()
		if admErr != nil {
			return fmt.Errorf("UpdateProductStatus: failed to check admin status: %w", admErr)
		}
		if !isCallerAdmin {
			return fmt.Errorf("unauthorized: only the current holder or an admin can update status of product %d", productID)
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateProductStatus: failed to get transaction timestamp: %w", err)
	}

	oldStatus := product.Status
	product.Status = status
	product.LastUpdatedAt = now
	if err := s.saveProduct(ctx, product); err != nil {
		return fmt.Errorf("UpdateProductStatus: %w", err)
	}

	s.emitEvent(ctx, "ProductStatusUpdated", map[string]interface{}{
		"productId": productID,
		"oldStatus": oldStatus,
		"newStatus": status,
		"note":      note,
		"updatedBy": actor.fullID,
	})
	logger.Infof("Product %d status updated from '%s' to '%s' by '%s'", productID, oldStatus, status, actor.alias)
	return nil
}

// UpdateProductPrice sets a new per-unit price. Current holder only.
func (s *AgroMarketSmartContract) UpdateProductPrice(ctx contractapi.TransactionContextInterface,
	productID uint64, newPrice uint64) error {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateProductPrice: failed to get actor info: %w", err)
	}
	if err := s.requireRegistryActive(ctx); err != nil {
		return fmt.Errorf("UpdateProductPrice: %w", err)
	}

	product, err := s.getProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("UpdateProductPrice: %w", err)
	}
	if product.CurrentHolder != actor.fullID {
		return fmt.Errorf("unauthorized: caller '%s' is not the current holder of product %d", actor.alias, productID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateProductPrice: failed to get transaction timestamp: %w", err)
	}

	oldPrice := product.PricePerUnit
	product.PricePerUnit = newPrice
	product.LastUpdatedAt = now
	if err := s.saveProduct(ctx, product); err != nil {
		return fmt.Errorf("UpdateProductPrice: %w", err)
	}

	s.emitEvent(ctx, "ProductPriceUpdated", map[string]interface{}{
		"productId": productID,
		"oldPrice":  oldPrice,
		"newPrice":  newPrice,
		"updatedBy": actor.fullID,
	})
	logger.Infof("Product %d price updated from %d to %d by '%s'", productID, oldPrice, newPrice, actor.alias)
	return nil
}
