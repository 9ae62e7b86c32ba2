package contract

import (
	"encoding/json"
	"fmt"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Internal Fetch Helpers ---

func (s *AgroMarketSmartContract) getPaymentByID(ctx contractapi.TransactionContextInterface, paymentID uint64) (*model.Payment, error) {
	paymentKey, err := s.createPaymentCompositeKey(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to create composite key for payment %d: %w", paymentID, err)
	}
	paymentBytes, err := ctx.GetStub().GetState(paymentKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment %d from ledger: %w", paymentID, err)
	}
	if paymentBytes == nil {
		return nil, fmt.Errorf("payment with ID %d does not exist", paymentID)
	}
	var payment model.Payment
	if err := json.Unmarshal(paymentBytes, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment %d: %w", paymentID, err)
	}
	return &payment, nil
}

func (s *AgroMarketSmartContract) getProductByID(ctx contractapi.TransactionContextInterface, productID uint64) (*model.Product, error) {
	productKey, err := s.createProductCompositeKey(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to create composite key for product %d: %w", productID, err)
	}
	productBytes, err := ctx.GetStub().GetState(productKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read product %d from ledger: %w", productID, err)
	}
	if productBytes == nil {
		return nil, fmt.Errorf("product with ID %d does not exist", productID)
	}
	var product model.Product
	if err := json.Unmarshal(productBytes, &product); err != nil {
		return nil, fmt.Errorf("failed to unmarshal product %d: %w", productID, err)
	}
	return &product, nil
}

// --- Escrow Queries ---

// GetPayment returns a single payment record by ID.
func (s *AgroMarketSmartContract) GetPayment(ctx contractapi.TransactionContextInterface, paymentID uint64) (*model.Payment, error) {
	logger.Debugf("Chaincode Call: GetPayment %d", paymentID)
	return s.getPaymentByID(ctx, paymentID)
}

// CanAutoRelease reports whether a payment is eligible for admin-driven
// release: still escrowed and past its agreed release time.
func (s *AgroMarketSmartContract) CanAutoRelease(ctx contractapi.TransactionContextInterface, paymentID uint64) (bool, error) {
	payment, err := s.getPaymentByID(ctx, paymentID)
	if err != nil {
		return false, fmt.Errorf("CanAutoRelease: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return false, fmt.Errorf("CanAutoRelease: failed to get transaction timestamp: %w", err)
	}
	return payment.Status == model.PaymentEscrowed && !now.Before(payment.ReleaseTime), nil
}

// GetTotalPayments returns how many payments have ever been created.
func (s *AgroMarketSmartContract) GetTotalPayments(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return s.readSequence(ctx, paymentObjectType)
}

// GetMyPayments returns every payment where the caller is buyer or seller.
func (s *AgroMarketSmartContract) GetMyPayments(ctx contractapi.TransactionContextInterface) ([]model.Payment, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetMyPayments: failed to get actor info: %w", err)
	}
	logger.Debugf("Chaincode Call: GetMyPayments for '%s'", actor.alias)

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(paymentObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetMyPayments: failed to query payments: %w", err)
	}
	defer iterator.Close()

	payments := []model.Payment{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetMyPayments: failed to iterate payments: %w", err)
		}
		var payment model.Payment
		if err := json.Unmarshal(response.Value, &payment); err != nil {
			logger.Warningf("GetMyPayments: skipping unmarshalable payment record at key %s: %v", response.Key, err)
			continue
		}
		if payment.Buyer == actor.fullID || payment.Seller == actor.fullID {
			payments = append(payments, payment)
		}
	}
	return payments, nil
}

// GetBalance returns the internal account balance of an identity or alias.
func (s *AgroMarketSmartContract) GetBalance(ctx contractapi.TransactionContextInterface, identityOrAlias string) (uint64, error) {
	im := NewIdentityManager(ctx)
	fullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		return 0, fmt.Errorf("GetBalance: failed to resolve identity '%s': %w", identityOrAlias, err)
	}
	account, err := s.getAccount(ctx, fullID)
	if err != nil {
		return 0, fmt.Errorf("GetBalance: %w", err)
	}
	return account.Balance, nil
}

// GetPlatformConfig returns the current global settlement configuration.
func (s *AgroMarketSmartContract) GetPlatformConfig(ctx contractapi.TransactionContextInterface) (*model.PlatformConfig, error) {
	return s.loadPlatformConfig(ctx)
}

// --- Provenance Queries ---

// GetProduct returns a single product record by ID.
func (s *AgroMarketSmartContract) GetProduct(ctx contractapi.TransactionContextInterface, productID uint64) (*model.Product, error) {
	logger.Debugf("Chaincode Call: GetProduct %d", productID)
	return s.getProductByID(ctx, productID)
}

// GetProductHistory returns a product's full chain of custody in order, from
// registration to the latest transfer.
func (s *AgroMarketSmartContract) GetProductHistory(ctx contractapi.TransactionContextInterface, productID uint64) ([]model.OwnershipRecord, error) {
	if _, err := s.getProductByID(ctx, productID); err != nil {
		return nil, fmt.Errorf("GetProductHistory: %w", err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(ownershipRecordObjectType, []string{padID(productID)})
	if err != nil {
		return nil, fmt.Errorf("GetProductHistory: failed to query ownership records for product %d: %w", productID, err)
	}
	defer iterator.Close()

	records := []model.OwnershipRecord{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetProductHistory: failed to iterate ownership records: %w", err)
		}
		var record model.OwnershipRecord
		if err := json.Unmarshal(response.Value, &record); err != nil {
			return nil, fmt.Errorf("GetProductHistory: failed to unmarshal ownership record at key %s: %w", response.Key, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// GetQualityChecks returns every inspection record for a product in order.
func (s *AgroMarketSmartContract) GetQualityChecks(ctx contractapi.TransactionContextInterface, productID uint64) ([]model.QualityCheck, error) {
	if _, err := s.getProductByID(ctx, productID); err != nil {
		return nil, fmt.Errorf("GetQualityChecks: %w", err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(qualityCheckObjectType, []string{padID(productID)})
	if err != nil {
		return nil, fmt.Errorf("GetQualityChecks: failed to query quality checks for product %d: %w", productID, err)
	}
	defer iterator.Close()

	checks := []model.QualityCheck{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetQualityChecks: failed to iterate quality checks: %w", err)
		}
		var check model.QualityCheck
		if err := json.Unmarshal(response.Value, &check); err != nil {
			return nil, fmt.Errorf("GetQualityChecks: failed to unmarshal quality check at key %s: %w", response.Key, err)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// GetTotalProducts returns how many products have ever been registered.
func (s *AgroMarketSmartContract) GetTotalProducts(ctx contractapi.TransactionContextInterface) (uint64, error) {
	return s.readSequence(ctx, productObjectType)
}

// GetProductsByHolder returns every product currently held by an identity or alias.
func (s *AgroMarketSmartContract) GetProductsByHolder(ctx contractapi.TransactionContextInterface, identityOrAlias string) ([]model.Product, error) {
	im := NewIdentityManager(ctx)
	holderFullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		return nil, fmt.Errorf("GetProductsByHolder: failed to resolve identity '%s': %w", identityOrAlias, err)
	}
	logger.Debugf("Chaincode Call: GetProductsByHolder for '%s'", identityOrAlias)

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(productObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetProductsByHolder: failed to query products: %w", err)
	}
	defer iterator.Close()

	products := []model.Product{}
	for iterator.HasNext() {
		response, err := iterator.Next()
		if err != nil {
			return nil, fmt.Errorf("GetProductsByHolder: failed to iterate products: %w", err)
		}
		var product model.Product
		if err := json.Unmarshal(response.Value, &product); err != nil {
			logger.Warningf("GetProductsByHolder: skipping unmarshalable product record at key %s: %v", response.Key, err)
			continue
		}
		if product.CurrentHolder == holderFullID {
			products = append(products, product)
		}
	}
	return products, nil
}

// IsRegistryPaused reports whether the provenance registry is paused.
func (s *AgroMarketSmartContract) IsRegistryPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	state, err := s.loadSystemState(ctx)
	if err != nil {
		return false, fmt.Errorf("IsRegistryPaused: %w", err)
	}
	return state.Paused, nil
}
