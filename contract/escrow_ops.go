package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Escrow Payment Operations ---

// savePayment marshals and writes a payment record.
func (s *AgroMarketSmartContract) savePayment(ctx contractapi.TransactionContextInterface, payment *model.Payment) error {
	paymentKey, err := s.createPaymentCompositeKey(ctx, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to create composite key for payment %d: %w", payment.ID, err)
	}
	paymentBytes, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal payment %d: %w", payment.ID, err)
	}
	if err := ctx.GetStub().PutState(paymentKey, paymentBytes); err != nil {
		return fmt.Errorf("failed to save payment %d to ledger: %w", payment.ID, err)
	}
	return nil
}

// requireEscrowed rejects any mutation of a payment that has reached a
// terminal state. RELEASED and REFUNDED are final; the status machine only
// ever moves ESCROWED -> {RELEASED, REFUNDED}.
func requireEscrowed(payment *model.Payment) error {
	switch payment.Status {
	case model.PaymentEscrowed:
		return nil
	case model.PaymentReleased, model.PaymentRefunded:
		return fmt.Errorf("payment %d is already %s: terminal payments cannot be mutated", payment.ID, payment.Status)
	default:
		return fmt.Errorf("payment %d has unknown status '%s'", payment.ID, payment.Status)
	}
}

// CreatePayment locks the caller's funds in escrow for an order. The caller
// becomes the buyer. Returns the new sequential payment ID.
func (s *AgroMarketSmartContract) CreatePayment(ctx contractapi.TransactionContextInterface,
	orderID string, seller string, releaseTimeStr string, amount uint64) (uint64, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreatePayment: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)

	logger.Infof("Buyer '%s' (alias: '%s') creating payment for order '%s', amount %d", actor.fullID, actor.alias, orderID, amount)

	if err := s.validateRequiredString(orderID, "orderId", maxStringInputLength); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errors.New("amount must be positive")
	}
	if err := s.validateRequiredString(seller, "seller", maxStringInputLength*2); err != nil {
		return 0, err
	}
	releaseTime, err := parseDateString(releaseTimeStr, "releaseTime", true)
	if err != nil {
		return 0, err
	}

	sellerFullID, err := im.ResolveIdentity(seller)
	if err != nil {
		return 0, fmt.Errorf("CreatePayment: failed to resolve seller '%s': %w", seller, err)
	}
	if sellerFullID == actor.fullID {
		return 0, errors.New("buyer and seller cannot be the same identity")
	}
	sellerAlias := seller
	if sellerInfo, err := im.GetIdentityInfo(sellerFullID); err == nil && sellerInfo != nil {
		sellerAlias = sellerInfo.ShortName
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreatePayment: failed to get transaction timestamp: %w", err)
	}

	// Lock the buyer's funds before the payment record exists. If the debit
	// fails the whole transaction reverts and nothing is persisted.
	if err := s.debitAccount(ctx, actor.fullID, amount, now); err != nil {
		return 0, fmt.Errorf("CreatePayment: %w", err)
	}

	paymentID, err := s.nextSequence(ctx, paymentObjectType)
	if err != nil {
		return 0, fmt.Errorf("CreatePayment: failed to allocate payment ID: %w", err)
	}

	payment := model.Payment{
		ObjectType:  paymentObjectType,
		ID:          paymentID,
		OrderID:     orderID,
		Buyer:       actor.fullID,
		BuyerAlias:  actor.alias,
		Seller:      sellerFullID,
		SellerAlias: sellerAlias,
		Amount:      amount,
		ReleaseTime: releaseTime,
		CreatedAt:   now,
		Status:      model.PaymentEscrowed,
		Disputed:    false,
	}
	if err := s.savePayment(ctx, &payment); err != nil {
		return 0, fmt.Errorf("CreatePayment: %w", err)
	}

	s.emitEvent(ctx, "PaymentCreated", map[string]interface{}{
		"paymentId":   paymentID,
		"orderId":     orderID,
		"buyer":       actor.fullID,
		"buyerAlias":  actor.alias,
		"seller":      sellerFullID,
		"sellerAlias": sellerAlias,
		"amount":      amount,
		"releaseTime": releaseTime,
		"createdAt":   now,
	})
	logger.Infof("Payment %d created for order '%s' by buyer '%s' (%d escrowed)", paymentID, orderID, actor.alias, amount)
	return paymentID, nil
}

// ReleasePayment settles an escrowed payment to the seller. The buyer may
// release at any time; an admin may release only once the agreed release time
// has passed (the auto-release path). The platform fee is read from the
// current global configuration at settlement, not snapshotted at creation.
func (s *AgroMarketSmartContract) ReleasePayment(ctx contractapi.TransactionContextInterface, paymentID uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ReleasePayment: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)

	payment, err := s.getPaymentByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("ReleasePayment: %w", err)
	}
	if err := requireEscrowed(payment); err != nil {
		return fmt.Errorf("ReleasePayment: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ReleasePayment: failed to get transaction timestamp: %w", err)
	}

	if actor.fullID != payment.Buyer {
		isCallerAdmin, admErr := im.IsCurrentUserAdmin()
		if admErr != nil {
			return fmt.Errorf("ReleasePayment: failed to check admin status: %w", admErr)
		}
		if !isCallerAdmin {
			return fmt.Errorf("unauthorized: only the buyer or an admin can release payment %d", paymentID)
		}
		if now.Before(payment.ReleaseTime) {
			return fmt.Errorf("release time for payment %d not reached: admin release available from %s", paymentID, payment.ReleaseTime.Format(time.RFC3339))
		}
	}

	config, err := s.loadPlatformConfig(ctx)
	if err != nil {
		return fmt.Errorf("ReleasePayment: %w", err)
	}
	fee := computeFee(payment.Amount, config.FeePercent)
	if fee > 0 && config.PlatformWallet == "" {
		return fmt.Errorf("ReleasePayment: platform wallet not configured, cannot collect fee for payment %d", paymentID)
	}

	// Settle the record before moving any funds.
	payment.Status = model.PaymentReleased
	payment.Disputed = false
	payment.SettledAt = now
	payment.FeePercentApplied = config.FeePercent
	payment.FeeCollected = fee
	if err := s.savePayment(ctx, payment); err != nil {
		return fmt.Errorf("ReleasePayment: %w", err)
	}

	if err := s.creditAccount(ctx, payment.Seller, payment.Amount-fee, now); err != nil {
		return fmt.Errorf("ReleasePayment: failed to credit seller for payment %d: %w", paymentID, err)
	}
	if fee > 0 {
		if err := s.creditAccount(ctx, config.PlatformWallet, fee, now); err != nil {
			return fmt.Errorf("ReleasePayment: failed to credit platform wallet for payment %d: %w", paymentID, err)
		}
	}

	s.emitEvent(ctx, "PaymentReleased", map[string]interface{}{
		"paymentId":    paymentID,
		"orderId":      payment.OrderID,
		"seller":       payment.Seller,
		"sellerPayout": payment.Amount - fee,
		"platformFee":  fee,
		"feePercent":   config.FeePercent,
		"releasedBy":   actor.fullID,
		"settledAt":    now,
	})
	logger.Infof("Payment %d released: %d to seller '%s', %d fee to platform", paymentID, payment.Amount-fee, payment.SellerAlias, fee)
	return nil
}

// RequestRefund raises a dispute on an escrowed payment. Buyer-only. Funds do
// not move until an admin resolves the dispute.
func (s *AgroMarketSmartContract) RequestRefund(ctx contractapi.TransactionContextInterface, paymentID uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RequestRefund: failed to get actor info: %w", err)
	}

	payment, err := s.getPaymentByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("RequestRefund: %w", err)
	}
	if actor.fullID != payment.Buyer {
		return fmt.Errorf("unauthorized: only the buyer can request a refund for payment %d", paymentID)
	}
	if err := requireEscrowed(payment); err != nil {
		return fmt.Errorf("RequestRefund: %w", err)
	}
	if payment.Disputed {
		return fmt.Errorf("payment %d is already disputed", paymentID)
	}

	payment.Disputed = true
	if err := s.savePayment(ctx, payment); err != nil {
		return fmt.Errorf("RequestRefund: %w", err)
	}

	s.emitEvent(ctx, "DisputeRaised", map[string]interface{}{
		"paymentId":  paymentID,
		"orderId":    payment.OrderID,
		"buyer":      payment.Buyer,
		"buyerAlias": payment.BuyerAlias,
		"seller":     payment.Seller,
		"amount":     payment.Amount,
	})
	logger.Infof("Dispute raised on payment %d by buyer '%s'", paymentID, actor.alias)
	return nil
}

// CancelPayment refunds the full amount to the buyer, no fee deducted, if
// called within the grace period after creation. Buyer-only.
func (s *AgroMarketSmartContract) CancelPayment(ctx contractapi.TransactionContextInterface, paymentID uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("CancelPayment: failed to get actor info: %w", err)
	}

	payment, err := s.getPaymentByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("CancelPayment: %w", err)
	}
	if actor.fullID != payment.Buyer {
		return fmt.Errorf("unauthorized: only the buyer can cancel payment %d", paymentID)
	}
	if err := requireEscrowed(payment); err != nil {
		return fmt.Errorf("CancelPayment: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CancelPayment: failed to get transaction timestamp: %w", err)
	}
	if now.Sub(payment.CreatedAt) > cancelGracePeriodSeconds*time.Second {
		return fmt.Errorf("cancellation window for payment %d has closed: grace period is %d seconds from creation", paymentID, cancelGracePeriodSeconds)
	}

	// Settle the record before moving any funds.
	payment.Status = model.PaymentRefunded
	payment.Disputed = false
	payment.SettledAt = now
	if err := s.savePayment(ctx, payment); err != nil {
		return fmt.Errorf("CancelPayment: %w", err)
	}

	if err := s.creditAccount(ctx, payment.Buyer, payment.Amount, now); err != nil {
		return fmt.Errorf("CancelPayment: failed to refund buyer for payment %d: %w", paymentID, err)
	}

	s.emitEvent(ctx, "PaymentCancelled", map[string]interface{}{
		"paymentId": paymentID,
		"orderId":   payment.OrderID,
		"buyer":     payment.Buyer,
		"amount":    payment.Amount,
		"settledAt": now,
	})
	logger.Infof("Payment %d cancelled within grace period by buyer '%s', %d refunded", paymentID, actor.alias, payment.Amount)
	return nil
}
