package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Admin Operations ---

// BootstrapLedger initializes the ledger: the deploying identity becomes the
// first admin and the default platform configuration is written, with the
// bootstrap admin as the initial platform wallet.
func (s *AgroMarketSmartContract) BootstrapLedger(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Attempting to bootstrap ledger with initial admin...")
	im := NewIdentityManager(ctx)

	anyAdminAlreadyExists, err := im.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to check if any admin exists: %w", err)
	}
	if anyAdminAlreadyExists {
		msg := "system already has admins or is bootstrapped. BootstrapLedger should not be re-run."
		logger.Info(msg)
		return errors.New(msg)
	}

	callerActorInfo, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to get caller identity for bootstrap: %w", err)
	}
	callerFullID := callerActorInfo.fullID
	bootstrapAdminAlias := callerActorInfo.alias

	now, tsErr := s.getCurrentTxTimestamp(ctx)
	if tsErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to get timestamp for direct state writes: %w", tsErr)
	}

	// 1. Create and save IdentityInfo for the bootstrap admin directly.
	bootstrapAdminInfo := model.IdentityInfo{
		ObjectType:      identityObjectType,
		FullID:          callerFullID,
		ShortName:       bootstrapAdminAlias,
		OrganizationMSP: callerActorInfo.mspID,
		Roles:           []string{},
		IsAdmin:         true,
		RegisteredBy:    callerFullID, // Self-registered during bootstrap
		RegisteredAt:    now,
		LastUpdatedAt:   now,
	}
	identityKey, keyErr := im.createIdentityCompositeKey(callerFullID)
	if keyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create identity key for bootstrap admin '%s': %w", callerFullID, keyErr)
	}
	bootstrapAdminInfoBytes, marshalErr := json.Marshal(bootstrapAdminInfo)
	if marshalErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to marshal bootstrap admin IdentityInfo: %w", marshalErr)
	}
	if err := ctx.GetStub().PutState(identityKey, bootstrapAdminInfoBytes); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin IdentityInfo for '%s': %w", callerFullID, err)
	}

	// 2. Create and save the Alias mapping directly.
	aliasKey, aliasKeyErr := im.createAliasCompositeKey(bootstrapAdminAlias)
	if aliasKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create alias key for bootstrap admin '%s': %w", bootstrapAdminAlias, aliasKeyErr)
	}
	if err := ctx.GetStub().PutState(aliasKey, []byte(callerFullID)); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin alias mapping '%s' -> '%s': %w", bootstrapAdminAlias, callerFullID, err)
	}

	// 3. Create and save the AdminFlag directly.
	adminFlagKey, flagKeyErr := im.createAdminFlagCompositeKey(callerFullID)
	if flagKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create admin flag key for '%s': %w", callerFullID, flagKeyErr)
	}
	if err := ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to set admin flag for bootstrap admin '%s': %w", callerFullID, err)
	}

	// 4. Write the initial platform configuration.
	config := &model.PlatformConfig{
		ObjectType:     platformConfigObjectType,
		FeePercent:     defaultPlatformFeePercent,
		PlatformWallet: callerFullID,
		UpdatedBy:      callerFullID,
		UpdatedAt:      now,
	}
	if err := s.savePlatformConfig(ctx, config); err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}

	logger.Infof("BootstrapLedger: Ledger bootstrapped. Identity '%s' (alias: '%s') is now an admin and the platform wallet. Fee: %d%%.",
		callerFullID, bootstrapAdminAlias, defaultPlatformFeePercent)
	return nil
}

// ResolveDispute settles a disputed payment. Admin-only. favorBuyer refunds
// the full principal with no fee; otherwise the standard fee split applies.
// Either way the dispute flag is cleared and the payment becomes terminal.
func (s *AgroMarketSmartContract) ResolveDispute(ctx contractapi.TransactionContextInterface, paymentID uint64, favorBuyer bool) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ResolveDispute: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("ResolveDispute: %w. Caller: %s", err, actor.alias)
	}

	payment, err := s.getPaymentByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("ResolveDispute: %w", err)
	}
	if err := requireEscrowed(payment); err != nil {
		return fmt.Errorf("ResolveDispute: %w", err)
	}
	if !payment.Disputed {
		return fmt.Errorf("payment %d is not disputed: nothing to resolve", paymentID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ResolveDispute: failed to get transaction timestamp: %w", err)
	}

	var resolution string
	if favorBuyer {
		// Full principal back to the buyer, no fee deducted.
		payment.Status = model.PaymentRefunded
		payment.Disputed = false
		payment.SettledAt = now
		if err := s.savePayment(ctx, payment); err != nil {
			return fmt.Errorf("ResolveDispute: %w", err)
		}
		if err := s.creditAccount(ctx, payment.Buyer, payment.Amount, now); err != nil {
			return fmt.Errorf("ResolveDispute: failed to refund buyer for payment %d: %w", paymentID, err)
		}
		resolution = "REFUNDED_TO_BUYER"
	} else {
		config, err := s.loadPlatformConfig(ctx)
		if err != nil {
			return fmt.Errorf("ResolveDispute: %w", err)
		}
		fee := computeFee(payment.Amount, config.FeePercent)
		if fee > 0 && config.PlatformWallet == "" {
			return fmt.Errorf("ResolveDispute: platform wallet not configured, cannot collect fee for payment %d", paymentID)
		}

		// Settle the record before moving any funds.
		payment.Status = model.PaymentReleased
		payment.Disputed = false
		payment.SettledAt = now
		payment.FeePercentApplied = config.FeePercent
		payment.FeeCollected = fee
		if err := s.savePayment(ctx, payment); err != nil {
			return fmt.Errorf("ResolveDispute: %w", err)
		}
		if err := s.creditAccount(ctx, payment.Seller, payment.Amount-fee, now); err != nil {
			return fmt.Errorf("ResolveDispute: failed to credit seller for payment %d: %w", paymentID, err)
		}
		if fee > 0 {
			if err := s.creditAccount(ctx, config.PlatformWallet, fee, now); err != nil {
				return fmt.Errorf("ResolveDispute: failed to credit platform wallet for payment %d: %w", paymentID, err)
			}
		}
		resolution = "RELEASED_TO_SELLER"
	}

	s.emitEvent(ctx, "DisputeResolved", map[string]interface{}{
		"paymentId":  paymentID,
		"orderId":    payment.OrderID,
		"resolution": resolution,
		"favorBuyer": favorBuyer,
		"resolvedBy": actor.fullID,
		"settledAt":  now,
	})
	logger.Infof("Dispute on payment %d resolved (%s) by admin '%s'", paymentID, resolution, actor.alias)
	return nil
}

// SetPlatformFee updates the global platform fee percentage. Admin-only.
// Takes effect immediately for any payment still escrowed at settlement time.
func (s *AgroMarketSmartContract) SetPlatformFee(ctx contractapi.TransactionContextInterface, percent uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformFee: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("SetPlatformFee: %w. Caller: %s", err, actor.alias)
	}
	if percent > maxPlatformFeePercent {
		return fmt.Errorf("platform fee %d%% exceeds maximum of %d%%", percent, maxPlatformFeePercent)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformFee: failed to get transaction timestamp: %w", err)
	}
	config, err := s.loadPlatformConfig(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformFee: %w", err)
	}
	oldPercent := config.FeePercent
	config.FeePercent = percent
	config.UpdatedBy = actor.fullID
	config.UpdatedAt = now
	if err := s.savePlatformConfig(ctx, config); err != nil {
		return fmt.Errorf("SetPlatformFee: %w", err)
	}

	s.emitEvent(ctx, "PlatformFeeUpdated", map[string]interface{}{
		"oldFeePercent": oldPercent,
		"newFeePercent": percent,
		"updatedBy":     actor.fullID,
	})
	logger.Infof("Platform fee updated from %d%% to %d%% by admin '%s'", oldPercent, percent, actor.alias)
	return nil
}

// SetPlatformWallet updates the identity that collects platform fees. Admin-only.
func (s *AgroMarketSmartContract) SetPlatformWallet(ctx contractapi.TransactionContextInterface, identityOrAlias string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformWallet: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("SetPlatformWallet: %w. Caller: %s", err, actor.alias)
	}
	walletFullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		return fmt.Errorf("SetPlatformWallet: failed to resolve wallet identity '%s': %w", identityOrAlias, err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformWallet: failed to get transaction timestamp: %w", err)
	}
	config, err := s.loadPlatformConfig(ctx)
	if err != nil {
		return fmt.Errorf("SetPlatformWallet: %w", err)
	}
	oldWallet := config.PlatformWallet
	config.PlatformWallet = walletFullID
	config.UpdatedBy = actor.fullID
	config.UpdatedAt = now
	if err := s.savePlatformConfig(ctx, config); err != nil {
		return fmt.Errorf("SetPlatformWallet: %w", err)
	}

	s.emitEvent(ctx, "PlatformWalletUpdated", map[string]interface{}{
		"oldWallet": oldWallet,
		"newWallet": walletFullID,
		"updatedBy": actor.fullID,
	})
	logger.Infof("Platform wallet updated to '%s' by admin '%s'", walletFullID, actor.alias)
	return nil
}

// FundAccount credits an internal account. Admin-only: the credit represents
// a deposit confirmed by the off-chain payment bridge.
func (s *AgroMarketSmartContract) FundAccount(ctx contractapi.TransactionContextInterface, identityOrAlias string, amount uint64) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("FundAccount: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("FundAccount: %w. Caller: %s", err, actor.alias)
	}
	if amount == 0 {
		return errors.New("amount must be positive")
	}
	ownerFullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		return fmt.Errorf("FundAccount: failed to resolve account owner '%s': %w", identityOrAlias, err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("FundAccount: failed to get transaction timestamp: %w", err)
	}
	if err := s.creditAccount(ctx, ownerFullID, amount, now); err != nil {
		return fmt.Errorf("FundAccount: %w", err)
	}

	s.emitEvent(ctx, "AccountFunded", map[string]interface{}{
		"owner":    ownerFullID,
		"amount":   amount,
		"fundedBy": actor.fullID,
	})
	logger.Infof("Account '%s' funded with %d by admin '%s'", ownerFullID, amount, actor.alias)
	return nil
}

// PauseRegistry halts all state-mutating provenance registry operations.
// Admin-only. Reads and escrow settlement remain available so funds are never
// trapped behind the pause switch.
func (s *AgroMarketSmartContract) PauseRegistry(ctx contractapi.TransactionContextInterface) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("PauseRegistry: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("PauseRegistry: %w. Caller: %s", err, actor.alias)
	}

	state, err := s.loadSystemState(ctx)
	if err != nil {
		return fmt.Errorf("PauseRegistry: %w", err)
	}
	if state.Paused {
		logger.Infof("PauseRegistry: registry is already paused. No changes made.")
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("PauseRegistry: failed to get transaction timestamp: %w", err)
	}
	state.Paused = true
	state.UpdatedBy = actor.fullID
	state.UpdatedAt = now
	if err := s.saveSystemState(ctx, state); err != nil {
		return fmt.Errorf("PauseRegistry: %w", err)
	}

	s.emitEvent(ctx, "RegistryPaused", map[string]interface{}{"pausedBy": actor.fullID})
	logger.Infof("Registry paused by admin '%s'", actor.alias)
	return nil
}

// UnpauseRegistry restores normal registry operation. Admin-only.
func (s *AgroMarketSmartContract) UnpauseRegistry(ctx contractapi.TransactionContextInterface) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UnpauseRegistry: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("UnpauseRegistry: %w. Caller: %s", err, actor.alias)
	}

	state, err := s.loadSystemState(ctx)
	if err != nil {
		return fmt.Errorf("UnpauseRegistry: %w", err)
	}
	if !state.Paused {
		logger.Infof("UnpauseRegistry: registry is not paused. No changes made.")
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UnpauseRegistry: failed to get transaction timestamp: %w", err)
	}
	state.Paused = false
	state.UpdatedBy = actor.fullID
	state.UpdatedAt = now
	if err := s.saveSystemState(ctx, state); err != nil {
		return fmt.Errorf("UnpauseRegistry: %w", err)
	}

	s.emitEvent(ctx, "RegistryUnpaused", map[string]interface{}{"unpausedBy": actor.fullID})
	logger.Infof("Registry unpaused by admin '%s'", actor.alias)
	return nil
}
