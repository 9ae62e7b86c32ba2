package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func (s *AgroMarketSmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func (s *AgroMarketSmartContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	im := NewIdentityManager(ctx)
	fullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}

	var alias string
	idInfo, errGetInfo := im.GetIdentityInfo(fullID)
	if errGetInfo == nil && idInfo != nil {
		alias = idInfo.ShortName
	} else {
		logger.Debugf("Could not retrieve IdentityInfo (or alias) for actor %s: %v. Attempting fallback.", fullID, errGetInfo)
		// Unregistered callers (bootstrap) get an alias from the certificate CN.
		if strings.Contains(fullID, "::CN=") {
			parts := strings.Split(fullID, "::CN=")
			if len(parts) > 1 {
				cnPart := parts[1]
				if idx := strings.Index(cnPart, "::"); idx != -1 {
					cnPart = cnPart[:idx]
				}
				alias = cnPart
			}
		}
		if alias == "" {
			maxAliasLen := 16
			if len(fullID) > maxAliasLen {
				alias = "unknown_" + fullID[:maxAliasLen]
			} else {
				alias = "unknown_" + fullID
			}
		}
	}

	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{fullID: fullID, alias: alias, mspID: mspID}, nil
}

// --- Key Creation Helpers ---

// padID renders a numeric ID as a fixed-width composite key attribute so that
// partial composite key scans return records in numeric order.
func padID(id uint64) string {
	return fmt.Sprintf("%012d", id)
}

func (s *AgroMarketSmartContract) createPaymentCompositeKey(ctx contractapi.TransactionContextInterface, paymentID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(paymentObjectType, []string{padID(paymentID)})
}

func (s *AgroMarketSmartContract) createProductCompositeKey(ctx contractapi.TransactionContextInterface, productID uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(productObjectType, []string{padID(productID)})
}

func (s *AgroMarketSmartContract) createOwnershipRecordKey(ctx contractapi.TransactionContextInterface, productID, seq uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(ownershipRecordObjectType, []string{padID(productID), padID(seq)})
}

func (s *AgroMarketSmartContract) createQualityCheckKey(ctx contractapi.TransactionContextInterface, productID, seq uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(qualityCheckObjectType, []string{padID(productID), padID(seq)})
}

func (s *AgroMarketSmartContract) createAccountCompositeKey(ctx contractapi.TransactionContextInterface, owner string) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", errors.New("account owner cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(accountObjectType, []string{owner})
}

// nextSequence increments and returns the named ledger counter. Counters start
// at zero, so the first value returned is 1.
func (s *AgroMarketSmartContract) nextSequence(ctx contractapi.TransactionContextInterface, counterName string) (uint64, error) {
	counterKey, err := ctx.GetStub().CreateCompositeKey(counterObjectType, []string{counterName})
	if err != nil {
		return 0, fmt.Errorf("failed to create counter key for '%s': %w", counterName, err)
	}
	current := uint64(0)
	counterBytes, err := ctx.GetStub().GetState(counterKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter '%s': %w", counterName, err)
	}
	if counterBytes != nil {
		current, err = strconv.ParseUint(string(counterBytes), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt counter value for '%s': %w", counterName, err)
		}
	}
	next := current + 1
	if err := ctx.GetStub().PutState(counterKey, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("failed to save counter '%s': %w", counterName, err)
	}
	return next, nil
}

// readSequence returns the current value of the named counter without advancing it.
func (s *AgroMarketSmartContract) readSequence(ctx contractapi.TransactionContextInterface, counterName string) (uint64, error) {
	counterKey, err := ctx.GetStub().CreateCompositeKey(counterObjectType, []string{counterName})
	if err != nil {
		return 0, fmt.Errorf("failed to create counter key for '%s': %w", counterName, err)
	}
	counterBytes, err := ctx.GetStub().GetState(counterKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read counter '%s': %w", counterName, err)
	}
	if counterBytes == nil {
		return 0, nil
	}
	value, err := strconv.ParseUint(string(counterBytes), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter value for '%s': %w", counterName, err)
	}
	return value, nil
}

// --- Validation Helper Functions ---

func (s *AgroMarketSmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *AgroMarketSmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func parseDateString(str, field string, required bool) (time.Time, error) {
	sTrimmed := strings.TrimSpace(str)
	if sTrimmed == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is a required date field and cannot be empty", field)
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, sTrimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid format for %s (expected RFC3339 'YYYY-MM-DDTHH:MM:SSZ'): %w", field, err)
	}
	return t, nil
}

func parseGrade(gradeStr string) (model.Grade, error) {
	switch strings.ToUpper(strings.TrimSpace(gradeStr)) {
	case string(model.GradeA):
		return model.GradeA, nil
	case string(model.GradeB):
		return model.GradeB, nil
	case string(model.GradeC):
		return model.GradeC, nil
	default:
		return "", fmt.Errorf("invalid grade '%s'. Must be one of: %s, %s, %s", gradeStr, model.GradeA, model.GradeB, model.GradeC)
	}
}

func parseProductStatus(statusStr string) (model.ProductStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(statusStr)) {
	case string(model.ProductRegistered):
		return model.ProductRegistered, nil
	case string(model.ProductListed):
		return model.ProductListed, nil
	case string(model.ProductInTransit):
		return model.ProductInTransit, nil
	case string(model.ProductDelivered):
		return model.ProductDelivered, nil
	case string(model.ProductSold):
		return model.ProductSold, nil
	case string(model.ProductRecalled):
		return model.ProductRecalled, nil
	default:
		return "", fmt.Errorf("invalid product status '%s'", statusStr)
	}
}

// --- Platform Configuration & System State ---

func (s *AgroMarketSmartContract) platformConfigKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return ctx.GetStub().CreateCompositeKey(platformConfigObjectType, []string{"singleton"})
}

func (s *AgroMarketSmartContract) systemStateKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return ctx.GetStub().CreateCompositeKey(systemStateObjectType, []string{"singleton"})
}

// loadPlatformConfig returns the global settlement configuration, falling back
// to the default fee with no platform wallet if none has been written yet.
func (s *AgroMarketSmartContract) loadPlatformConfig(ctx contractapi.TransactionContextInterface) (*model.PlatformConfig, error) {
	configKey, err := s.platformConfigKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform config key: %w", err)
	}
	configBytes, err := ctx.GetStub().GetState(configKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform config: %w", err)
	}
	if configBytes == nil {
		return &model.PlatformConfig{
			ObjectType: platformConfigObjectType,
			FeePercent: defaultPlatformFeePercent,
		}, nil
	}
	var config model.PlatformConfig
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform config: %w", err)
	}
	return &config, nil
}

func (s *AgroMarketSmartContract) savePlatformConfig(ctx contractapi.TransactionContextInterface, config *model.PlatformConfig) error {
	configKey, err := s.platformConfigKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to create platform config key: %w", err)
	}
	configBytes, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal platform config: %w", err)
	}
	if err := ctx.GetStub().PutState(configKey, configBytes); err != nil {
		return fmt.Errorf("failed to save platform config: %w", err)
	}
	return nil
}

func (s *AgroMarketSmartContract) loadSystemState(ctx contractapi.TransactionContextInterface) (*model.SystemState, error) {
	stateKey, err := s.systemStateKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create system state key: %w", err)
	}
	stateBytes, err := ctx.GetStub().GetState(stateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read system state: %w", err)
	}
	if stateBytes == nil {
		return &model.SystemState{ObjectType: systemStateObjectType, Paused: false}, nil
	}
	var state model.SystemState
	if err := json.Unmarshal(stateBytes, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal system state: %w", err)
	}
	return &state, nil
}

func (s *AgroMarketSmartContract) saveSystemState(ctx contractapi.TransactionContextInterface, state *model.SystemState) error {
	stateKey, err := s.systemStateKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to create system state key: %w", err)
	}
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal system state: %w", err)
	}
	if err := ctx.GetStub().PutState(stateKey, stateBytes); err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}
	return nil
}

// requireRegistryActive fails with a paused-state error while the provenance
// registry is paused. Read operations never call this.
func (s *AgroMarketSmartContract) requireRegistryActive(ctx contractapi.TransactionContextInterface) error {
	state, err := s.loadSystemState(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return errors.New("registry is paused: state-mutating operations are rejected until unpause")
	}
	return nil
}

// --- Account Ledger Helpers ---

func (s *AgroMarketSmartContract) getAccount(ctx contractapi.TransactionContextInterface, owner string) (*model.Account, error) {
	accountKey, err := s.createAccountCompositeKey(ctx, owner)
	if err != nil {
		return nil, err
	}
	accountBytes, err := ctx.GetStub().GetState(accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read account for '%s': %w", owner, err)
	}
	if accountBytes == nil {
		return &model.Account{ObjectType: accountObjectType, Owner: owner, Balance: 0}, nil
	}
	var account model.Account
	if err := json.Unmarshal(accountBytes, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account for '%s': %w", owner, err)
	}
	return &account, nil
}

func (s *AgroMarketSmartContract) saveAccount(ctx contractapi.TransactionContextInterface, account *model.Account) error {
	accountKey, err := s.createAccountCompositeKey(ctx, account.Owner)
	if err != nil {
		return err
	}
	accountBytes, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account for '%s': %w", account.Owner, err)
	}
	if err := ctx.GetStub().PutState(accountKey, accountBytes); err != nil {
		return fmt.Errorf("failed to save account for '%s': %w", account.Owner, err)
	}
	return nil
}

// creditAccount adds funds to an account, creating the record if needed.
func (s *AgroMarketSmartContract) creditAccount(ctx contractapi.TransactionContextInterface, owner string, amount uint64, now time.Time) error {
	account, err := s.getAccount(ctx, owner)
	if err != nil {
		return err
	}
	account.Balance += amount
	account.LastUpdatedAt = now
	return s.saveAccount(ctx, account)
}

// debitAccount removes funds from an account. Balances never go negative;
// insufficient funds is a validation failure.
func (s *AgroMarketSmartContract) debitAccount(ctx contractapi.TransactionContextInterface, owner string, amount uint64, now time.Time) error {
	account, err := s.getAccount(ctx, owner)
	if err != nil {
		return err
	}
	if account.Balance < amount {
		return fmt.Errorf("insufficient funds: account '%s' holds %d, needs %d", owner, account.Balance, amount)
	}
	account.Balance -= amount
	account.LastUpdatedAt = now
	return s.saveAccount(ctx, account)
}

// computeFee applies the platform fee with integer truncation.
func computeFee(amount, feePercent uint64) uint64 {
	return amount * feePercent / 100
}

// --- Events ---

// emitEvent sends a chaincode event. Event emission failures are logged, not
// returned: an unsendable event must not invalidate committed state.
func (s *AgroMarketSmartContract) emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitEvent: Failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}

// requireAdmin is a helper to check if the current caller is an admin.
func (s *AgroMarketSmartContract) requireAdmin(ctx contractapi.TransactionContextInterface, im *IdentityManager) error {
	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerID, _ := im.GetCurrentIdentityFullID() // Best effort to get ID for logging
		return fmt.Errorf("unauthorized: caller '%s' is not an admin", callerID)
	}
	return nil
}
