package contract

import (
	"fmt"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("agromarket.contract")

// Object types used for composite keys and as 'docType' for CouchDB queries.
const (
	paymentObjectType         = "Payment"
	productObjectType         = "Product"
	ownershipRecordObjectType = "OwnershipRecord"
	qualityCheckObjectType    = "QualityCheck"
	accountObjectType         = "Account"
	counterObjectType         = "Counter"
	platformConfigObjectType  = "PlatformConfig"
	systemStateObjectType     = "SystemState"
)

// Constants for input validation and settlement rules.
const (
	maxStringInputLength = 256
	maxNotesLength       = 1024

	maxPlatformFeePercent     = 10 // Hard ceiling on the settable platform fee
	defaultPlatformFeePercent = 2

	cancelGracePeriodSeconds = 3600 // Buyer may cancel unilaterally within this window
)

// AgroMarketSmartContract manages escrowed marketplace payments and the
// provenance registry for agricultural products.
// @contract:AgroMarketSmartContract
type AgroMarketSmartContract struct {
	contractapi.Contract
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	fullID string
	alias  string
	mspID  string
}

// Instantiate is called during chaincode instantiation.
func (s *AgroMarketSmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("AgroMarketSmartContract Instantiated/Upgraded")
}

// --- Identity & Role Management Wrappers (Delegating to IdentityManager) ---

func (s *AgroMarketSmartContract) RegisterIdentity(ctx contractapi.TransactionContextInterface, targetFullID, shortName string) error {
	logger.Infof("Chaincode Call: RegisterIdentity for '%s' with alias '%s'", targetFullID, shortName)
	return NewIdentityManager(ctx).RegisterIdentity(targetFullID, shortName)
}

func (s *AgroMarketSmartContract) AssignRoleToIdentity(ctx contractapi.TransactionContextInterface, identityOrAlias, role string) error {
	logger.Infof("Chaincode Call: AssignRole '%s' to '%s'", role, identityOrAlias)
	return NewIdentityManager(ctx).AssignRole(identityOrAlias, role)
}

func (s *AgroMarketSmartContract) RemoveRoleFromIdentity(ctx contractapi.TransactionContextInterface, identityOrAlias, role string) error {
	logger.Infof("Chaincode Call: RemoveRole '%s' from '%s'", role, identityOrAlias)
	return NewIdentityManager(ctx).RemoveRole(identityOrAlias, role)
}

func (s *AgroMarketSmartContract) MakeIdentityAdmin(ctx contractapi.TransactionContextInterface, identityOrAlias string) error {
	logger.Infof("Chaincode Call: MakeAdmin for '%s'", identityOrAlias)
	return NewIdentityManager(ctx).MakeAdmin(identityOrAlias)
}

func (s *AgroMarketSmartContract) RemoveIdentityAdmin(ctx contractapi.TransactionContextInterface, identityOrAlias string) error {
	logger.Infof("Chaincode Call: RemoveAdmin for '%s'", identityOrAlias)
	return NewIdentityManager(ctx).RemoveAdmin(identityOrAlias)
}

// HasRole reports whether an identity holds a role. Public read, no
// authorization required.
func (s *AgroMarketSmartContract) HasRole(ctx contractapi.TransactionContextInterface, identityOrAlias, role string) (bool, error) {
	logger.Debugf("Chaincode Call: HasRole '%s' for '%s'", role, identityOrAlias)
	return NewIdentityManager(ctx).HasRole(identityOrAlias, role)
}

func (s *AgroMarketSmartContract) GetIdentityDetails(ctx contractapi.TransactionContextInterface, identityOrAlias string) (*model.IdentityInfo, error) {
	logger.Debugf("Chaincode Call: GetIdentityDetails for '%s'", identityOrAlias)
	im := NewIdentityManager(ctx)

	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetIdentityDetails: failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerFullID, err := im.GetCurrentIdentityFullID()
		if err != nil {
			return nil, fmt.Errorf("GetIdentityDetails: failed to get caller's FullID: %w", err)
		}
		targetFullID, err := im.ResolveIdentity(identityOrAlias)
		if err != nil {
			return nil, fmt.Errorf("GetIdentityDetails: failed to resolve target identity '%s': %w", identityOrAlias, err)
		}
		if callerFullID != targetFullID {
			return nil, fmt.Errorf("unauthorized: only admins or the identity owner can get these details")
		}
	}
	return im.GetIdentityInfo(identityOrAlias)
}

func (s *AgroMarketSmartContract) GetAllIdentities(ctx contractapi.TransactionContextInterface) ([]model.IdentityInfo, error) {
	logger.Debug("Chaincode Call: GetAllIdentities")
	return NewIdentityManager(ctx).GetAllRegisteredIdentities()
}
