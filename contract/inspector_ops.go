package contract

import (
	"encoding/json"
	"fmt"

	"agromarket/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Quality Inspection Operations ---

// AddQualityCheck appends an inspection record to a product and updates its
// current grade. Requires the inspector role. The product's grade always
// reflects the most recent check; earlier checks stay in history.
func (s *AgroMarketSmartContract) AddQualityCheck(ctx contractapi.TransactionContextInterface,
	productID uint64, gradeStr string, reportHash string, notes string) error {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("AddQualityCheck: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireRegistryActive(ctx); err != nil {
		return fmt.Errorf("AddQualityCheck: %w", err)
	}
	if err := im.RequireRole("inspector"); err != nil {
		return err
	}

	grade, err := parseGrade(gradeStr)
	if err != nil {
		return err
	}
	if err := s.validateOptionalString(reportHash, "reportHash", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateOptionalString(notes, "notes", maxNotesLength); err != nil {
		return err
	}

	product, err := s.getProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("AddQualityCheck: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddQualityCheck: failed to get transaction timestamp: %w", err)
	}

	check := model.QualityCheck{
		ObjectType:     qualityCheckObjectType,
		ProductID:      productID,
		Seq:            product.QualityCheckCount + 1,
		Grade:          grade,
		ReportHash:     reportHash,
		Notes:          notes,
		Inspector:      actor.fullID,
		InspectorAlias: actor.alias,
		Timestamp:      now,
	}
	checkKey, err := s.createQualityCheckKey(ctx, productID, check.Seq)
	if err != nil {
		return fmt.Errorf("AddQualityCheck: failed to create quality check key: %w", err)
	}
	checkBytes, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("AddQualityCheck: failed to marshal quality check: %w", err)
	}
	if err := ctx.GetStub().PutState(checkKey, checkBytes); err != nil {
		return fmt.Errorf("AddQualityCheck: failed to save quality check: %w", err)
	}

	oldGrade := product.Grade
	product.Grade = grade
	product.QualityCheckCount++
	product.LastUpdatedAt = now
	if err := s.saveProduct(ctx, product); err != nil {
		return fmt.Errorf("AddQualityCheck: %w", err)
	}

	s.emitEvent(ctx, "QualityCheckAdded", map[string]interface{}{
		"productId":      productID,
		"seq":            check.Seq,
		"oldGrade":       oldGrade,
		"newGrade":       grade,
		"reportHash":     reportHash,
		"inspector":      actor.fullID,
		"inspectorAlias": actor.alias,
		"timestamp":      now,
	})
	logger.Infof("Quality check %d added to product %d by inspector '%s': grade %s -> %s", check.Seq, productID, actor.alias, oldGrade, grade)
	return nil
}
