package models

import (
	"fmt"
	"strings"
)

// OperationType describes the last operation applied to the index for a
// ledgered entity.
type OperationType int

const (
	OperationTypeInserted OperationType = 10
	OperationTypeUpdated  OperationType = 20
	OperationTypeDeleted  OperationType = 30
)

func (o OperationType) String() string {
	switch o {
	case OperationTypeInserted:
		return "Inserted"
	case OperationTypeUpdated:
		return "Updated"
	case OperationTypeDeleted:
		return "Deleted"
	default:
		return fmt.Sprintf("OperationType(%d)", int(o))
	}
}

func (o OperationType) IsValid() bool {
	switch o {
	case OperationTypeInserted, OperationTypeUpdated, OperationTypeDeleted:
		return true
	}
	return false
}

// operationTypeByAction maps the operation names reported by the index's bulk
// API onto the ledger enumeration. Maintained alongside the enum; an action
// missing here is a MappingError, never a silent default.
var operationTypeByAction = map[string]OperationType{
	"index":    OperationTypeInserted,
	"create":   OperationTypeInserted,
	"created":  OperationTypeInserted,
	"inserted": OperationTypeInserted,
	"update":   OperationTypeUpdated,
	"updated":  OperationTypeUpdated,
	"delete":   OperationTypeDeleted,
	"deleted":  OperationTypeDeleted,
}

// MappingError reports an index operation name that has no ledger mapping.
type MappingError struct {
	Operation string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("unknown index operation %q", e.Operation)
}

// OperationTypeFromAction resolves a reported bulk action name to an
// OperationType. Case-insensitive.
func OperationTypeFromAction(action string) (OperationType, error) {
	op, ok := operationTypeByAction[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return 0, &MappingError{Operation: action}
	}
	return op, nil
}
