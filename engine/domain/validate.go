package domain

import (
	"strings"
	"unicode/utf8"
)

// Ids are used as document keys by the stores, so path and query
// separators are rejected.
const invalidIDChars = `/\?#`

const maxIDLength = 255

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewInvalidElementError(field, id)
	}
	if utf8.RuneCountInString(id) > maxIDLength || strings.ContainsAny(id, invalidIDChars) {
		return NewInvalidElementError(field, id)
	}
	return nil
}

func validatePartitionKey(field, pk string) error {
	if pk == "" {
		return NewInvalidElementError(field, pk)
	}
	return nil
}

// Validate checks a complete element as passed to an import.
func Validate(e Element) error {
	if e == nil {
		return NewInvalidElementError("element", "<nil>")
	}
	if err := validateID("id", e.ID()); err != nil {
		return err
	}
	if strings.TrimSpace(e.Label()) == "" {
		return NewInvalidElementError("label", e.Label())
	}

	switch v := e.(type) {
	case Vertex:
		return validatePartitionKey("partition_key", v.PartitionKeyValue)
	case Edge:
		if err := validateID("out_v", v.OutVertexID); err != nil {
			return err
		}
		if err := validateID("in_v", v.InVertexID); err != nil {
			return err
		}
		if v.OutVertexLabel == "" {
			return NewInvalidElementError("out_v_label", v.OutVertexLabel)
		}
		if v.InVertexLabel == "" {
			return NewInvalidElementError("in_v_label", v.InVertexLabel)
		}
		if err := validatePartitionKey("out_v_pk", v.OutVertexPartitionKey); err != nil {
			return err
		}
		return validatePartitionKey("in_v_pk", v.InVertexPartitionKey)
	default:
		return validatePartitionKey("partition_key", e.PartitionKey())
	}
}

// ValidateForImport is Validate with the id check relaxed, for imports that
// generate ids for elements without one.
func ValidateForImport(e Element, generateIDs bool) error {
	if generateIDs && e != nil && e.ID() == "" {
		return Validate(AssignID(e, "pending"))
	}
	return Validate(e)
}

// ValidatePartial checks an update: only the id and the partition key are
// required, everything else is a property to merge.
func ValidatePartial(e Element) error {
	if e == nil {
		return NewInvalidElementError("element", "<nil>")
	}
	if err := validateID("id", e.ID()); err != nil {
		return err
	}
	return validatePartitionKey("partition_key", e.PartitionKey())
}
