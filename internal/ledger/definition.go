package ledger

import (
	"fmt"
	"slices"

	"github.com/roach88/hookledger/internal/ir"
	"github.com/roach88/hookledger/internal/mapping"
)

// TargetPlatform routes an enum field into DerivedRecord.Platform. Every
// other target lands in the record's passthrough map under its own name.
const TargetPlatform = "platform"

// EnumField casts one source column through an enum domain.
type EnumField struct {
	Column string
	Domain *mapping.EnumDomain

	// Target is the record field receiving the cast value. Empty means
	// the column name.
	Target string
}

func (f EnumField) target() string {
	if f.Target == "" {
		return f.Column
	}
	return f.Target
}

// Definition configures a Writer.
type Definition struct {
	// Name identifies the writer in logs and errors.
	Name string

	// RequestType is stamped on every record.
	RequestType ir.RequestType

	// SourceTable is the observed table.
	SourceTable string

	// KeyColumn holds the record key. Empty infers "id", then
	// "<singular table>_id".
	KeyColumn string

	// StatusColumn is mapped through Statuses.
	StatusColumn string
	Statuses     *mapping.StatusTable

	Enums []EnumField

	// PayloadColumn, when set, is normalized to canonical JSON.
	PayloadColumn string

	// Passthrough columns are copied verbatim as text.
	Passthrough []string

	// ActorColumn, when set, supplies the actor from the row. Otherwise the
	// transaction's actor is used.
	ActorColumn string

	// SystemActors lists extra actor ids that denote the automated
	// subsystem, in addition to txn.SystemActor.
	SystemActors []string

	// WatchColumns restricts update events to those whose SET list names
	// one of these columns. Empty observes every update.
	WatchColumns []string
}

// Validate checks the definition is complete and unambiguous.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("writer name is required")
	}
	if err := d.RequestType.Validate(); err != nil {
		return fmt.Errorf("writer %s: %w", d.Name, err)
	}
	if d.SourceTable == "" {
		return fmt.Errorf("writer %s: source table is required", d.Name)
	}
	if d.StatusColumn == "" {
		return fmt.Errorf("writer %s: status column is required", d.Name)
	}
	if d.Statuses == nil {
		return fmt.Errorf("writer %s: status table is required", d.Name)
	}

	targets := map[string]string{}
	claim := func(target, source string) error {
		if prev, ok := targets[target]; ok {
			return fmt.Errorf("writer %s: %s and %s both write %q", d.Name, prev, source, target)
		}
		targets[target] = source
		return nil
	}
	for i, e := range d.Enums {
		if e.Column == "" {
			return fmt.Errorf("writer %s: enum field %d has no column", d.Name, i)
		}
		if e.Domain == nil {
			return fmt.Errorf("writer %s: enum field %s has no domain", d.Name, e.Column)
		}
		if err := claim(e.target(), "enum "+e.Column); err != nil {
			return err
		}
	}
	for _, col := range d.Passthrough {
		if col == "" {
			return fmt.Errorf("writer %s: empty passthrough column", d.Name)
		}
		if err := claim(col, "passthrough "+col); err != nil {
			return err
		}
	}
	if slices.Contains(d.SystemActors, "") {
		return fmt.Errorf("writer %s: empty system actor", d.Name)
	}
	return nil
}
