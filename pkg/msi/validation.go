package msi

import (
	"github.com/kolide/msikit/pkg/msi/schema"
	"github.com/pkg/errors"
)

// AddValidationRows describes every column of every written table in
// the _Validation table. Predefined tables are left out, the engine
// owns their definitions.
func AddValidationRows(db *Database) error {
	v := db.Table(schema.Validation)
	for _, name := range schema.WriteOrder {
		s, ok := schema.Lookup(name)
		if !ok {
			return errors.Errorf("no schema for %s", name)
		}
		if s.Predefined {
			continue
		}
		for _, c := range s.Columns {
			nullable := "N"
			if c.Nullable {
				nullable = "Y"
			}

			minValue, maxValue := schema.Null(), schema.Null()
			if c.Kind == schema.Short {
				minValue, maxValue = schema.Int(-32767), schema.Int(32767)
			}

			if _, err := v.Add(
				schema.Str(s.Name),
				schema.Str(c.Name),
				schema.Str(nullable),
				minValue,
				maxValue,
				schema.Null(),
				schema.Null(),
				schema.OptStr(category(c)),
				schema.Null(),
				schema.Null(),
			); err != nil {
				return errors.Wrapf(err, "validation row for %s.%s", s.Name, c.Name)
			}
		}
	}
	return nil
}

func category(c schema.Column) string {
	switch c.Kind {
	case schema.Char:
		if c.Key {
			return "Identifier"
		}
		return "Text"
	case schema.Object:
		return "Binary"
	}
	return ""
}
