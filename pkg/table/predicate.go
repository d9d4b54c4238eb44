package table

// Op names a predicate operator.
type Op string

// Predicate operators. Drivers compile these into their native filter form.
const (
	OpMatchAll Op = "$all"
	OpEq       Op = "$eq"
	OpNe       Op = "$ne"
	OpLt       Op = "$lt"
	OpLte      Op = "$lte"
	OpGt       Op = "$gt"
	OpGte      Op = "$gte"
	OpIn       Op = "$in"
	OpNin      Op = "$nin"
	OpContains Op = "$contains"
	OpSearch   Op = "$search"
	OpAnd      Op = "$and"
	OpOr       Op = "$or"
)

// Predicate is a driver-neutral filter expression.
//
// Field predicates carry Field and Value; $and / $or carry Clauses.
// For $in, $nin and $contains Value is a []interface{}.
type Predicate struct {
	Op      Op
	Field   string
	Value   interface{}
	Clauses []Predicate
}

// MatchAll selects every record.
func MatchAll() Predicate {
	return Predicate{Op: OpMatchAll}
}

// Field builds a single field predicate.
func Field(field string, op Op, value interface{}) Predicate {
	return Predicate{Op: op, Field: field, Value: value}
}

// And conjoins clauses. A single clause is returned as-is and no clause matches all.
func And(clauses ...Predicate) Predicate {
	clauses = dropMatchAll(clauses)
	switch len(clauses) {
	case 0:
		return MatchAll()
	case 1:
		return clauses[0]
	}
	return Predicate{Op: OpAnd, Clauses: clauses}
}

// Or disjoins clauses.
func Or(clauses ...Predicate) Predicate {
	if len(clauses) == 1 {
		return clauses[0]
	}
	return Predicate{Op: OpOr, Clauses: clauses}
}

// IsMatchAll reports whether p selects every record.
func (p Predicate) IsMatchAll() bool {
	return p.Op == OpMatchAll || p.Op == ""
}

func dropMatchAll(clauses []Predicate) []Predicate {
	out := clauses[:0:0]
	for _, c := range clauses {
		if !c.IsMatchAll() {
			out = append(out, c)
		}
	}
	return out
}
