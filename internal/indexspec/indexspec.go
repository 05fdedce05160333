// Package indexspec implements the IndexSpecModel: normalization and
// equality for index key/options documents, and derivation of the
// covering temporary index from an original one.
package indexspec

import (
	"encoding/json"
	"fmt"

	"github.com/mongoreindex/mongoreindex"
)

// Normalize orders options into a canonical form: server-default values are
// removed, partialFilterExpression is canonicalized via stable key
// ordering, and the key sequence is left untouched since key order is
// already significant and must not be reordered.
func Normalize(spec mongoreindex.IndexSpec) mongoreindex.IndexSpec {
	out := spec
	out.Options = normalizeOptions(spec.Options)
	return out
}

// normalizeOptions drops zero-value fields (MongoDB's own defaults) and
// canonicalizes any embedded documents so that map key ordering never
// affects comparison.
func normalizeOptions(o mongoreindex.IndexOptions) mongoreindex.IndexOptions {
	out := mongoreindex.IndexOptions{
		Unique: o.Unique,
		Sparse: o.Sparse,
		Hidden: o.Hidden,
	}
	if len(o.PartialFilterExpr) > 0 {
		out.PartialFilterExpr = canonicalDocument(o.PartialFilterExpr)
	}
	if o.ExpireAfterSeconds != nil {
		v := *o.ExpireAfterSeconds
		out.ExpireAfterSeconds = &v
	}
	if len(o.Collation) > 0 {
		out.Collation = canonicalDocument(o.Collation)
	}
	if len(o.Weights) > 0 {
		out.Weights = canonicalDocument(o.Weights)
	}
	out.TwoDSphereIndexVer = o.TwoDSphereIndexVer
	return out
}

// canonicalDocument round-trips a document through a key-sorted JSON
// encoding so that two maps built in different field orders compare equal
// after canonicalization. json.Marshal of a Go map already sorts keys, so
// decoding the re-encoded bytes back into a map yields a value whose
// later re-encoding is always byte-stable; that stability, not the
// intermediate string, is what comparison relies on.
func canonicalDocument(m map[string]any) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		// Values that fail to round-trip (rare: channels, funcs) compare
		// by reference identity via the original map instead.
		return m
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		return m
	}
	return v
}

// Equivalent reports whether two index specs are equivalent: their key
// sequences must be element-wise equal in order, and their option records
// must be equal after normalization.
func Equivalent(a, b mongoreindex.IndexSpec) bool {
	if len(a.Keys) != len(b.Keys) {
		return false
	}
	for i := range a.Keys {
		if a.Keys[i].Field != b.Keys[i].Field {
			return false
		}
		if !valuesEqual(a.Keys[i].Value, b.Keys[i].Value) {
			return false
		}
	}
	return optionsEqual(normalizeOptions(a.Options), normalizeOptions(b.Options))
}

// valuesEqual compares index direction/type markers. Numeric 1 and -1 must
// be distinguished; these arrive from BSON/JSON decoding as various
// numeric types (int32, int64, float64) so they are compared by their
// canonical float64 value, while string markers ("hashed", "text", ...)
// are compared directly.
func valuesEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func optionsEqual(a, b mongoreindex.IndexOptions) bool {
	if a.Unique != b.Unique || a.Sparse != b.Sparse || a.Hidden != b.Hidden {
		return false
	}
	if a.TwoDSphereIndexVer != b.TwoDSphereIndexVer {
		return false
	}
	if !expireEqual(a.ExpireAfterSeconds, b.ExpireAfterSeconds) {
		return false
	}
	if !documentEqual(a.PartialFilterExpr, b.PartialFilterExpr) {
		return false
	}
	if !documentEqual(a.Collation, b.Collation) {
		return false
	}
	return documentEqual(a.Weights, b.Weights)
}

func expireEqual(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func documentEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	ab, err1 := json.Marshal(canonicalDocument(a))
	bb, err2 := json.Marshal(canonicalDocument(b))
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

// DeriveTemp computes the name, key sequence, and options for the covering
// temporary index built from an original index. Equivalent to
// DeriveTempWithRisk(original, false): unique indexes are always refused.
//
// The temp index is identical to the original except: unique is rejected
// (rebuilding a unique index under live writes is refused — the caller
// must check this before calling CreateIndex), TTL options are copied
// verbatim so the rebuilt index preserves expireAfterSeconds, and any
// server-assigned index version ("v") is never part of IndexOptions so
// there is nothing to strip.
func DeriveTemp(original mongoreindex.OriginalIndex) (mongoreindex.TempIndex, error) {
	return DeriveTempWithRisk(original, false)
}

// DeriveTempWithRisk is DeriveTemp, except that when allowUniqueRisk is
// true a unique original is accepted instead of refused: the operator has
// opted into the documented race between the covering index and
// concurrent writers (spec.md §1, --allow-unique-risk). The covering
// index itself is still built non-unique, exactly as for any other
// index — only the refusal is skipped, since a non-unique covering index
// cannot itself enforce uniqueness before the swap completes.
func DeriveTempWithRisk(original mongoreindex.OriginalIndex, allowUniqueRisk bool) (mongoreindex.TempIndex, error) {
	if original.Name == mongoreindex.IDIndexName {
		return mongoreindex.TempIndex{}, fmt.Errorf("cannot derive a covering index for %s", mongoreindex.IDIndexName)
	}
	if original.Spec.Options.Unique && !allowUniqueRisk {
		return mongoreindex.TempIndex{}, mongoreindex.ErrUniqueRefused
	}
	name := original.Name + mongoreindex.TempIndexSuffix
	opts := original.Spec.Options
	opts.Unique = false
	return mongoreindex.TempIndex{
		Name: name,
		Spec: mongoreindex.IndexSpec{
			Name:    name,
			Keys:    append([]mongoreindex.IndexKey(nil), original.Spec.Keys...),
			Options: opts,
		},
	}, nil
}

// IsReservedName reports whether name ends in the reserved temp-index
// suffix.
func IsReservedName(name string) bool {
	n := len(mongoreindex.TempIndexSuffix)
	return len(name) > n && name[len(name)-n:] == mongoreindex.TempIndexSuffix
}

// OriginalNameFromTemp strips the reserved suffix from a temp index name,
// returning ("", false) if name does not carry it.
func OriginalNameFromTemp(name string) (string, bool) {
	if !IsReservedName(name) {
		return "", false
	}
	n := len(mongoreindex.TempIndexSuffix)
	return name[:len(name)-n], true
}
