// Package scope holds the access decision predicates. Scope membership and
// filter intersection are independent axes; callers compose them and must
// not merge them into a single check.
package scope

// Scopes recognized by the invite system.
const (
	RegisterInvite    = "register-invite"
	ViewInvite        = "view-invite"
	UserList          = "user-list"
	ApplicationsWrite = "applications:write"
	ApplicationsRead  = "applications:read"
)

// Has reports whether the verified claim scopes contain the required scope.
// Exact membership only; no prefix or wildcard matching.
func Has(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

// FilterIntersects decides whether a request's filter set is reachable by a
// token. A token carrying no filters is unrestricted: every request passes
// once scope is satisfied. A token carrying filters passes only when the
// requested set shares at least one element with it.
func FilterIntersects(tokenFilters, requestedFilters []string) bool {
	if len(tokenFilters) == 0 {
		return true
	}
	for _, requested := range requestedFilters {
		for _, held := range tokenFilters {
			if requested == held {
				return true
			}
		}
	}
	return false
}

// CanViewRecord decides read visibility of a single record. Unlike
// FilterIntersects this rule is asymmetric: a record created under a filter
// restriction is never visible to a token that carries no filters, so an
// unrestricted viewer token cannot see into narrowly scoped records it was
// not issued for.
func CanViewRecord(tokenFilters, recordFilters []string) bool {
	if len(recordFilters) == 0 {
		return true
	}
	if len(tokenFilters) == 0 {
		return false
	}
	return FilterIntersects(tokenFilters, recordFilters)
}
