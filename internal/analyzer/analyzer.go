// Package analyzer implements the static, case-insensitive Cypher
// surface-pattern heuristics used for size estimation, strategy selection,
// and disallowed-operation rejection. It never parses Cypher; it pattern
// matches, deliberately, so behavior stays predictable and cheap.
package analyzer

import (
	"regexp"
	"strconv"

	gateway "github.com/cyphergate/cyphergate/internal"
)

var (
	limitLiteralRe = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)
	limitParamRe   = regexp.MustCompile(`(?i)LIMIT\s+\$\w+`)
	countRe        = regexp.MustCompile(`(?i)COUNT\s*\(`)
	aggregationRe  = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MAX|MIN|COLLECT)\s*\(`)
	matchRe        = regexp.MustCompile(`(?i)\bMATCH\b`)
	whereRe        = regexp.MustCompile(`(?i)\bWHERE\b`)
	orderByRe      = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	groupByRe      = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	shortestPathRe = regexp.MustCompile(`(?i)\bshortestPath\s*\(`)
	allPathsRe     = regexp.MustCompile(`(?i)\ballShortestPaths\s*\(`)
	cartesianRe    = regexp.MustCompile(`(?i)\bMATCH\b[^;]*,[^;]*\bMATCH\b`)

	writeRe     = regexp.MustCompile(`(?i)\b(CREATE|MERGE|SET|DELETE|REMOVE)\b`)
	bulkRe      = regexp.MustCompile(`(?i)\b(COPY|LOAD|IMPORT)\b`)
	adminRe     = regexp.MustCompile(`(?i)\b(EXPORT|INSTALL|ATTACH|DETACH\s+DATABASE|CALL\s+dbms\.)\b`)
	schemaDDLRe = regexp.MustCompile(`(?i)\b(CREATE|DROP|ALTER)\s+(TABLE|INDEX|CONSTRAINT|NODE\s+TABLE|REL\s+TABLE)\b`)
)

const (
	smallLimit  = 100
	mediumLimit = 1000
)

// Analyze performs pure, synchronous static analysis of a raw Cypher string.
// It depends only on cypher, per the Analyzer-purity testable property.
func Analyze(cypher string) gateway.QueryAnalysis {
	a := gateway.QueryAnalysis{
		HasAggregation: aggregationRe.MatchString(cypher),
		HasMatch:       matchRe.MatchString(cypher),
		HasWhere:       whereRe.MatchString(cypher),
		HasOrderBy:     orderByRe.MatchString(cypher),
		HasShortestPath: shortestPathRe.MatchString(cypher),
		HasAllPaths:    allPathsRe.MatchString(cypher),
		HasCartesianRisk: cartesianRe.MatchString(cypher),
		IsWrite:        writeRe.MatchString(cypher),
		IsBulk:         bulkRe.MatchString(cypher),
		IsAdmin:        adminRe.MatchString(cypher),
		IsSchemaDDL:    schemaDDLRe.MatchString(cypher),
	}

	a.EstimatedSize, a.HasLimit, a.LimitValue = estimateSize(cypher, a.HasAggregation)
	a.IsCountOnly = countRe.MatchString(cypher) && !groupByRe.MatchString(cypher) && !a.HasLimit
	a.PotentiallyExpensive = a.HasCartesianRisk || (a.HasAllPaths) || (a.EstimatedSize == gateway.SizeLarge && !a.HasAggregation)
	a.RequiresStreaming = a.EstimatedSize == gateway.SizeLarge && !a.HasAggregation
	a.SupportsProgress = a.HasMatch && !a.HasAggregation

	return a
}

func estimateSize(cypher string, hasAggregation bool) (gateway.EstimatedSize, bool, *int) {
	if m := limitLiteralRe.FindStringSubmatch(cypher); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			switch {
			case n <= smallLimit:
				return gateway.SizeSmall, true, &n
			case n <= mediumLimit:
				return gateway.SizeMedium, true, &n
			default:
				return gateway.SizeLarge, true, &n
			}
		}
	}
	if limitParamRe.MatchString(cypher) {
		return gateway.SizeMedium, true, nil
	}
	if countRe.MatchString(cypher) && !groupByRe.MatchString(cypher) {
		return gateway.SizeSmall, false, nil
	}
	return gateway.SizeLarge, false, nil
}

// RejectionReason names why a query is disallowed on the query endpoint, or
// nil if it is allowed. The more specific bulk/admin/DDL reasons take
// precedence over the generic write reason.
func RejectionReason(a gateway.QueryAnalysis) error {
	switch {
	case a.IsBulk:
		return gateway.ErrBulkRejected
	case a.IsAdmin:
		return gateway.ErrAdminRejected
	case a.IsSchemaDDL:
		return gateway.ErrSchemaDDLRejected
	case a.IsWrite:
		return gateway.ErrWriteRejected
	default:
		return nil
	}
}
