// Package cyphertranslate rewrites Neo4j-dialect catalog introspection
// calls into the engine's native dialect, so clients written against
// Neo4j's `db.*()` procedures work unmodified against the gateway.
package cyphertranslate

import "regexp"

// dbProcedures is the closed set of Neo4j introspection procedures the
// gateway recognizes.
var dbProcedures = []string{
	"schema", "labels", "relationships", "relationshipTypes", "propertyKeys", "indexes", "constraints",
}

var (
	noArgPattern   = buildNoArgPattern()
	withArgPattern = regexp.MustCompile(`(?i)CALL\s+db\.(schema|labels|relationships|relationshipTypes|propertyKeys|indexes|constraints)\s*\(\s*["']([^"']+)["']\s*\)`)
)

func buildNoArgPattern() *regexp.Regexp {
	pattern := `(?i)CALL\s+db\.(?:`
	for i, p := range dbProcedures {
		if i > 0 {
			pattern += "|"
		}
		pattern += p
	}
	pattern += `)\s*\(\s*\)`
	return regexp.MustCompile(pattern)
}

// Translate rewrites any Neo4j db.*() introspection calls in cypher into
// their native equivalents. Queries with no recognized call pass through
// unchanged. Rewrite behavior is intentionally opaque to callers: the
// gateway never surfaces whether a translation occurred.
func Translate(cypher string) string {
	cypher = withArgPattern.ReplaceAllString(cypher, `CALL TABLE_INFO($2) RETURN *`)
	cypher = noArgPattern.ReplaceAllString(cypher, `CALL SHOW_TABLES() RETURN *`)
	return cypher
}

// IsNeo4jIntrospection reports whether cypher contains a recognized Neo4j
// db.*() introspection call, before translation.
func IsNeo4jIntrospection(cypher string) bool {
	return noArgPattern.MatchString(cypher) || withArgPattern.MatchString(cypher)
}
