package cyphertranslate

import "testing"

func TestTranslate_NoArgIntrospection(t *testing.T) {
	t.Parallel()
	cases := []string{
		"CALL db.schema()",
		"call db.labels()",
		"CALL db.relationshipTypes( )",
		"CALL db.propertyKeys()",
	}
	for _, c := range cases {
		got := Translate(c)
		if got != "CALL SHOW_TABLES() RETURN *" {
			t.Errorf("Translate(%q) = %q", c, got)
		}
	}
}

func TestTranslate_WithArg(t *testing.T) {
	t.Parallel()
	got := Translate(`CALL db.propertyKeys("Person")`)
	want := "CALL TABLE_INFO(Person) RETURN *"
	if got != want {
		t.Errorf("Translate = %q, want %q", got, want)
	}
}

func TestTranslate_PassesThroughOrdinaryCypher(t *testing.T) {
	t.Parallel()
	cypher := "MATCH (n:Person) RETURN n LIMIT 10"
	if got := Translate(cypher); got != cypher {
		t.Errorf("Translate modified ordinary cypher: %q", got)
	}
}

func TestIsNeo4jIntrospection(t *testing.T) {
	t.Parallel()
	if !IsNeo4jIntrospection("CALL db.schema()") {
		t.Errorf("expected db.schema() to be recognized")
	}
	if IsNeo4jIntrospection("MATCH (n) RETURN n") {
		t.Errorf("expected plain MATCH to not be recognized")
	}
}
