package graph

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/graphbulk/engine/bulk"
)

// elementLabel is carried by every vertex node next to its own label.
const elementLabel = "Element"

// Row statuses returned by the write queries.
const (
	statusOK       = "ok"
	statusConflict = "conflict"
	statusMissing  = "missing"
	statusNotFound = "notfound"
)

// quoteIdent backtick-quotes a label or property name.
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
// The label as given is kept in the label property.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// cypher renders the statements for one partition key property.
type cypher struct {
	pk string
}

func newCypher(pkProperty string) cypher {
	return cypher{pk: quoteIdent(pkProperty)}
}

func (c cypher) vertexInsert(label string) string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (x:%[3]s {%[1]s: row.pk, id: row.id})
FOREACH (_ IN CASE WHEN x IS NULL THEN [1] ELSE [] END |
  CREATE (n:%[3]s:%[2]s) SET n = row.props)
RETURN row.i AS i, CASE WHEN x IS NULL THEN '%[4]s' ELSE '%[5]s' END AS status`,
		c.pk, quoteIdent(label), elementLabel, statusOK, statusConflict)
}

func (c cypher) vertexUpsert(label string) string {
	return fmt.Sprintf(`UNWIND $rows AS row
MERGE (n:%[3]s {%[1]s: row.pk, id: row.id})
SET n = row.props, n:%[2]s
RETURN row.i AS i, '%[4]s' AS status`,
		c.pk, quoteIdent(label), elementLabel, statusOK)
}

func (c cypher) edgeInsert(label string) string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (a:%[3]s {%[1]s: row.out_pk, id: row.out_id})
OPTIONAL MATCH (b:%[3]s {%[1]s: row.in_pk, id: row.in_id})
OPTIONAL MATCH (:%[3]s)-[x {%[1]s: row.pk, id: row.id}]->(:%[3]s)
FOREACH (_ IN CASE WHEN a IS NOT NULL AND b IS NOT NULL AND x IS NULL THEN [1] ELSE [] END |
  CREATE (a)-[r:%[2]s]->(b) SET r = row.props)
RETURN row.i AS i, CASE WHEN a IS NULL OR b IS NULL THEN '%[5]s' WHEN x IS NOT NULL THEN '%[6]s' ELSE '%[4]s' END AS status`,
		c.pk, sanitizeRelType(label), elementLabel, statusOK, statusMissing, statusConflict)
}

func (c cypher) edgeUpsert(label string) string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (a:%[3]s {%[1]s: row.out_pk, id: row.out_id})
OPTIONAL MATCH (b:%[3]s {%[1]s: row.in_pk, id: row.in_id})
FOREACH (_ IN CASE WHEN a IS NOT NULL AND b IS NOT NULL THEN [1] ELSE [] END |
  MERGE (a)-[r:%[2]s {%[1]s: row.pk, id: row.id}]->(b) SET r = row.props)
RETURN row.i AS i, CASE WHEN a IS NULL OR b IS NULL THEN '%[5]s' ELSE '%[4]s' END AS status`,
		c.pk, sanitizeRelType(label), elementLabel, statusOK, statusMissing)
}

func (c cypher) vertexPatch() string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (n:%[2]s {%[1]s: row.pk, id: row.id})
FOREACH (_ IN CASE WHEN n IS NULL THEN [] ELSE [1] END | SET n += row.props)
RETURN row.i AS i, CASE WHEN n IS NULL THEN '%[4]s' ELSE '%[3]s' END AS status`,
		c.pk, elementLabel, statusOK, statusNotFound)
}

func (c cypher) edgePatch() string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (:%[2]s)-[r {%[1]s: row.pk, id: row.id}]->(:%[2]s)
FOREACH (_ IN CASE WHEN r IS NULL THEN [] ELSE [1] END | SET r += row.props)
RETURN row.i AS i, CASE WHEN r IS NULL THEN '%[4]s' ELSE '%[3]s' END AS status`,
		c.pk, elementLabel, statusOK, statusNotFound)
}

func (c cypher) vertexDelete() string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (n:%[2]s {%[1]s: row.pk, id: row.id})
DETACH DELETE n
RETURN row.i AS i, '%[3]s' AS status`,
		c.pk, elementLabel, statusOK)
}

func (c cypher) edgeDelete() string {
	return fmt.Sprintf(`UNWIND $rows AS row
OPTIONAL MATCH (:%[2]s)-[r {%[1]s: row.pk, id: row.id}]->(:%[2]s)
DELETE r
RETURN row.i AS i, '%[3]s' AS status`,
		c.pk, elementLabel, statusOK)
}

func (c cypher) vertexQuery() string {
	return fmt.Sprintf(`MATCH (n:%[2]s)
WHERE $label = '' OR n.label = $label
RETURN n.id AS id, n.label AS label, n.%[1]s AS pk
ORDER BY pk, id SKIP $skip LIMIT $limit`,
		c.pk, elementLabel)
}

// edgeQuery anchors SourceVertexID at the out vertex, the in vertex or
// either, following the filter's direction.
func (c cypher) edgeQuery(d bulk.Direction) string {
	out := "(($src = '' OR a.id = $src) AND ($dst = '' OR b.id = $dst))"
	in := "(($src = '' OR b.id = $src) AND ($dst = '' OR a.id = $dst))"
	var anchor string
	switch d {
	case bulk.Out:
		anchor = out
	case bulk.In:
		anchor = in
	default:
		anchor = "(" + out + " OR " + in + ")"
	}
	return fmt.Sprintf(`MATCH (a:%[2]s)-[r]->(b:%[2]s)
WHERE ($label = '' OR r.label = $label)
  AND ($out_pk = '' OR a.%[1]s = $out_pk)
  AND ($in_pk = '' OR b.%[1]s = $in_pk)
  AND %[3]s
RETURN r.id AS id, r.label AS label, r.%[1]s AS pk
ORDER BY pk, id SKIP $skip LIMIT $limit`,
		c.pk, elementLabel, anchor)
}

func (c cypher) ensureIndex() string {
	return fmt.Sprintf("CREATE INDEX element_key IF NOT EXISTS FOR (n:%s) ON (n.%s, n.id)", elementLabel, c.pk)
}

const (
	collectionQuery = `MATCH (c:Collection {name: $name})
RETURN c.throughput AS throughput, c.partitions AS partitions`

	collectionMerge = `MERGE (c:Collection {name: $name})
SET c.throughput = $throughput, c.partitions = $partitions`

	nodeCountsQuery = `MATCH (n:Element) RETURN n.label AS type, count(*) AS count`
	relCountsQuery  = `MATCH (:Element)-[r]->(:Element) RETURN r.label AS type, count(*) AS count`
)
