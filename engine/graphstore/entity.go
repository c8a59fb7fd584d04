package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func entityToMap(e domain.Entity) map[string]any {
	return map[string]any{
		"uuid":       e.UUID,
		"name":       e.Name,
		"type":       e.Type,
		"attributes": toJSON(e.Attributes),
		"created_at": e.CreatedAt.Format(rfc3339),
		"user_id":    e.UserID,
		"space":      e.Space,
	}
}

func entityFromProps(props map[string]any) domain.Entity {
	return domain.Entity{
		UUID:       strProp(props, "uuid"),
		Name:       strProp(props, "name"),
		Type:       strProp(props, "type"),
		Attributes: mapStringStringProp(props, "attributes"),
		CreatedAt:  timeProp(props, "created_at"),
		UserID:     strProp(props, "user_id"),
		Space:      strProp(props, "space"),
	}
}

// SaveEntity idempotently creates or updates an Entity node.
func (s *Store) SaveEntity(ctx context.Context, e domain.Entity) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Entity {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": e.UUID, "props": entityToMap(e)})
	return err
}

// GetEntitiesByIDs hydrates a set of Entity nodes, e.g. after a vectorstore
// similarity search returns bare IDs.
func (s *Store) GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity) WHERE n.uuid IN $ids RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	var out []domain.Entity
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		out = append(out, entityFromProps(node.Props))
	}
	return out, nil
}

// FindExactPredicateMatches finds Predicate-typed entities with an
// exact case-insensitive name match within the user (spec §4.1/§4.7:
// "identical predicate names must be treated as duplicates regardless
// of context").
func (s *Store) FindExactPredicateMatches(ctx context.Context, predicateName, userID string) ([]domain.Entity, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Entity {type: 'Predicate', user_id: $userID})
		WHERE toLower(n.name) = toLower($name)
		RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"userID": userID, "name": predicateName})
	if err != nil {
		return nil, err
	}
	var out []domain.Entity
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		out = append(out, entityFromProps(node.Props))
	}
	return out, nil
}
