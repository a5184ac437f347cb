package pgdir

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  text        NOT NULL,
	key         text        NOT NULL,
	fields      jsonb       NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS documents_session_code_idx
	ON documents ((fields->>'sessionCode'))
	WHERE fields ? 'sessionCode';
`

// EnsureSchema creates the documents table if it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure directory schema: %w", err)
	}
	return nil
}
