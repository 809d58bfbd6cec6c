package database

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Neo4jDatabase struct {
	Driver neo4j.DriverWithContext
}

func NewNeo4jDatabase(ctx context.Context, uri, username, password string) (*Neo4jDatabase, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connection: %w", err)
	}

	return &Neo4jDatabase{Driver: driver}, nil
}

func (db *Neo4jDatabase) Close(ctx context.Context) error {
	return db.Driver.Close(ctx)
}

// ExecuteCypherFile runs every statement of a .cypher file in one write
// transaction.
func (db *Neo4jDatabase) ExecuteCypherFile(ctx context.Context, filePath string) error {
	cypher, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading cypher file: %w", err)
	}
	statements := SplitStatements(string(cypher))
	if len(statements) == 0 {
		return nil
	}

	session := db.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, stmt := range statements {
			if _, err := tx.Run(ctx, stmt, nil); err != nil {
				return nil, fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("error executing %s: %w", filePath, err)
	}
	return nil
}

// SplitStatements splits a cypher script on semicolons, dropping blank
// statements and whole-line // comments.
func SplitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		lines = append(lines, line)
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
