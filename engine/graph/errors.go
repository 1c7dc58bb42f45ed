package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/graphbulk/engine/domain"
	"github.com/WessleyAI/graphbulk/pkg/repo"
	"github.com/WessleyAI/graphbulk/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// throttleBackoff is the retry hint for transient server errors, which carry
// none of their own.
const throttleBackoff = 500 * time.Millisecond

// classify maps a driver error onto the domain taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsRetryable(err) || domain.IsFatal(err) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &domain.TransientNetworkError{Op: op, Err: err}
	}
	var ne *neo4j.Neo4jError
	if errors.As(err, &ne) {
		switch {
		case strings.HasPrefix(ne.Code, "Neo.TransientError."):
			return &domain.ThrottledError{RetryAfter: throttleBackoff}
		case ne.Code == "Neo.ClientError.Database.DatabaseNotFound",
			strings.HasPrefix(ne.Code, "Neo.ClientError.Security."):
			return &domain.FatalConfigurationError{Resource: "neo4j database", Err: err}
		}
		return fmt.Errorf("graph: %s: %w", op, err)
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientNetworkError{Op: op, Err: err}
	}
	return fmt.Errorf("graph: %s: %w", op, err)
}

// tripsBreaker counts only failures that point at the server being
// unavailable.
func tripsBreaker(err error) bool {
	var te *domain.TransientNetworkError
	return errors.As(classify("", err), &te)
}

func isNoRecord(err error) bool {
	return errors.Is(err, repo.ErrNoRecord)
}
