package ldap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
}

// NewClient creates a new LDAP client with connection pooling.
func NewClient(config *ConnectionConfig) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logDebug("ldap", "creating ldap client", map[string]any{
		"ldap_urls_count": len(config.LDAPURLs),
		"use_tls":         config.UseTLS,
		"max_connections": config.MaxConnections,
	})

	start := time.Now()
	pool, err := NewConnectionPool(config)
	if err != nil {
		logError("ldap", "failed to create connection pool", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	logInfo("ldap", "ldap client created", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"pool_size":   config.MaxConnections,
	})

	return &client{pool: pool, config: config}, nil
}

// Connect tests that the pool can produce a working connection.
func (c *client) Connect(ctx context.Context) error {
	return LogOperation("ldap", "connection_test", nil, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			logError("ldap", "failed to get connection from pool", map[string]any{"error": err.Error()})
			return fmt.Errorf("connection test failed: %w", err)
		}
		defer conn.Close()

		if err := c.ping(ctx, conn); err != nil {
			logError("ldap", "ping test failed", map[string]any{"error": err.Error()})
			return err
		}

		logInfo("ldap", "connection test successful", nil)
		return nil
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Bind authenticates with the LDAP server using explicit credentials.
func (c *client) Bind(ctx context.Context, username, password string) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.withRetry(ctx, func() error {
		return conn.Conn().Bind(username, password)
	})
}

// BindWithConfig performs a simple bind using the client's configured
// service-account credentials.
func (c *client) BindWithConfig(ctx context.Context) error {
	if !c.config.HasAuthentication() {
		logError("ldap", "no authentication configuration available", nil)
		return fmt.Errorf("no authentication configuration available")
	}

	return LogOperation("ldap", "authentication", map[string]any{"username": c.config.Username}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			logError("ldap", "failed to get connection for authentication", map[string]any{"error": err.Error()})
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		return c.withRetry(ctx, func() error {
			return c.authenticateSimple(ctx, conn.Conn())
		})
	})
}

// authenticateSimple performs simple bind authentication.
func (c *client) authenticateSimple(_ context.Context, conn *ldap.Conn) error {
	if c.config.Username == "" {
		return fmt.Errorf("username is required for simple bind authentication")
	}

	fields := map[string]any{"username": c.config.Username}
	logDebug("ldap", "performing simple bind", fields)

	if err := conn.Bind(c.config.Username, c.config.Password); err != nil {
		LogLDAPError("ldap", "simple_bind", err, fields)
		return err
	}

	logDebug("ldap", "simple bind successful", fields)
	return nil
}

// performSearch is a helper that performs a search with consistent logging.
func (c *client) performSearch(_ context.Context, operation string, fields map[string]any, searchFunc func() (*SearchResult, error)) (*SearchResult, error) {
	start := time.Now()
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logDebug("ldap", "starting search operation", fields)

	result, err := searchFunc()
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logError("ldap", "search operation failed", fields)
		return nil, err
	}

	fields["entries_found"] = len(result.Entries)
	logDebug("ldap", "search operation completed", fields)
	return result, nil
}

// Search performs an LDAP search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	searchFields := map[string]any{
		"base_dn": req.BaseDN,
		"scope":   req.Scope.String(),
		"filter":  req.Filter,
	}

	return c.performSearch(ctx, "search", searchFields, func() (*SearchResult, error) {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			req.SizeLimit,
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			nil,
		)

		var result *ldap.SearchResult
		err = c.withRetry(ctx, func() error {
			var searchErr error
			result, searchErr = conn.Conn().Search(ldapReq)
			return searchErr
		})
		if err != nil {
			LogLDAPError("ldap", "search", err, searchFields)
			return nil, fmt.Errorf("search failed: %w", err)
		}

		hasMore := req.SizeLimit > 0 && len(result.Entries) >= req.SizeLimit
		return &SearchResult{Entries: result.Entries, Total: len(result.Entries), HasMore: hasMore}, nil
	})
}

// Add creates a new LDAP entry.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	err = c.withRetry(ctx, func() error {
		return conn.Conn().Add(ldapReq)
	})
	if err != nil {
		LogLDAPError("ldap", "add", err, map[string]any{"dn": req.DN})
	}
	return err
}

// Modify modifies an existing LDAP entry.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}
	for attr, values := range req.DeleteValues {
		ldapReq.Delete(attr, values)
	}

	return c.withRetry(ctx, func() error {
		return conn.Conn().Modify(ldapReq)
	})
}

// Delete removes an LDAP entry.
func (c *client) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	ldapReq := ldap.NewDelRequest(dn, nil)

	err = c.withRetry(ctx, func() error {
		return conn.Conn().Del(ldapReq)
	})
	if err != nil {
		LogLDAPError("ldap", "delete", err, map[string]any{"dn": dn})
	}
	return err
}

// Ping tests connectivity to the LDAP server.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return c.ping(ctx, conn)
}

func (c *client) ping(_ context.Context, conn *PooledConnection) error {
	searchReq := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"namingContexts"},
		nil,
	)

	_, err := conn.Conn().Search(searchReq)
	return err
}

// withRetry executes an operation with exponential-backoff retry.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logDebug("ldap", "retrying operation", map[string]any{"attempt": attempt, "backoff_ms": backoff.Milliseconds()})
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	logError("ldap", "operation failed after retries exhausted", map[string]any{"final_error": lastErr.Error()})
	return NewConnectionError("operation failed after retries", false, lastErr)
}

// isRetryableError determines if an error should be retried.
func (c *client) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retryable, ok := err.(RetryableError); ok {
		return retryable.IsRetryable()
	}

	if ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnwillingToPerform) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultOperationsError) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "bind must be completed") {
		return true
	}

	return false
}

