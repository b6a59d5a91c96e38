package config

import "time"

const (
	// DefaultServerPort is the default port for the HTTP server.
	DefaultServerPort = 3000

	// DefaultMode is the migration mode used when none is given.
	DefaultMode = "complete"

	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultConnectTimeout         = 10 * time.Second
	DefaultOperationTimeout       = 45 * time.Second

	// DisconnectTimeout bounds releasing a connection.
	DisconnectTimeout = 5 * time.Second
)

// ServerSelectionTimeoutOrDefault returns the server selection timeout,
// or [DefaultServerSelectionTimeout] if unset.
func (c *MongoDBConfig) ServerSelectionTimeoutOrDefault() time.Duration {
	return orDefault(c.ServerSelectionTimeout, DefaultServerSelectionTimeout)
}

// ConnectTimeoutOrDefault returns the connect timeout, or [DefaultConnectTimeout] if unset.
func (c *MongoDBConfig) ConnectTimeoutOrDefault() time.Duration {
	return orDefault(c.ConnectTimeout, DefaultConnectTimeout)
}

// OperationTimeoutOrDefault returns the per-operation timeout,
// or [DefaultOperationTimeout] if unset.
func (c *MongoDBConfig) OperationTimeoutOrDefault() time.Duration {
	return orDefault(c.OperationTimeout, DefaultOperationTimeout)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}

	return d
}
