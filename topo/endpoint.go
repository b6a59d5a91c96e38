package topo

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/mongomigrate/mongomigrate/errors"
)

const (
	SchemeMongoDB    = "mongodb://"
	SchemeMongoDBSRV = "mongodb+srv://"
)

// Endpoint is a connection string with the database name derived from its path.
type Endpoint struct {
	// URI is the connection string as given.
	URI string
	// Database is the logical database name.
	Database string
}

// IsValid reports whether the endpoint was produced by [ResolveEndpoint].
func (e Endpoint) IsValid() bool {
	return e.URI != "" && e.Database != ""
}

// String returns the endpoint without credentials or options.
func (e Endpoint) String() string {
	return Redact(e.URI)
}

// ResolveEndpoint validates uri and derives the database name from the last path segment,
// ignoring any query string. It does not touch the network.
func ResolveEndpoint(uri string) (Endpoint, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Endpoint{}, errors.Validation("uri", "connection string is empty")
	}

	var rest string

	switch {
	case strings.HasPrefix(uri, SchemeMongoDB):
		rest = uri[len(SchemeMongoDB):]
	case strings.HasPrefix(uri, SchemeMongoDBSRV):
		rest = uri[len(SchemeMongoDBSRV):]
	default:
		return Endpoint{}, errors.Validation("uri",
			"connection string must start with mongodb:// or mongodb+srv://")
	}

	rest, _, _ = strings.Cut(rest, "?")

	i := strings.LastIndexByte(rest, '/')
	if i < 0 {
		return Endpoint{}, errors.Validation("uri", "connection string has no database name")
	}

	if i == 0 {
		return Endpoint{}, errors.Validation("uri", "connection string has no host")
	}

	name := rest[i+1:]
	if name == "" {
		return Endpoint{}, errors.Validation("uri", "connection string has no database name")
	}

	return Endpoint{URI: uri, Database: name}, nil
}

// Key identifies the deployment and database of e, ignoring credentials and options.
// Hosts compare case-insensitively.
func (e Endpoint) Key() string {
	scheme, rest, _ := strings.Cut(e.URI, "://")
	rest, _, _ = strings.Cut(rest, "?")

	hosts, name := rest, e.Database
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		hosts = rest[:i]
	}

	if i := strings.LastIndexByte(hosts, '@'); i >= 0 {
		hosts = hosts[i+1:]
	}

	return scheme + "://" + strings.ToLower(hosts) + "/" + name
}

// Redact returns "scheme://hosts" for uri, dropping credentials and options.
func Redact(uri string) string {
	cs, err := connstring.Parse(uri)
	if err != nil || cs == nil {
		return "<unparsable uri>"
	}

	rv := cs.Scheme + "://" + strings.Join(cs.Hosts, ",")
	if cs.Database != "" {
		rv += "/" + cs.Database
	}

	return rv
}
