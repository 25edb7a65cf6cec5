// Package tableconf loads the YAML document that declares which database
// tables are exposed and how.
package tableconf

import "time"

// Document is a validated configuration with every default applied.
type Document struct {
	Database       Database       `json:"database"`
	Swagger        Swagger        `json:"swagger"`
	Authentication Authentication `json:"-"`
	Cache          Cache          `json:"-"`
	Tables         []Table        `json:"tables"`
}

type Database struct {
	URL         string `json:"-"`
	AutoMigrate bool   `json:"auto_migrate"`
}

type Swagger struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type JWT struct {
	SecretKey string
	Algorithm string
}

type OAuth2 struct {
	ClientID     string
	ClientSecret string
	UserInfoURL  string
	TokenURL     string
	AuthURL      string
}

// Authentication holds the global providers; nil means not configured.
type Authentication struct {
	JWT    *JWT
	OAuth2 *OAuth2
}

// Configured reports whether any provider is declared.
func (a Authentication) Configured() bool { return a.JWT != nil || a.OAuth2 != nil }

const (
	ProviderJWT    = "jwt"
	ProviderOAuth2 = "oauth2"
)

// Provider names the provider that authenticates requests. A JWT block with
// a secret wins; otherwise an OAuth2 block is used; an incomplete JWT block
// is still reported so its missing secret surfaces.
func (a Authentication) Provider() string {
	switch {
	case a.JWT != nil && a.JWT.SecretKey != "":
		return ProviderJWT
	case a.OAuth2 != nil:
		return ProviderOAuth2
	case a.JWT != nil:
		return ProviderJWT
	}
	return ""
}

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Cache struct {
	Backend   string
	URL       string
	Prefix    string
	TTL       time.Duration
	SizeBytes int
}

type Pagination struct {
	Enabled         bool `json:"enabled"`
	DefaultPageSize int  `json:"default_page_size"`
	MaxPageSize     int  `json:"max_page_size"`
}

type Features struct {
	Pagination Pagination `json:"pagination"`
	Filtering  bool       `json:"filtering"`
	Sorting    bool       `json:"sorting"`
	Caching    bool       `json:"caching"`
	GraphQL    bool       `json:"graphql"`
	WebSocket  bool       `json:"websocket"`
	// Depth is "shallow" or "deep".
	Depth string `json:"relationship_depth"`
}

type TableAuth struct {
	Required bool     `json:"required"`
	Roles    []string `json:"roles"`
}

type Relationship struct {
	Name         string `json:"name"`
	Column       string `json:"column"`
	Target       string `json:"target"`
	TargetColumn string `json:"target_column"`
	Cardinality  string `json:"cardinality"`
}

// Column declares a column for tables that are not reflected from the
// database. Type is one of integer, float, boolean, string, json, timestamp.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Nullable      bool   `json:"nullable"`
	PrimaryKey    bool   `json:"primary_key"`
	AutoIncrement bool   `json:"auto_increment"`
	Default       string `json:"default,omitempty"`
}

type Table struct {
	Name string `json:"name"`
	// Columns is empty when the table is reflected from the database.
	Columns        []Column            `json:"columns,omitempty"`
	Methods        []string            `json:"methods"`
	Permissions    map[string][]string `json:"permissions,omitempty"`
	Authentication TableAuth           `json:"authentication"`
	Features       Features            `json:"features"`
	Relationships  []Relationship      `json:"relationships,omitempty"`
}
