package types

// Version is the application version, overridden at build time via ldflags
var Version = "0.1.0"

// MappingID identifies a repository mapping
type MappingID string

// SessionID identifies a page-lifetime scanning session
type SessionID string

func (x MappingID) String() string { return string(x) }
func (x SessionID) String() string { return string(x) }
