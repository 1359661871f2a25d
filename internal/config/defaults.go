package config

// Default configuration values.
const (
	DefaultHandshakeTime = 5
	DefaultServerPort    = 15007
	DefaultHomePath      = "/var/spool/failoverd"
)
