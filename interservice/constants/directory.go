package constant

const (
	// DirectoryStatusPassing is the external directory's vocabulary for a
	// healthy instance.
	DirectoryStatusPassing = "passing"
	// DirectoryStatusWarning is the external directory's vocabulary for a
	// degraded instance.
	DirectoryStatusWarning = "warning"
	// DirectoryStatusCritical is the external directory's vocabulary for an
	// unhealthy instance.
	DirectoryStatusCritical = "critical"
)
