package offload

import "runtime"

const (
	DriverFilesystem = "filesystem"
	DriverNone       = "none"
)

// Policies configure an offloader. Field tags match the configuration keys.
type Policies struct {
	Driver                string `mapstructure:"driver"`
	MaxThreads            int    `mapstructure:"max-threads"`
	PrefetchRounds        int    `mapstructure:"prefetch-rounds"`
	SchedulerThreads      int    `mapstructure:"scheduler-threads"`
	FileSystemURI         string `mapstructure:"fs-uri"`
	FileSystemProfilePath string `mapstructure:"fs-profile-path"`
	Codec                 string `mapstructure:"codec"`
}

func DefaultPolicies() Policies {
	return Policies{
		Driver:           DriverFilesystem,
		MaxThreads:       2,
		PrefetchRounds:   1,
		SchedulerThreads: runtime.NumCPU(),
		FileSystemURI:    "mem://",
		Codec:            "none",
	}
}
