package config

import "os"

func IsDebug() bool {
	return os.Getenv("ASKMILL_DEBUG") == "1"
}
