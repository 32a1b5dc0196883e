package instance

import "os"

var idEnvVars = []string{"RIDEPAY_INSTANCE_ID", "DYNO", "HOSTNAME"}

// GetID identifies the running process in logs, e.g. which capture worker
// held the lock for a cycle.
func GetID() string {
	for _, key := range idEnvVars {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
