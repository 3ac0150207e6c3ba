package redis

// All tracker keys share one prefix.
const keyPrefix = "scaleout:tracker:"

const (
	doneKey      = keyPrefix + "done"
	availableKey = keyPrefix + "available"
	workersKey   = keyPrefix + "workers"
	disabledKey  = keyPrefix + "disabled"
	replicateKey = keyPrefix + "replicate"
	currentKey   = keyPrefix + "current"
	updatesKey   = keyPrefix + "updates"
)

// jobKey returns the key holding a worker's job: scaleout:tracker:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }
