package docker

import "errors"

// ErrNotInitialized indicates the runner was built without a docker client.
var ErrNotInitialized = errors.New("docker: client not initialized")
