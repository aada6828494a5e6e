package local

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/go-connections/nat"

	"github.com/risedev/deployctl/pkg/registry"
)

func natPortMap(assignedPort, internalPort int) nat.PortMap {
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", internalPort))
	return nat.PortMap{
		containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", assignedPort)}},
	}
}

func encodeAuth(creds registry.PullCredentials) string {
	authConfig := types.AuthConfig{Username: creds.User, Password: creds.Password}
	encoded, err := json.Marshal(authConfig)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(encoded)
}
