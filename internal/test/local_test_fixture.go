package test

import (
	"os"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// LocalTestFixture runs the docker-compose infrastructure for end-to-end
// tests. Setting SKIP_INFRASTRUCTURE=true reuses containers that are already
// running.
type LocalTestFixture struct {
	compose testcontainers.DockerCompose
}

func NewLocalTestFixture(dockerComposePath string, strategies map[string]wait.Strategy) LocalTestFixture {
	compose := testcontainers.NewLocalDockerCompose(
		[]string{dockerComposePath},
		uuid.New().String(),
	).WithCommand([]string{"up", "-d"})

	for service, strategy := range strategies {
		compose = compose.WaitForService(service, strategy)
	}

	return LocalTestFixture{compose: compose}
}

func skipInfrastructure() bool {
	return os.Getenv("SKIP_INFRASTRUCTURE") == "true"
}

func (f *LocalTestFixture) Start() error {
	if skipInfrastructure() {
		return nil
	}

	return f.compose.Invoke().Error
}

func (f *LocalTestFixture) Stop() error {
	if skipInfrastructure() {
		return nil
	}

	return f.compose.Down().Error
}
