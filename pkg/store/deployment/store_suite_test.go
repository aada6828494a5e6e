package deployment_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDeploymentStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Deployment Store Suite")
}
