package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConstants(t *testing.T) {
	assert.Equal(t, "agent-gateway", AppName)
	assert.Equal(t, "agent-gateway", CommandName)
	assert.Equal(t, "agent-gateway.yaml", AgentGatewayYaml)
}
