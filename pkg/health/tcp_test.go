package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTCPCheckerHealthyOnListeningPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	defer ln.Close()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())

	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeTCP, checker.Type())
}

func TestTCPCheckerUnhealthyOnClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	checker := NewTCPChecker(addr)
	result := checker.Check(context.Background())

	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Message)
}

func TestTCPCheckerDefaultsToMySQLPort(t *testing.T) {
	checker := NewTCPChecker("10.0.1.4")
	assert.Equal(t, "10.0.1.4:3306", checker.Address)
}

func TestTCPCheckerWithTimeoutOverridesDefault(t *testing.T) {
	checker := NewTCPChecker("10.0.1.4").WithTimeout(2 * time.Second)
	assert.Equal(t, 2*time.Second, checker.Timeout)
}
