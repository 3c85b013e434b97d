package main

import (
	"context"
	"errors"
	"testing"

	"chatflow-access-api/internal/observability/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSweeps(t *testing.T) {
	var ran []string
	step := func(name string, n int64, err error) func(context.Context) (int64, error) {
		return func(context.Context) (int64, error) {
			ran = append(ran, name)
			return n, err
		}
	}

	counts, err := runSweeps(context.Background(), logger.Nop(), []sweep{
		{name: "admin_expiry", run: step("admin_expiry", 0, errors.New("relation does not exist"))},
		{name: "idempotency_keys", run: step("idempotency_keys", 7, nil)},
		{name: "skipped", skip: true, run: step("skipped", 1, nil)},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin_expiry: relation does not exist")
	assert.Equal(t, []string{"admin_expiry", "idempotency_keys"}, ran, "a failed sweep does not stop the next")
	assert.Equal(t, map[string]int64{"idempotency_keys": 7}, counts)
}

func TestRunSweeps_AllSucceed(t *testing.T) {
	counts, err := runSweeps(context.Background(), logger.Nop(), []sweep{
		{name: "admin_expiry", run: func(context.Context) (int64, error) { return 2, nil }},
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["admin_expiry"])
}
