// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package bedrock

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyInvokeErrorDetectsThrottling(t *testing.T) {
	err := classifyInvokeError(fmt.Errorf("operation error Bedrock Runtime: InvokeModel, https response error StatusCode: 429, ThrottlingException: Too many requests"))
	assert.Contains(t, err.Error(), "rate limit")
}

func TestClassifyInvokeErrorWrapsOtherErrors(t *testing.T) {
	err := classifyInvokeError(fmt.Errorf("some other AWS error"))
	assert.Contains(t, err.Error(), "invoke model")
}
