// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// approvalClaims identifies one HITL approval request in a signed
// token, so a caller presenting SubmitDecisionWithToken doesn't need
// to know the engine's internal requestID format.
type approvalClaims struct {
	RequestID  string `json:"request_id"`
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	jwt.RegisteredClaims
}

// signApprovalToken mints an HS256 token over req, valid for ttl.
func signApprovalToken(secret []byte, req ApprovalRequest, ttl time.Duration) (string, error) {
	claims := approvalClaims{
		RequestID:  req.RequestID,
		WorkflowID: req.WorkflowID,
		StepID:     req.StepID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// parseApprovalToken validates tokenString and returns the RequestID
// it authorizes a decision for.
func parseApprovalToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &approvalClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("workflow: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("workflow: invalid approval token: %w", err)
	}
	claims, ok := token.Claims.(*approvalClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("workflow: invalid approval token claims")
	}
	return claims.RequestID, nil
}
